package staging

import (
	"archive/tar"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/errors"
)

const blockSize = 512

// Member 暂存包中的一个成员
type Member struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// layout 扫描结果
type layout struct {
	root    string
	members []Member
	// dataEnd 最后一个成员数据（含填充）结束的位置，新成员从这里写入
	dataEnd int64
}

// scan 顺序读取 tar 头，记录成员与末尾偏移
func scan(f *os.File) (*layout, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	tr := tar.NewReader(f)
	lay := &layout{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read staging header")
		}
		start, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, err
		}
		lay.dataEnd = start + padded(hdr.Size)
		lay.members = append(lay.members, Member{Name: hdr.Name, Size: hdr.Size})
		if lay.root == "" {
			lay.root = path.Dir(hdr.Name)
		}
	}
	if len(lay.members) == 0 {
		return nil, errors.New("staging artifact has no members")
	}
	return lay, nil
}

func padded(size int64) int64 {
	if rem := size % blockSize; rem != 0 {
		return size + blockSize - rem
	}
	return size
}

// writeMember 在 w 中写入一个成员，数据来自 src
func writeMember(tw *tar.Writer, name string, size int64, src io.Reader) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     size,
		Mode:     0o644,
		ModTime:  time.Now().UTC().Truncate(time.Second),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return errors.Wrapf(err, "write header %s", name)
	}
	if _, err := io.Copy(tw, src); err != nil {
		return errors.Wrapf(err, "write member %s", name)
	}
	return nil
}

// appendMember 将 src 追加为新成员
// 任何写入失败都会把文件恢复为调用前的字节内容
func appendMember(f *os.File, lay *layout, name string, size int64, src io.Reader) (err error) {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	origSize := info.Size()
	trailer := make([]byte, origSize-lay.dataEnd)
	if _, err := f.ReadAt(trailer, lay.dataEnd); err != nil && err != io.EOF {
		return errors.Wrap(err, "read staging trailer")
	}

	defer func() {
		if err == nil {
			return
		}
		if terr := f.Truncate(lay.dataEnd); terr != nil {
			err = errors.Wrapf(err, "restore failed (%v)", terr)
			return
		}
		if _, werr := f.WriteAt(trailer, lay.dataEnd); werr != nil {
			err = errors.Wrapf(err, "restore failed (%v)", werr)
		}
	}()

	if _, err = f.Seek(lay.dataEnd, io.SeekStart); err != nil {
		return err
	}
	tw := tar.NewWriter(f)
	if err = writeMember(tw, path.Join(lay.root, name), size, src); err != nil {
		return err
	}
	if err = tw.Close(); err != nil {
		return errors.Wrap(err, "close staging writer")
	}
	return f.Sync()
}
