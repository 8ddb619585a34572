// Package staging 增量上传的暂存包
//
// 每个上传 id 对应 upload_path 下的一个 tar 文件，所有成员位于同一个根目录
// (arcname) 下。成员内容先写入临时文件并校验摘要，通过后才会改动暂存包；
// 同一 id 的追加与完成操作通过 Locker 串行化。
package staging

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"terminal-terrace/sdm/internal/integrity"
	"terminal-terrace/sdm/packages/response"
)

// State 上传会话状态
type State string

const (
	StateCreated   State = "created"
	StateAppending State = "appending"
	StateCompleted State = "completed"
)

// Session 暂存包当前状态
type Session struct {
	ID      string   `json:"id"`
	Path    string   `json:"-"`
	Root    string   `json:"root"`
	Members []Member `json:"members"`
	State   State    `json:"state"`
}

// Options Store 配置
type Options struct {
	// Dir 暂存包目录，为空时所有操作返回 ConfigurationError
	Dir string
	// ScratchDir 校验用临时目录，为空时使用系统临时目录
	ScratchDir string
	Digest     integrity.Algorithm
	Locker     Locker
	Log        logrus.FieldLogger
}

type Store struct {
	dir     string
	scratch string
	digest  integrity.Algorithm
	locker  Locker
	log     logrus.FieldLogger
}

func NewStore(opts Options) *Store {
	if opts.Digest == "" {
		opts.Digest = integrity.SHA1
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Locker == nil {
		opts.Locker = NewFileLocker(opts.Dir, LockOptions{}, opts.Log)
	}
	return &Store{
		dir:     opts.Dir,
		scratch: opts.ScratchDir,
		digest:  opts.Digest,
		locker:  opts.Locker,
		log:     opts.Log,
	}
}

// Digest 校验所用算法
func (s *Store) Digest() integrity.Algorithm {
	return s.digest
}

func (s *Store) artifactPath(id string) string {
	return filepath.Join(s.dir, id+".tar")
}

func (s *Store) ready() error {
	if s.dir == "" {
		return response.Configuration("upload_path is not configured")
	}
	return nil
}

// Create 新建暂存包，第一个成员为 name
// 摘要校验失败时不会留下任何文件
func (s *Store) Create(ctx context.Context, name string, content io.Reader, declared, arcname string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if err := ValidateName(arcname); err != nil {
		return "", response.Validation("invalid archive directory name %q", arcname)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create upload dir")
	}

	spool, size, err := s.spool(content, declared)
	if err != nil {
		return "", err
	}
	defer removeSpool(spool)

	id := uuid.NewString()
	dst := s.artifactPath(id)
	pf, err := renameio.TempFile(s.dir, dst)
	if err != nil {
		return "", errors.Wrap(err, "create staging artifact")
	}
	defer pf.Cleanup()

	tw := tar.NewWriter(pf)
	if err := writeMember(tw, path.Join(arcname, name), size, spool); err != nil {
		return "", err
	}
	if err := tw.Close(); err != nil {
		return "", errors.Wrap(err, "close staging writer")
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return "", errors.Wrap(err, "publish staging artifact")
	}

	s.log.WithFields(logrus.Fields{"upload_id": id, "arcname": arcname, "size": size}).Debug("创建暂存包")
	return id, nil
}

// Append 追加成员，摘要不一致时暂存包保持不变
func (s *Store) Append(ctx context.Context, id, name string, content io.Reader, declared string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := s.exists(id); err != nil {
		return err
	}

	lease, err := s.locker.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer s.release(id, lease)

	// 等锁期间可能已被完成
	if err := s.exists(id); err != nil {
		return err
	}

	spool, size, err := s.spool(content, declared)
	if err != nil {
		return err
	}
	defer removeSpool(spool)

	f, err := os.OpenFile(s.artifactPath(id), os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "open staging artifact")
	}
	defer f.Close()

	lay, err := scan(f)
	if err != nil {
		return err
	}
	if err := appendMember(f, lay, name, size, spool); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{"upload_id": id, "member": name, "size": size}).Debug("追加暂存成员")
	return nil
}

// Finalize 在持锁状态下把暂存包路径交给 fn
// fn 负责转换与删除暂存包，返回的错误原样传出
func (s *Store) Finalize(ctx context.Context, id string, fn func(artifactPath string) error) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.exists(id); err != nil {
		return err
	}

	lease, err := s.locker.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer s.release(id, lease)

	if err := s.exists(id); err != nil {
		return err
	}
	return fn(s.artifactPath(id))
}

// Stat 读取暂存包成员列表
func (s *Store) Stat(ctx context.Context, id string) (*Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := s.exists(id); err != nil {
		return nil, err
	}

	lease, err := s.locker.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer s.release(id, lease)

	f, err := os.Open(s.artifactPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, response.NotFoundf("no such upload %s", id)
		}
		return nil, errors.Wrap(err, "open staging artifact")
	}
	defer f.Close()

	lay, err := scan(f)
	if err != nil {
		return nil, err
	}
	state := StateAppending
	if len(lay.members) == 1 {
		state = StateCreated
	}
	return &Session{
		ID:      id,
		Path:    f.Name(),
		Root:    lay.root,
		Members: lay.members,
		State:   state,
	}, nil
}

// ReadMember 读取根目录下名为 name 的成员，最多 limit 字节
func (s *Store) ReadMember(ctx context.Context, id, name string, limit int64) ([]byte, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := s.exists(id); err != nil {
		return nil, err
	}

	lease, err := s.locker.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer s.release(id, lease)

	f, err := os.Open(s.artifactPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, response.NotFoundf("no such upload %s", id)
		}
		return nil, errors.Wrap(err, "open staging artifact")
	}
	defer f.Close()

	lay, err := scan(f)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "rewind staging artifact")
	}
	want := path.Join(lay.root, name)
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, response.NotFoundf("no member %s in upload %s", name, id)
		}
		if err != nil {
			return nil, errors.Wrap(err, "read staging artifact")
		}
		if hdr.Name != want {
			continue
		}
		if hdr.Size > limit {
			return nil, response.Validation("member %s exceeds %d bytes", name, limit)
		}
		data, err := io.ReadAll(tr)
		return data, errors.Wrapf(err, "read member %s", name)
	}
}

// Remove 删除暂存包，调用方需已持有锁（Finalize 回调内）
func (s *Store) Remove(artifactPath string) error {
	if err := os.Remove(artifactPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove staging artifact")
	}
	return nil
}

func (s *Store) exists(id string) error {
	if err := ValidateName(id); err != nil {
		return response.NotFoundf("no such upload %s", id)
	}
	if _, err := os.Stat(s.artifactPath(id)); err != nil {
		if os.IsNotExist(err) {
			return response.NotFoundf("no such upload %s", id)
		}
		return errors.Wrap(err, "stat staging artifact")
	}
	return nil
}

func (s *Store) release(id string, lease Lease) {
	if err := lease.Release(); err != nil {
		s.log.WithError(err).WithField("upload_id", id).Warn("释放暂存锁失败")
	}
}

// spool 将内容写入临时文件并校验摘要
// 返回的文件已定位到开头
func (s *Store) spool(content io.Reader, declared string) (*os.File, int64, error) {
	f, err := os.CreateTemp(s.scratch, ".spool-*")
	if err != nil {
		return nil, 0, errors.Wrap(err, "create scratch file")
	}
	size, err := s.digest.Verify(f, content, declared)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		removeSpool(f)
		return nil, 0, err
	}
	return f, size, nil
}

func removeSpool(f *os.File) {
	f.Close()
	os.Remove(f.Name())
}

// ValidateName 成员名只能是单层文件名
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return response.Validation("invalid file name %q", name)
	}
	return nil
}
