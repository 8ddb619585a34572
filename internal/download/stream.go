package download

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"terminal-terrace/sdm/internal/model/ticket"
)

// Assembler 把目标列表按顺序写成 zip 流
// 任意时刻只打开一个源文件；超过 4 GiB 时自动使用 zip64
type Assembler struct {
	compress bool
	log      logrus.FieldLogger
}

func NewAssembler(compress bool, log logrus.FieldLogger) *Assembler {
	return &Assembler{compress: compress, log: log}
}

// Stream 写出全部条目，ctx 取消后立即停止
// 抓取时已被删除的文件会被跳过
func (a *Assembler) Stream(ctx context.Context, w io.Writer, targets []ticket.Target) error {
	zw := zip.NewWriter(w)
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.writeEntry(zw, t); err != nil {
			return err
		}
	}
	return errors.Wrap(zw.Close(), "finish archive")
}

func (a *Assembler) writeEntry(zw *zip.Writer, t ticket.Target) error {
	f, err := os.Open(t.Path)
	if err != nil {
		if os.IsNotExist(err) {
			a.log.WithField("path", t.Path).Warn("文件已不存在，跳过")
			return nil
		}
		return errors.Wrapf(err, "open %s", t.Path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat %s", t.Path)
	}

	hdr := &zip.FileHeader{
		Name:     t.ArcPath,
		Method:   zip.Store,
		Modified: info.ModTime(),
	}
	if a.compress {
		hdr.Method = zip.Deflate
	}
	hdr.SetMode(0o644)

	entry, err := zw.CreateHeader(hdr)
	if err != nil {
		return errors.Wrapf(err, "create entry %s", t.ArcPath)
	}
	if _, err := io.Copy(entry, f); err != nil {
		return errors.Wrapf(err, "write entry %s", t.ArcPath)
	}
	return nil
}

// idleWriter 每次写入前刷新写超时，消费端停滞超过 idle 时写入失败
type idleWriter struct {
	w    io.Writer
	rc   *http.ResponseController
	idle time.Duration
}

// withIdleTimeout 返回带写超时的 writer 与还原函数，还原后连接可继续复用
func withIdleTimeout(w http.ResponseWriter, idle time.Duration) (io.Writer, func()) {
	if idle <= 0 {
		return w, func() {}
	}
	iw := &idleWriter{w: w, rc: http.NewResponseController(w), idle: idle}
	if err := iw.rc.SetWriteDeadline(time.Now().Add(idle)); err != nil {
		// 不支持写超时的 ResponseWriter（例如测试用的 recorder）
		return w, func() {}
	}
	return iw, func() { _ = iw.rc.SetWriteDeadline(time.Time{}) }
}

func (iw *idleWriter) Write(p []byte) (int, error) {
	if err := iw.rc.SetWriteDeadline(time.Now().Add(iw.idle)); err != nil {
		return 0, err
	}
	return iw.w.Write(p)
}
