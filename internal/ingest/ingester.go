// Package ingest 入库协作方
//
// 上传完成后的交付物通过 Ingester 交给持久化存储。默认实现把文件原子地
// 发布到隔离目录，由下游的内容寻址入库程序接管。
package ingest

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"terminal-terrace/sdm/packages/response"
)

// Result 入库结果，Status 为 HTTP 状态码
type Result struct {
	Status int
	Detail string
}

// OK 入库是否成功
func (r Result) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Err 将失败结果转换为透传状态码的错误
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return response.Upstream(r.Status, r.Detail)
}

// Ingester 入库协作方
type Ingester interface {
	Insert(ctx context.Context, collection, path, hash string) (Result, error)
}

// QuarantineIngester 将交付物发布到 <root>/<collection>/<hash><ext>
type QuarantineIngester struct {
	root string
	log  logrus.FieldLogger
}

func NewQuarantineIngester(root string, log logrus.FieldLogger) *QuarantineIngester {
	return &QuarantineIngester{root: root, log: log}
}

func (q *QuarantineIngester) Insert(ctx context.Context, collection, path, hash string) (Result, error) {
	if q.root == "" {
		return Result{}, response.Configuration("quarantine_path is not configured")
	}
	if collection == "" || filepath.Base(collection) != collection || hash == "" || filepath.Base(hash) != hash {
		return Result{Status: http.StatusBadRequest, Detail: "invalid collection or hash"}, nil
	}

	dir := filepath.Join(q.root, collection)
	dst := filepath.Join(dir, hash+extension(path))
	logger := q.log.WithFields(logrus.Fields{"collection": collection, "hash": hash})

	if _, err := os.Stat(dst); err == nil {
		logger.Info("交付物已存在，跳过")
		return Result{Status: http.StatusOK, Detail: "OK"}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, errors.Wrap(err, "create quarantine dir")
	}

	src, err := os.Open(path)
	if err != nil {
		return Result{}, errors.Wrap(err, "open deliverable")
	}
	defer src.Close()

	pf, err := renameio.TempFile(dir, dst)
	if err != nil {
		return Result{}, errors.Wrap(err, "create quarantine file")
	}
	defer pf.Cleanup()

	if _, err := io.Copy(pf, &ctxReader{ctx: ctx, r: src}); err != nil {
		return Result{}, errors.Wrap(err, "copy deliverable")
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return Result{}, errors.Wrap(err, "publish deliverable")
	}

	logger.WithField("path", dst).Info("交付物已入库")
	return Result{Status: http.StatusOK, Detail: "OK"}, nil
}

// extension 保留 .tar.gz 这类双扩展名
func extension(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if inner := filepath.Ext(base[:len(base)-len(ext)]); inner == ".tar" {
		return inner + ext
	}
	return ext
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
