package upload

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"terminal-terrace/sdm/internal/ingest"
	"terminal-terrace/sdm/internal/integrity"
	"terminal-terrace/sdm/internal/staging"
)

const (
	// Collection 交付物所属集合
	Collection = "acquisitions"
	// 与采集端保持一致的压缩级别
	compressionLevel = 6
)

// FinalizerOptions Finalizer 配置
type FinalizerOptions struct {
	ScratchDir string
	Digest     integrity.Algorithm
	Ingester   ingest.Ingester
	Log        logrus.FieldLogger

	// RetainOnFailure 入库失败时保留暂存包，便于重试 complete
	RetainOnFailure bool
}

// Finalizer 把暂存包转换为 .tgz 交付物并交给入库协作方
type Finalizer struct {
	store *staging.Store
	opts  FinalizerOptions
	log   logrus.FieldLogger
}

func NewFinalizer(store *staging.Store, opts FinalizerOptions) *Finalizer {
	if opts.Digest == "" {
		opts.Digest = store.Digest()
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Finalizer{store: store, opts: opts, log: opts.Log}
}

// Complete 在持有暂存锁期间完成打包、入库与清理
// 入库协作方未被调用时（打包失败、请求取消等）暂存包保持不变，可重新 complete
func (f *Finalizer) Complete(ctx context.Context, id string) error {
	return f.store.Finalize(ctx, id, func(artifact string) error {
		logger := f.log.WithField("upload_id", id)

		ingested, err := f.deliver(ctx, id, artifact)
		if err != nil && !ingested {
			logger.WithError(err).Warn("生成交付物失败，保留暂存包")
			return err
		}
		if err != nil && f.opts.RetainOnFailure {
			logger.WithError(err).Warn("入库失败，保留暂存包")
			return err
		}
		if rerr := f.store.Remove(artifact); rerr != nil {
			logger.WithError(rerr).Error("删除暂存包失败")
			if err == nil {
				err = rerr
			}
		}
		if err == nil {
			logger.Info("上传完成")
		}
		return err
	})
}

// deliver 在独立临时目录中生成交付物并入库
// ingested 表示是否已调用入库协作方
func (f *Finalizer) deliver(ctx context.Context, id, artifact string) (ingested bool, err error) {
	workDir, err := os.MkdirTemp(f.opts.ScratchDir, "finalize-")
	if err != nil {
		return false, errors.Wrap(err, "create finalize dir")
	}
	defer os.RemoveAll(workDir)

	deliverable := filepath.Join(workDir, id+".tgz")
	if err := repack(ctx, artifact, deliverable); err != nil {
		return false, err
	}

	hash, err := f.opts.Digest.DigestFile(deliverable)
	if err != nil {
		return false, errors.Wrap(err, "hash deliverable")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	f.log.WithFields(logrus.Fields{"upload_id": id, "hash": hash}).Debug("提交入库")
	res, err := f.opts.Ingester.Insert(ctx, Collection, deliverable, hash)
	if err != nil {
		return true, err
	}
	return true, res.Err()
}

// repack 将 tar 成员原样复制到 gzip 压缩的 tar 中，不重新校验成员
func repack(ctx context.Context, src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open staging artifact")
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "create deliverable")
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "close deliverable")
		}
	}()

	gw, err := gzip.NewWriterLevel(out, compressionLevel)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(gw)
	tr := tar.NewReader(in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "read staging artifact")
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return errors.Wrapf(err, "write header %s", hdr.Name)
		}
		if _, err := io.Copy(tw, tr); err != nil {
			return errors.Wrapf(err, "copy member %s", hdr.Name)
		}
	}
	if err := tw.Close(); err != nil {
		return errors.Wrap(err, "close tar writer")
	}
	return errors.Wrap(gw.Close(), "close gzip writer")
}
