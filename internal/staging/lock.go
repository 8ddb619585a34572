package staging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"terminal-terrace/sdm/packages/response"
)

const lockPollInterval = 50 * time.Millisecond

// Locker 按上传 id 提供独占所有权
type Locker interface {
	Lock(ctx context.Context, key string) (Lease, error)
}

// Lease 持有中的锁
type Lease interface {
	Release() error
}

// LockOptions 锁等待与失效时间
type LockOptions struct {
	// Timeout 最长等待时间
	Timeout time.Duration
	// StaleAfter 持有者超过该时间未续约即视为崩溃，可被抢占
	StaleAfter time.Duration
}

func (o *LockOptions) setDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 5 * time.Minute
	}
}

// FileLocker 使用 O_EXCL 锁文件实现跨进程互斥
// 持有期间定期刷新锁文件 mtime；mtime 超过 StaleAfter 的锁文件会被回收
type FileLocker struct {
	dir  string
	opts LockOptions
	log  logrus.FieldLogger
}

func NewFileLocker(dir string, opts LockOptions, log logrus.FieldLogger) *FileLocker {
	opts.setDefaults()
	return &FileLocker{dir: dir, opts: opts, log: log}
}

func (l *FileLocker) path(key string) string {
	return filepath.Join(l.dir, key+".lock")
}

func (l *FileLocker) Lock(ctx context.Context, key string) (Lease, error) {
	path := l.path(key)
	token := []byte(uuid.NewString())

	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.Write(token)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, errors.Wrapf(firstErr(werr, cerr), "write lock file %s", path)
			}
			return newFileLease(path, token, l.opts.StaleAfter/3), nil
		}
		if !os.IsExist(err) {
			return nil, errors.Wrapf(err, "create lock file %s", path)
		}

		l.breakStale(path, token)

		select {
		case <-ctx.Done():
			return nil, response.Busy("upload %s is locked by another request", key)
		case <-time.After(lockPollInterval):
		}
	}
}

// breakStale 回收过期锁：先改名再核对 token，避免误删刚被他人重新获取的锁
func (l *FileLocker) breakStale(path string, token []byte) {
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) < l.opts.StaleAfter {
		return
	}
	owner, err := os.ReadFile(path)
	if err != nil {
		return
	}

	aside := path + "." + string(token) + ".stale"
	if err := os.Rename(path, aside); err != nil {
		return
	}
	moved, err := os.ReadFile(aside)
	if err == nil && !bytes.Equal(moved, owner) {
		// 改名期间锁已易主，尽量放回
		_ = os.Link(aside, path)
	} else {
		l.log.WithFields(logrus.Fields{
			"lock":  path,
			"owner": string(owner),
			"age":   time.Since(info.ModTime()).Round(time.Second).String(),
		}).Warn("回收过期的暂存锁")
	}
	_ = os.Remove(aside)
}

type fileLease struct {
	path  string
	token []byte
	stop  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func newFileLease(path string, token []byte, refresh time.Duration) *fileLease {
	if refresh <= 0 {
		refresh = time.Second
	}
	fl := &fileLease{path: path, token: token, stop: make(chan struct{})}
	fl.wg.Add(1)
	go fl.heartbeat(refresh)
	return fl
}

func (fl *fileLease) heartbeat(every time.Duration) {
	defer fl.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-fl.stop:
			return
		case <-ticker.C:
			now := time.Now()
			_ = os.Chtimes(fl.path, now, now)
		}
	}
}

func (fl *fileLease) Release() error {
	var err error
	fl.once.Do(func() {
		close(fl.stop)
		fl.wg.Wait()

		owner, rerr := os.ReadFile(fl.path)
		if rerr != nil {
			err = errors.Wrap(rerr, "read lock file")
			return
		}
		if !bytes.Equal(owner, fl.token) {
			err = errors.Errorf("lock %s was taken over by another owner", fl.path)
			return
		}
		err = os.Remove(fl.path)
	})
	return err
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
