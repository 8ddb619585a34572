package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/sirupsen/logrus"
)

// OpenBolt 打开（或创建）本地 BoltDB 文件，并确保所需 bucket 存在
func OpenBolt(path string, log logrus.FieldLogger, buckets ...string) (*bolt.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt 路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("创建 bolt 目录失败: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开 bolt 失败: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("创建 bucket %q 失败: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.WithField("path", path).Info("BoltDB 已打开")
	return db, nil
}
