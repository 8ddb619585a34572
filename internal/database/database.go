package database

import (
	"time"

	"github.com/boltdb/bolt"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"terminal-terrace/sdm/config"
	"terminal-terrace/sdm/internal/download"
	"terminal-terrace/sdm/internal/model"
	pkgDatabase "terminal-terrace/sdm/packages/database"
)

// Connections 进程启动时建立的全部连接，按引用传给各组件
type Connections struct {
	Postgres *gorm.DB
	Redis    *pkgDatabase.RedisClient
	Bolt     *bolt.DB

	log logrus.FieldLogger
}

// Open 按配置建立连接：Postgres 必需，Redis 与 BoltDB 按需
func Open(conf *config.AppConfig, log logrus.FieldLogger) (*Connections, error) {
	conns := &Connections{log: log}

	pg, err := initPostgres(conf.Database, log)
	if err != nil {
		return nil, err
	}
	conns.Postgres = pg

	if conf.Redis.Enabled {
		conns.Redis, err = pkgDatabase.InitRedis(&pkgDatabase.RedisConfig{
			ServiceName: "sdm",
			Host:        conf.Redis.Host,
			Port:        conf.Redis.Port,
			Password:    conf.Redis.Password,
			DB:          conf.Redis.DB,
			PoolSize:    conf.Redis.PoolSize,
		}, log)
		if err != nil {
			conns.Close()
			return nil, err
		}
	}

	if conf.Download.TicketBackend == download.BackendBolt {
		conns.Bolt, err = pkgDatabase.OpenBolt(conf.Download.BoltPath, log, download.TicketBucket)
		if err != nil {
			conns.Close()
			return nil, err
		}
	}

	return conns, nil
}

func initPostgres(databaseConf config.DatabaseConfig, log logrus.FieldLogger) (*gorm.DB, error) {
	// 设置默认日志级别
	logLevel := databaseConf.LogLevel
	if logLevel == "" {
		logLevel = "warn"
	}

	db, err := pkgDatabase.InitPostgres(
		&pkgDatabase.PostgresConfig{
			ServiceName:     "sdm",
			Username:        databaseConf.Username,
			Password:        databaseConf.Password,
			Host:            databaseConf.Host,
			Port:            databaseConf.Port,
			Database:        databaseConf.Database,
			SSLMode:         databaseConf.SSLMode,
			LogLevel:        logLevel,
			MaxIdleConns:    databaseConf.MaxIdleConns,
			MaxOpenConns:    databaseConf.MaxOpenConns,
			ConnMaxLifetime: time.Duration(databaseConf.MaxLifetime) * time.Second,
		},
		log,
	)
	if err != nil {
		return nil, err
	}

	// 初始化数据库表
	if err := model.InitTable(db); err != nil {
		return nil, err
	}
	return db, nil
}

// TicketBackends 下载票据可用的存储
func (c *Connections) TicketBackends() download.Backends {
	return download.Backends{Postgres: c.Postgres, Redis: c.Redis, Bolt: c.Bolt}
}

// Close 关闭全部连接，错误只记录日志
func (c *Connections) Close() {
	if c.Bolt != nil {
		if err := c.Bolt.Close(); err != nil {
			c.log.WithError(err).Warn("关闭 BoltDB 失败")
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.log.WithError(err).Warn("关闭 Redis 失败")
		}
	}
	if c.Postgres != nil {
		if sqlDB, err := c.Postgres.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
