// config/config.go - 配置管理
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// AppConfig 应用配置结构
type AppConfig struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Log      LogConfig      `koanf:"log"`
	JWT      JWTConfig      `koanf:"jwt"`
	Storage  StorageConfig  `koanf:"storage"`
	Upload   UploadConfig   `koanf:"upload"`
	Download DownloadConfig `koanf:"download"`
}

type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	Mode         string        `koanf:"mode"` // debug, release
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	FrontendURL  string        `koanf:"frontend_url"`
}

type DatabaseConfig struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
	Username     string `koanf:"username"`
	Password     string `koanf:"password"`
	Database     string `koanf:"database"`
	SSLMode      bool   `koanf:"sslmode"`
	LogLevel     string `koanf:"log_level"` // 数据库日志级别
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	MaxLifetime  int    `koanf:"max_lifetime"` // 秒
}

type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	PoolSize int    `koanf:"pool_size"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
	Output string `koanf:"output"` // stdout, file
	Path   string `koanf:"path"`   // 日志文件路径
}

type JWTConfig struct {
	Secret string `koanf:"secret"`
}

// StorageConfig 数据目录
type StorageConfig struct {
	DataPath       string `koanf:"data_path"`       // 已入库文件根目录（只读）
	UploadPath     string `koanf:"upload_path"`     // 增量上传暂存目录
	QuarantinePath string `koanf:"quarantine_path"` // 入库交付目录
	ScratchPath    string `koanf:"scratch_path"`    // 临时工作目录，默认系统临时目录
}

// UploadConfig 上传协议
type UploadConfig struct {
	Digest          string        `koanf:"digest"`            // sha1, sha256, md5, blake3, blake2b
	LockBackend     string        `koanf:"lock_backend"`      // file, redis
	LockTimeout     time.Duration `koanf:"lock_timeout"`      // 秒
	LockStaleAfter  time.Duration `koanf:"lock_stale_after"`  // 秒
	RetainOnFailure bool          `koanf:"retain_on_failure"` // 入库失败时保留暂存包
}

// DownloadConfig 下载票据与打包
type DownloadConfig struct {
	TicketBackend string        `koanf:"ticket_backend"` // postgres, redis, bolt
	BoltPath      string        `koanf:"bolt_path"`
	URLBase       string        `koanf:"url_base"`     // 例如 https://sdm.example.org
	IdleTimeout   time.Duration `koanf:"idle_timeout"` // 秒
	Compress      bool          `koanf:"compress"`
}

// Load 加载配置文件，环境变量覆盖文件配置
func Load(configPath string) (*AppConfig, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
	}

	// SDM_STORAGE_DATA_PATH -> storage.data_path
	if err := k.Load(env.Provider("SDM_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "SDM_"))
		section, rest, ok := strings.Cut(s, "_")
		if !ok {
			return s
		}
		return section + "." + rest
	}), nil); err != nil {
		return nil, fmt.Errorf("加载环境变量失败: %w", err)
	}

	conf := &AppConfig{}
	if err := k.Unmarshal("", conf); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	conf.applyDefaults()
	return conf, nil
}

// MustLoad 加载配置，失败则 panic
func MustLoad(configPath string) *AppConfig {
	conf, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("配置加载失败: %v", err))
	}
	return conf
}

// 转换时间单位并补全默认值
func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	c.Server.ReadTimeout = c.Server.ReadTimeout * time.Second
	c.Server.WriteTimeout = c.Server.WriteTimeout * time.Second

	if c.Upload.Digest == "" {
		c.Upload.Digest = "sha1"
	}
	if c.Upload.LockBackend == "" {
		c.Upload.LockBackend = "file"
	}
	if c.Upload.LockTimeout == 0 {
		c.Upload.LockTimeout = 30
	}
	if c.Upload.LockStaleAfter == 0 {
		c.Upload.LockStaleAfter = 300
	}
	c.Upload.LockTimeout = c.Upload.LockTimeout * time.Second
	c.Upload.LockStaleAfter = c.Upload.LockStaleAfter * time.Second

	if c.Download.TicketBackend == "" {
		c.Download.TicketBackend = "postgres"
	}
	if c.Download.IdleTimeout == 0 {
		c.Download.IdleTimeout = 60
	}
	c.Download.IdleTimeout = c.Download.IdleTimeout * time.Second

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Addr 监听地址
func (c *AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
