// Package logging 根据配置初始化 logrus
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"terminal-terrace/sdm/config"
)

// New 根据 LogConfig 创建 logger
// 同样的级别、格式与输出也会应用到 logrus 标准 logger，中间件与 dto 通过它记录请求错误
// 返回的 io.Closer 用于关闭日志文件（stdout 输出时为 nil）
func New(conf config.LogConfig) (*logrus.Logger, io.Closer, error) {
	level, err := logrus.ParseLevel(conf.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	var formatter logrus.Formatter
	switch conf.Format {
	case "text":
		formatter = &logrus.TextFormatter{FullTimestamp: true}
	default:
		formatter = &logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyMsg: "message",
			},
		}
	}

	var (
		out    io.Writer = os.Stdout
		closer io.Closer
	)
	if conf.Output == "file" && conf.Path != "" {
		if err := os.MkdirAll(filepath.Dir(conf.Path), 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(conf.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		out, closer = f, f
	}

	log := logrus.New()
	for _, l := range []*logrus.Logger{log, logrus.StandardLogger()} {
		l.SetLevel(level)
		l.SetFormatter(formatter)
		l.SetOutput(out)
	}
	return log, closer, nil
}

// Discard 测试用的静默 logger
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
