package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"terminal-terrace/sdm/config"
	"terminal-terrace/sdm/internal/database"
	"terminal-terrace/sdm/internal/download"
	"terminal-terrace/sdm/internal/hierarchy"
	"terminal-terrace/sdm/internal/ingest"
	"terminal-terrace/sdm/internal/integrity"
	"terminal-terrace/sdm/internal/logging"
	"terminal-terrace/sdm/internal/permission"
	"terminal-terrace/sdm/internal/route"
	"terminal-terrace/sdm/internal/staging"
	"terminal-terrace/sdm/internal/upload"
	"terminal-terrace/sdm/packages/response"
)

// @title SDM API
// @version 1.0
// @description 科研影像数据的分阶段上传与批量下载
// @BasePath /api
func main() {
	configPath := flag.String("config", envOr("SDM_CONFIG", "config.yaml"), "配置文件路径")
	flag.Parse()

	// 加载配置
	conf := config.MustLoad(*configPath)

	log, closer, err := logging.New(conf.Log)
	if err != nil {
		logrus.WithError(err).Fatal("初始化日志失败")
	}
	if closer != nil {
		defer closer.Close()
	}

	// 初始化数据库
	conns, err := database.Open(conf, log)
	if err != nil {
		log.WithError(err).Fatal("初始化数据库失败")
	}
	defer conns.Close()

	if conf.Server.Mode != "" {
		gin.SetMode(conf.Server.Mode)
	}
	deps, err := buildDeps(conf, conns, log)
	if err != nil {
		log.WithError(err).Fatal("初始化服务失败")
	}

	srv := &http.Server{
		Addr:        conf.Addr(),
		Handler:     route.SetupRouter(deps),
		ReadTimeout: conf.Server.ReadTimeout,
		// 下载流由空闲写超时控制，这里为 0 时不限制总时长
		WriteTimeout: conf.Server.WriteTimeout,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("服务启动")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("服务异常退出")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("关闭服务失败")
	}
}

// buildDeps 组装上传与下载两条链路
func buildDeps(conf *config.AppConfig, conns *database.Connections, log *logrus.Logger) (route.Deps, error) {
	digest, err := integrity.ParseAlgorithm(conf.Upload.Digest)
	if err != nil {
		return route.Deps{}, err
	}

	locker, err := newLocker(conf, conns, log)
	if err != nil {
		return route.Deps{}, err
	}

	store := staging.NewStore(staging.Options{
		Dir:        conf.Storage.UploadPath,
		ScratchDir: conf.Storage.ScratchPath,
		Digest:     digest,
		Locker:     locker,
		Log:        log.WithField("module", "staging"),
	})
	ingester := ingest.NewQuarantineIngester(conf.Storage.QuarantinePath, log.WithField("module", "ingest"))
	finalizer := upload.NewFinalizer(store, upload.FinalizerOptions{
		ScratchDir:      conf.Storage.ScratchPath,
		Digest:          digest,
		Ingester:        ingester,
		Log:             log.WithField("module", "finalizer"),
		RetainOnFailure: conf.Upload.RetainOnFailure,
	})
	uploadService := upload.NewService(upload.Options{
		Store:      store,
		Finalizer:  finalizer,
		Authorizer: permission.NewPermissionService(conns.Postgres),
		Ingester:   ingester,
		ScratchDir: conf.Storage.ScratchPath,
		Log:        log.WithField("module", "upload"),
	})

	tickets, err := download.NewTicketRepository(conf.Download.TicketBackend, conns.TicketBackends())
	if err != nil {
		return route.Deps{}, err
	}
	downloadLog := log.WithField("module", "download")
	downloadService := download.NewService(download.Options{
		Resolver: download.NewResolver(hierarchy.NewGormRepository(conns.Postgres), conf.Storage.DataPath, downloadLog),
		Tickets:  tickets,
		URLBase:  conf.Download.URLBase,
		Log:      downloadLog,
	})

	return route.Deps{
		Upload:      upload.NewHandler(uploadService),
		Download:    download.NewHandler(downloadService, download.NewAssembler(conf.Download.Compress, downloadLog), conf.Download.IdleTimeout, downloadLog),
		JWTSecret:   conf.JWT.Secret,
		FrontendURL: conf.Server.FrontendURL,
	}, nil
}

func newLocker(conf *config.AppConfig, conns *database.Connections, log *logrus.Logger) (staging.Locker, error) {
	opts := staging.LockOptions{
		Timeout:    conf.Upload.LockTimeout,
		StaleAfter: conf.Upload.LockStaleAfter,
	}
	switch conf.Upload.LockBackend {
	case "", "file":
		return staging.NewFileLocker(conf.Storage.UploadPath, opts, log.WithField("module", "lock")), nil
	case "redis":
		if conns.Redis == nil {
			return nil, response.Configuration("lock backend redis requires redis.enabled")
		}
		return staging.NewRedisLocker(conns.Redis, opts), nil
	}
	return nil, response.Configuration("unknown lock backend %q", conf.Upload.LockBackend)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
