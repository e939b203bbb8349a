package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-relay/internal/admin"
	"github.com/park285/xiangqi-relay/internal/archive"
	appcfg "github.com/park285/xiangqi-relay/internal/config"
	"github.com/park285/xiangqi-relay/internal/msgcat"
	"github.com/park285/xiangqi-relay/internal/obslog"
	"github.com/park285/xiangqi-relay/internal/server"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_error", zap.String("dir", cfg.MessagesDir), zap.Error(err))
	}

	// Match archive (none | postgres | redis)
	rec, err := archive.Open(cfg)
	if err != nil {
		logger.Fatal("archive_init_error", zap.String("backend", cfg.ArchiveBackend), zap.Error(err))
	}
	logger.Info("archive_ready", zap.String("backend", cfg.ArchiveBackend))

	srv := server.New(cfg, server.WithCatalog(cat), server.WithArchive(rec))

	errCh := make(chan error, 2)
	go func() { errCh <- srv.ListenAndServe() }()

	var adm *admin.Server
	if cfg.AdminAddr != "" {
		adm = admin.NewServer(cfg.AdminAddr, srv)
		go func() {
			logger.Info("admin_listen", zap.String("addr", cfg.AdminAddr))
			errCh <- adm.ListenAndServe()
		}()
	}

	// Wait for termination signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown_signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("listener_error", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if adm != nil {
		if err := adm.Shutdown(ctx); err != nil {
			logger.Warn("admin_shutdown_error", zap.Error(err))
		}
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server_shutdown_error", zap.Error(err))
	}
	if err := rec.Close(); err != nil {
		logger.Warn("archive_close_error", zap.Error(err))
	}
}
