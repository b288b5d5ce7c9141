package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-supervisor/internal/livestream"
	"hls-supervisor/internal/platform/config"
	"hls-supervisor/internal/platform/logger"
	"hls-supervisor/internal/platform/metrics"
)

func main() {
	_ = config.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		logger.New("error", "json").Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ladder, err := livestream.ParseLadder(cfg.Ladder)
	if err != nil {
		log.Error("invalid TRANSCODE_LADDER", "error", err)
		os.Exit(1)
	}

	keys := livestream.NewKeyRegistry(cfg.AllowedKeys)
	if keys.Len() == 0 {
		log.Warn("RTMP_ALLOWED_KEYS is empty, every publish will be rejected")
	}

	met := metrics.New()
	table := livestream.NewProcessTable()
	ctl := livestream.NewController(keys, table, livestream.ExecLauncher{}, livestream.ControllerConfig{
		OutputRoot:  cfg.OutputRoot,
		KillTimeout: cfg.KillTimeout,
		Transcode: livestream.TranscodeOptions{
			FFmpegPath:     cfg.FFmpegPath,
			IngestURL:      cfg.IngestURL,
			SegmentSeconds: cfg.SegmentSeconds,
			ListSize:       cfg.ListSize,
			Renditions:     ladder,
		},
	}, log, met)
	h := livestream.NewHandler(ctl, livestream.NewArtifactServer(cfg.OutputRoot), log, met)

	r := newRouter(h, ctl, log, met, cfg.SessionsRateLimit)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"hls_root", cfg.OutputRoot,
		"allowed_keys", keys.Len(),
		"renditions", len(ladder),
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	// Shutdown may have used up ctx; transcoders get their own budget.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.KillTimeout+time.Second)
	defer stopCancel()
	if err := ctl.StopAll(stopCtx); err != nil {
		log.Error("stopping transcoders", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
