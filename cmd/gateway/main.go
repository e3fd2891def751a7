package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openhire/interview-gateway/internal/bridge"
	"github.com/openhire/interview-gateway/internal/config"
	"github.com/openhire/interview-gateway/internal/engine"
	"github.com/openhire/interview-gateway/internal/frame"
	"github.com/openhire/interview-gateway/internal/media"
	"github.com/openhire/interview-gateway/internal/report"
	"github.com/openhire/interview-gateway/internal/session"
	"github.com/openhire/interview-gateway/internal/store"
	"github.com/openhire/interview-gateway/internal/ws"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	db, err := store.Open(cfg.Database.URL)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	archiver, err := media.NewWAVArchiver(cfg.Media.ArchiveDir, cfg.Media.SampleRate)
	if err != nil {
		slog.Error("init audio archive", "error", err)
		os.Exit(1)
	}

	engineClient := engine.NewClient(engine.Config{
		URL:              cfg.Engine.URL,
		APIKey:           cfg.Engine.APIKey,
		HandshakeTimeout: cfg.Engine.HandshakeTimeout,
	})

	sessions := session.NewManager(session.Config{
		DB:       db,
		Engine:   engineClient,
		Archiver: archiver,
		Bridge: bridge.Config{
			Codec:             frame.Codec{MaxPayloadBytes: cfg.Bridge.MaxPayloadBytes},
			ConnectTimeout:    cfg.Bridge.ConnectTimeout,
			KeepaliveInterval: cfg.Bridge.KeepaliveInterval,
			IdleTimeout:       cfg.Bridge.IdleTimeout,
			MaxDuration:       cfg.Bridge.MaxDuration,
			TurnSilence:       cfg.Bridge.TurnSilence,
			DrainTimeout:      cfg.Bridge.DrainTimeout,
			ReconnectAttempts: cfg.Bridge.ReconnectAttempts,
			ReconnectBase:     cfg.Bridge.ReconnectBase,
			ReconnectMax:      cfg.Bridge.ReconnectMax,
			QueueDepth:        cfg.Bridge.QueueDepth,
		},
	})

	reports := report.NewGenerator(db, report.NewOpenAICompleter(report.Config{
		APIKey:  cfg.Report.APIKey,
		BaseURL: cfg.Report.BaseURL,
		Model:   cfg.Report.Model,
	}))

	wsHandler := ws.NewHandler(ws.HandlerConfig{
		Sessions:      sessions,
		MaxConcurrent: cfg.Server.MaxConcurrent,
	})

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		sessions:  sessions,
		reports:   reports,
		db:        db,
		wsHandler: wsHandler,
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		slog.Info("draining live interviews", "active", sessions.ActiveCount())
		sessions.Shutdown(ctx)

		srv.Shutdown(ctx)
	}()

	slog.Info("gateway starting", "addr", addr, "engine", cfg.Engine.URL, "max_concurrent", cfg.Server.MaxConcurrent)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("gateway stopped")
}
