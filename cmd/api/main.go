package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/docextract/internal/adapters/http"
	"github.com/kirillkom/docextract/internal/bootstrap"
	"github.com/kirillkom/docextract/internal/config"
	"github.com/kirillkom/docextract/internal/observability/logging"
	"github.com/kirillkom/docextract/internal/observability/metrics"
)

const serviceName = "docextract-api"

func main() {
	cfg := config.Load()
	logging.New(logging.Options{Service: serviceName, Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	opts := []httpadapter.Option{httpadapter.WithUploadObserver(httpMetrics.ObserveUpload)}
	if app.Queue == nil {
		// Nobody consumes session events, so started sessions run here.
		opts = append(opts, httpadapter.WithInlineSessionRuns(ctx))
	}
	router := httpadapter.NewRouter(cfg, httpadapter.Services{
		Ingest:    app.IngestUC,
		Documents: app.Documents,
		Processor: app.ProcessUC,
		Sessions:  app.SessionUC,
		Reviews:   app.ReviewUC,
		SLA:       app.SLAUC,
		Settings:  app.SettingsUC,
	}, opts...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", httpMetrics.Handler(app.Metrics.Registry()))
	mux.Handle("/", httpMetrics.Middleware(serviceName, router.Handler()))

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
}
