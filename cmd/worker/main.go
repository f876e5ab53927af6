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

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/docextract/internal/bootstrap"
	"github.com/kirillkom/docextract/internal/config"
	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/observability/logging"
)

const (
	serviceName       = "docextract-worker"
	documentRunBudget = 5 * time.Minute
)

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

	if app.Queue == nil {
		slog.Error("worker_requires_queue", "hint", "set QUEUE_ENABLED=true")
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           app.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		slog.Info("worker_subscribed", "subject", cfg.NATSDocumentSubject)
		return app.Queue.SubscribeDocumentQueued(gctx, func(handlerCtx context.Context, documentID string) error {
			return processDocument(handlerCtx, app, documentID)
		})
	})
	g.Go(func() error {
		slog.Info("worker_subscribed", "subject", cfg.NATSSessionSubject)
		return app.Queue.SubscribeSessionStarted(gctx, func(handlerCtx context.Context, sessionID string) error {
			return app.SessionUC.Run(handlerCtx, sessionID)
		})
	})
	g.Go(func() error {
		return app.SLAMonitor.Run(gctx, cfg.SLAMonitorInterval)
	})

	if err := g.Wait(); err != nil {
		slog.Error("worker_stopped", "error", err)
		os.Exit(1)
	}
}

// processDocument drops redeliveries of documents another run already claimed.
func processDocument(ctx context.Context, app *bootstrap.App, documentID string) error {
	if doc, err := app.Documents.GetByID(ctx, documentID); err == nil {
		app.Metrics.ObserveQueueLag(time.Since(doc.UpdatedAt))
	}

	app.Metrics.StartDocument()
	defer app.Metrics.FinishDocument()

	processCtx, cancel := context.WithTimeout(ctx, documentRunBudget)
	defer cancel()
	_, err := app.ProcessUC.ProcessByID(processCtx, documentID, domain.ProcessOptions{})
	if domain.IsKind(err, domain.ErrConflict) {
		slog.Info("document_already_claimed", "document_id", documentID)
		return nil
	}
	return err
}
