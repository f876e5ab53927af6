package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docextract/internal/infrastructure/resilience"
)

const workerGroup = "workers"

// Subjects names the two work streams: single documents and whole sessions.
type Subjects struct {
	Documents string
	Sessions  string
}

func (s Subjects) withDefaults() Subjects {
	if s.Documents == "" {
		s.Documents = "docextract.documents.queued"
	}
	if s.Sessions == "" {
		s.Sessions = "docextract.sessions.started"
	}
	return s
}

type Queue struct {
	conn     *nats.Conn
	subjects Subjects
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url string, subjects Subjects) (*Queue, error) {
	return NewWithOptions(url, subjects, Options{})
}

func NewWithOptions(url string, subjects Subjects, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("docextract"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subjects: subjects.withDefaults(),
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishDocumentQueued(ctx context.Context, documentID string) error {
	return q.publish(ctx, q.subjects.Documents, documentID)
}

func (q *Queue) PublishSessionStarted(ctx context.Context, sessionID string) error {
	return q.publish(ctx, q.subjects.Sessions, sessionID)
}

// SubscribeDocumentQueued blocks until ctx is cancelled, then drains.
func (q *Queue) SubscribeDocumentQueued(ctx context.Context, handler func(context.Context, string) error) error {
	return q.subscribe(ctx, q.subjects.Documents, "document_id", handler)
}

// SubscribeSessionStarted blocks until ctx is cancelled, then drains.
func (q *Queue) SubscribeSessionStarted(ctx context.Context, handler func(context.Context, string) error) error {
	return q.subscribe(ctx, q.subjects.Sessions, "session_id", handler)
}

func (q *Queue) publish(ctx context.Context, subject, id string) error {
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, []byte(id)); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	if err := q.executor.Execute(ctx, "nats.publish."+subject, call, classifyPublishError); err != nil {
		return asTemporary("enqueue work", err)
	}
	return nil
}

func (q *Queue) subscribe(ctx context.Context, subject, idAttr string, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(subject, workerGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, string(msg.Data)); err != nil {
			slog.Error("worker_handler_failed", "subject", subject, idAttr, string(msg.Data), "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
