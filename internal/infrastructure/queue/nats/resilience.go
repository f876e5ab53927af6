package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docextract/internal/infrastructure/resilience"
)

// connectionErrors mean the broker is unreachable and count toward the breaker.
var connectionErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
}

func classifyPublishError(err error) resilience.ErrorClassification {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case errors.Is(err, nats.ErrReconnectBufExceeded):
		// drains once the link is back
		return resilience.ErrorClassification{Retryable: true}
	}
	for _, target := range connectionErrors {
		if errors.Is(err, target) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

// asTemporary lets ingest report a broker outage as a retryable failure.
func asTemporary(op string, err error) error {
	return resilience.WrapTemporary(op, err, classifyPublishError)
}
