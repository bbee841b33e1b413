package events

import (
	"context"

	"go.uber.org/zap"
)

// FallbackPublisher drops events. It is used when no broker is configured.
type FallbackPublisher struct {
	log *zap.Logger
}

func NewFallback(log *zap.Logger) *FallbackPublisher {
	return &FallbackPublisher{log: log}
}

func (p *FallbackPublisher) Publish(_ context.Context, key string, _ Envelope) error {
	p.log.Debug("event skipped, no broker", zap.String("key", key))
	return nil
}

func (p *FallbackPublisher) Close() error { return nil }
