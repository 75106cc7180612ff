// Package publisher sends replication events to NATS.
package publisher

import (
	"context"
	"fmt"

	"github.com/blockedby/tg-cloner/internal/cloner"
	"github.com/blockedby/tg-cloner/internal/nats"
)

// NATSClient interface to allow mocking
type NATSClient interface {
	Publish(ctx context.Context, subject string, data any) error
}

// NATSPublisher implements cloner.EventPublisher
type NATSPublisher struct {
	js      NATSClient
	subject string
}

// NewNATSPublisher creates a new publisher
func NewNATSPublisher(client NATSClient) *NATSPublisher {
	return &NATSPublisher{js: client, subject: nats.SubjectRunCompleted}
}

// PublishRunCompleted publishes a finished run
func (p *NATSPublisher) PublishRunCompleted(ctx context.Context, event cloner.RunCompletedEvent) error {
	if err := p.js.Publish(ctx, p.subject, event); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
