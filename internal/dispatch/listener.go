package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// Config controls the Pub/Sub listener.
type Config struct {
	ProjectID    string
	Subscription string
	// MaxOutstanding bounds concurrent assignments. Browser sessions are
	// expensive, so the default is one at a time.
	MaxOutstanding int
}

// Listener pulls assignments from a Pub/Sub subscription and feeds them to a
// Handler.
type Listener struct {
	client  *pubsub.Client
	sub     *pubsub.Subscription
	handler *Handler
	logger  *zap.Logger
}

func NewListener(ctx context.Context, cfg Config, handler *Handler, logger *zap.Logger) (*Listener, error) {
	if cfg.ProjectID == "" || cfg.Subscription == "" {
		return nil, fmt.Errorf("dispatch.project_id and dispatch.subscription are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	sub := client.Subscription(cfg.Subscription)
	if cfg.MaxOutstanding <= 0 {
		cfg.MaxOutstanding = 1
	}
	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
	sub.ReceiveSettings.NumGoroutines = 1
	return &Listener{client: client, sub: sub, handler: handler, logger: logger}, nil
}

// Run blocks receiving assignments until the context is canceled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info("listening for assignments", zap.String("subscription", l.sub.String()))
	err := l.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		msg := Message{Data: m.Data, Attributes: m.Attributes}
		if m.DeliveryAttempt != nil && *m.DeliveryAttempt > 1 {
			if msg.Attributes == nil {
				msg.Attributes = map[string]string{}
			}
			if _, ok := msg.Attributes["retry_count"]; !ok {
				msg.Attributes["retry_count"] = strconv.Itoa(*m.DeliveryAttempt - 1)
			}
		}
		if l.handler.Handle(ctx, msg) {
			m.Ack()
		} else {
			m.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive assignments: %w", err)
	}
	return nil
}

// Close releases the Pub/Sub client.
func (l *Listener) Close() error {
	return l.client.Close()
}
