package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ConnectionOptions configures DialWithRetry.
type ConnectionOptions struct {
	URL           string
	RetryAttempts int
	Delay         time.Duration
	Logger        *zap.Logger
}

// MaxDelay caps the backoff between dial attempts.
const MaxDelay = 30 * time.Second

// DialWithRetry dials RabbitMQ with capped exponential backoff and stops on ctx cancellation.
func DialWithRetry(ctx context.Context, cfg ConnectionOptions) (*amqp.Connection, error) {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	var lastErr error
	sleep := cfg.Delay

	for i := 1; i <= cfg.RetryAttempts; i++ {
		conn, err := amqp.Dial(cfg.URL)
		if err == nil {
			if i > 1 {
				cfg.Logger.Info("rabbit connected", zap.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err
		if i == cfg.RetryAttempts {
			break
		}

		cfg.Logger.Warn("rabbit dial failed",
			zap.Int("attempt", i),
			zap.Duration("sleep", sleep),
			zap.Error(err),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
		sleep = min(sleep*2, MaxDelay)
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", cfg.RetryAttempts, lastErr)
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// AMQPPublisher publishes JSON envelopes to a durable topic exchange over a
// single long-lived channel. Publishing does not wait for broker confirms.
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string
	log      *zap.Logger

	open func() (channel, error)
	mu   sync.Mutex
	ch   channel
}

// NewAMQP declares the exchange on conn and takes ownership of the connection.
func NewAMQP(conn *amqp.Connection, exchange string, log *zap.Logger) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	p := &AMQPPublisher{conn: conn, exchange: exchange, log: log, ch: ch}
	p.open = func() (channel, error) { return conn.Channel() }
	return p, nil
}

// acquire returns the shared channel, reopening it after the broker closed it.
func (p *AMQPPublisher) acquire() (channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.open()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if p.ch != nil {
		p.log.Info("amqp channel reopened")
	}
	p.ch = ch
	return ch, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.acquire()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.Meta.ID,
		Type:         msg.Meta.Type,
		Timestamp:    msg.Meta.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return err
	}
	p.log.Debug("published", zap.String("key", key), zap.String("exchange", p.exchange))
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	if p.ch != nil && !p.ch.IsClosed() {
		p.ch.Close()
	}
	p.ch = nil
	p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}
