package rabbitmq

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"allies-service/internal/observability"
)

const publishTimeout = 5 * time.Second

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Config names the broker, the topic exchange to declare and the AppId
// stamped on every message.
type Config struct {
	URL      string
	Exchange string
	AppID    string
}

type publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	appID    string
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewPublisher dials the broker and declares a durable topic exchange.
func NewPublisher(cfg Config, logger *slog.Logger) (Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	p := &publisher{conn: conn, channel: ch, exchange: cfg.Exchange, appID: cfg.AppID, logger: logger}
	go p.watch(ch.NotifyClose(make(chan *amqp.Error, 1)))
	return p, nil
}

// Connect returns a publisher for cfg, or a noop publisher when no URL is
// configured or the broker is unreachable.
func Connect(cfg Config, logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		logger.Warn("AMQP_URL not set; publishing disabled", "exchange", cfg.Exchange)
		return NewNoopPublisher()
	}
	pub, err := NewPublisher(cfg, logger)
	if err != nil {
		logger.Warn("failed to initialize RabbitMQ publisher", "exchange", cfg.Exchange, "err", err)
		return NewNoopPublisher()
	}
	return pub
}

// watch drops the channel once the broker closes it so later publishes fail
// fast instead of blocking.
func (p *publisher) watch(closed <-chan *amqp.Error) {
	amqpErr, ok := <-closed
	if !ok || amqpErr == nil {
		return
	}
	p.logger.Warn("RabbitMQ channel closed", "exchange", p.exchange, "err", amqpErr)
	p.mu.Lock()
	p.channel = nil
	p.mu.Unlock()
}

// noopPublisher drops events; used when RabbitMQ is unavailable.
type noopPublisher struct{}

func NewNoopPublisher() Publisher { return &noopPublisher{} }

func (n *noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	slog.Debug("RabbitMQ not configured; skipping publish", "routing_key", routingKey)
	return nil
}

func (n *noopPublisher) Close() error { return nil }

func (p *publisher) Publish(ctx context.Context, routingKey string, event any) error {
	msg, err := p.message(routingKey, event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		observability.IncAMQPPublishError()
		return amqp.ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		observability.IncAMQPPublishError()
		return err
	}
	return nil
}

func (p *publisher) message(routingKey string, event any) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		MessageId:    uuid.NewString(),
		Type:         routingKey,
		AppId:        p.appID,
		Timestamp:    time.Now().UTC(),
		DeliveryMode: amqp.Persistent,
	}, nil
}

func (p *publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	return nil
}
