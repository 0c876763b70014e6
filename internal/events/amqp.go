// Package events publishes settled transactions to a message broker.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/soyeahso/bizagent/internal/logging"
)

const (
	defaultQueue   = "bizagent.transactions"
	publishTimeout = 5 * time.Second
)

// Publisher delivers transaction messages.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// AMQPConfig describes the broker connection.
type AMQPConfig struct {
	URL   string
	Queue string
}

// AMQPPublisher publishes persistent JSON messages to a durable queue on the
// default exchange.
type AMQPPublisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	log   *logging.Logger
}

// NewAMQPPublisher dials the broker and declares the queue.
func NewAMQPPublisher(cfg AMQPConfig, log *logging.Logger) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = defaultQueue
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dialing amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declaring queue %s: %w", queue, err)
	}

	p := &AMQPPublisher{conn: conn, ch: ch, queue: queue, log: log.Sub("amqp")}
	p.log.Info().Str("queue", queue).Msg("amqp publisher ready")
	return p, nil
}

// Publish sends msg with persistent delivery.
func (p *AMQPPublisher) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Type:         msg.Event,
			Body:         body,
			Timestamp:    msg.OccurredAt,
		},
	)
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
