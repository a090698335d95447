package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type QueueName string

const (
	QueueMainService QueueName = "main-service"
)

var ErrNotConnected = fmt.Errorf("connection is not open yet")

type Config struct {
	URL               string
	ReconnectInterval time.Duration
	ConnectTimeout    time.Duration
}

type Queue struct {
	config *Config
	conn   *amqp.Connection
	mu     sync.Mutex
	log    *slog.Logger
}

func New(config *Config) *Queue {
	return &Queue{
		config: config,
		log:    slog.With("component", "queue"),
	}
}

func (q *Queue) Start(ctx context.Context) error {
	q.log.Info("Starting the queue manager.")
	defer q.log.Info("Stopping the queue manager.")

	return q.reconnectLoop(ctx)
}

func (q *Queue) reconnectLoop(ctx context.Context) error {
	q.log.Debug("started reconnect loop.")
	defer q.log.Debug("reconnect loop exited.")
	defer q.cleanup()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		q.log.Info("connecting to Rabbit MQ...")
		conn, err := q.connect()
		if err != nil {
			q.log.Error("connection to Rabbit MQ failed", "error", err)
			if !sleep(ctx, q.config.ReconnectInterval) {
				return ctx.Err()
			}
			continue
		}

		q.log.Info("connected to Rabbit MQ...")

		connErrors := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-connErrors:
			q.log.Error("rabbit mq connection closed", "error", err)
		}

		q.cleanup()

		if !sleep(ctx, q.config.ReconnectInterval) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (q *Queue) connect() (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(q.config.URL, amqp.Config{
		Dial: amqp.DefaultDial(q.config.ConnectTimeout),
	})
	if err != nil {
		return nil, err
	}

	if err := declare(conn, QueueMainService); err != nil {
		_ = conn.Close()
		return nil, err
	}

	q.mu.Lock()
	q.conn = conn
	q.mu.Unlock()

	return conn, nil
}

func declare(conn *amqp.Connection, name QueueName) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("couldn't open channel: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(string(name), true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

func (q *Queue) cleanup() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.conn != nil && !q.conn.IsClosed() {
		_ = q.conn.Close()
	}
	q.conn = nil
}

func (q *Queue) Publish(queueName QueueName, message []byte) error {
	q.mu.Lock()
	conn := q.conn
	q.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("couldn't open channel: %w", err)
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), q.config.ConnectTimeout)
	defer cancel()

	err = ch.PublishWithContext(ctx,
		"",                // default exchange routes straight to the queue
		string(queueName), // routing key = queue name
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         message,
		},
	)
	if err != nil {
		q.log.Error("Failed to publish", "queue", queueName, "error", err)
		return err
	}

	return nil
}
