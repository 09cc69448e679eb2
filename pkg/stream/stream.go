package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"warung/internal/models"

	"github.com/google/uuid"
	amqp "github.com/streadway/amqp"
)

const exchangeName = "order_events"

// Config holds the event-channel connection details for one actor.
type Config struct {
	URL     string
	ActorID string
	// MaxRetries bounds reconnection attempts after a drop. The channel is
	// at-least-once and the poller resynchronizes anyway, so giving up is
	// safe; retrying forever is not.
	MaxRetries int
	RetryDelay time.Duration
}

// Client holds one AMQP connection and channel bound to the actor's queue.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

// NewClient connects, declares the topic exchange and the actor's durable
// queue, and binds the queue to the actor's routing key.
func NewClient(cfg Config) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchangeName, // name
		"topic",      // kind
		true,         // durable
		false,        // auto-delete
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchangeName, err)
	}

	queueName := "orders." + cfg.ActorID
	if _, err := ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	if err := ch.QueueBind(queueName, "order.*."+cfg.ActorID, exchangeName, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue %s: %w", queueName, err)
	}

	return &Client{conn: conn, channel: ch, queue: queueName}, nil
}

// Close closes the channel and connection.
func (c *Client) Close() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing stream client: %v", errs)
	}
	return nil
}

// encodeEvent builds the routing key and message for one order event. The
// key mirrors the queue binding: order.<state>.<actorID>.
func encodeEvent(actorID string, event models.OrderEvent) (string, amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return "", amqp.Publishing{}, fmt.Errorf("failed to marshal order event: %w", err)
	}
	return fmt.Sprintf("order.%s.%s", event.NewState, actorID), amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    uuid.New().String(),
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}, nil
}

// Publish emits an order event for the given actor. The consuming side of
// this module never calls it; it exists for local tooling and tests that
// stand in for the backend.
func (c *Client) Publish(actorID string, event models.OrderEvent) error {
	if c.channel == nil {
		return fmt.Errorf("stream channel is not available")
	}
	key, msg, err := encodeEvent(actorID, event)
	if err != nil {
		return err
	}
	return c.channel.Publish(
		exchangeName,
		key,
		false, // mandatory
		false, // immediate
		msg)
}

// consume delivers decoded events to the handler until the delivery channel
// closes. A handler error nacks the message back onto the queue; a decode
// error drops it, since redelivery cannot fix a malformed payload.
func (c *Client) consume(ctx context.Context, handler func(models.OrderEvent) error) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			var event models.OrderEvent
			if err := json.Unmarshal(msg.Body, &event); err != nil {
				log.Printf("Dropping malformed order event (tag %d): %v", msg.DeliveryTag, err)
				msg.Nack(false, false)
				continue
			}
			if err := handler(event); err != nil {
				log.Printf("Error handling order event for %s: %v", event.OrderID, err)
				msg.Nack(false, true)
				continue
			}
			msg.Ack(false)
		}
	}
}

// Subscriber keeps a consuming connection alive with bounded, fixed-backoff
// reconnects. When the attempts are exhausted it returns; snapshot polling
// remains the fallback synchronization path.
type Subscriber struct {
	cfg Config
	// OnReconnect is called before every reconnection attempt, for metrics.
	OnReconnect func()
}

// NewSubscriber creates a subscriber for the actor's event queue.
func NewSubscriber(cfg Config) *Subscriber {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Subscriber{cfg: cfg}
}

// Run consumes events until the context is cancelled or reconnection
// attempts are exhausted.
func (s *Subscriber) Run(ctx context.Context, handler func(models.OrderEvent) error) error {
	attempts := 0
	for {
		client, err := NewClient(s.cfg)
		if err == nil {
			attempts = 0
			err = client.consume(ctx, handler)
			client.Close()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempts++
		if attempts > s.cfg.MaxRetries {
			return fmt.Errorf("event stream gave up after %d reconnect attempts: %w", s.cfg.MaxRetries, err)
		}
		log.Printf("Event stream disconnected (%v); reconnect %d/%d in %s", err, attempts, s.cfg.MaxRetries, s.cfg.RetryDelay)
		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.RetryDelay):
		}
	}
}
