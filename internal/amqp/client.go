// Package amqp publishes and consumes ledger events over RabbitMQ.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	applog "wallet/internal/log"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

var (
	errCircuitOpen   = errors.New("circuit breaker is open")
	errChannelClosed = errors.New("amqp channel closed")
)

// EventHandler processes one decoded ledger event. Returning an error
// requeues the delivery.
type EventHandler func(ctx context.Context, event LedgerEvent) error

type Client struct {
	url          string
	exchangeName string
	queueName    string
	logger       *applog.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	lastFailure  time.Time
}

func NewClient(url, exchangeName, queueName string, logger *applog.Logger) (*Client, error) {
	if logger == nil {
		logger = applog.Discard()
	}
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       logger.WithComponent(applog.ComponentAMQP),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := setup(channel, c.exchangeName, c.queueName); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, channel
	c.mu.Unlock()
	return nil
}

// setup declares a durable direct exchange and a durable queue bound with the
// queue name as routing key.
func setup(ch *amqp091.Channel, exchange, queue string) error {
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queue, queue, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

func (c *Client) currentChannel() *amqp091.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// PublishLedgerEvent publishes event as a persistent JSON message. After
// repeated failures the circuit opens and publishes fail fast until
// openTimeout has passed.
func (c *Client) PublishLedgerEvent(ctx context.Context, event LedgerEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}

	if c.isCircuitOpen() {
		return fmt.Errorf("publish ledger event %s: %w", event.EventID, errCircuitOpen)
	}

	ch := c.currentChannel()
	if ch == nil {
		c.recordFailure()
		return fmt.Errorf("publish ledger event %s: %w", event.EventID, errChannelClosed)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(pubCtx, c.exchangeName, c.queueName, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    event.EventID.String(),
		Timestamp:    event.OccurredAt,
		Type:         string(event.Kind),
		Body:         body,
	})
	if err != nil {
		// A failed trial always reopens, or the circuit would stay half-open.
		if isConnectionError(err) || atomic.LoadInt32(&c.state) == StateHalfOpen {
			c.recordFailure()
		}
		return fmt.Errorf("publish ledger event %s: %w", event.EventID, err)
	}
	c.recordSuccess()

	c.logger.InfoContext(ctx, "Published ledger event",
		applog.FieldEventID, event.EventID,
		applog.FieldEventKind, event.Kind,
		applog.FieldOwner, event.Owner,
		"exchange", c.exchangeName,
		"queue", c.queueName)
	return nil
}

// ConsumeLedgerEvents delivers events to handler until ctx is done or the
// channel closes. Undecodable bodies are dropped, handler failures requeued.
func (c *Client) ConsumeLedgerEvents(ctx context.Context, handler EventHandler) error {
	ch := c.currentChannel()
	if ch == nil {
		return errChannelClosed
	}
	deliveries, err := ch.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "Started consuming ledger events", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errChannelClosed
			}
			c.handleDelivery(ctx, d, handler)
		}
	}
}

func (c *Client) handleDelivery(ctx context.Context, d amqp091.Delivery, handler EventHandler) {
	event, err := LedgerEventFromJSON(d.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "Dropping malformed ledger event",
			applog.FieldError, err,
			"message_id", d.MessageId)
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.logger.WarnContext(ctx, "Nack failed", applog.FieldError, nackErr)
		}
		return
	}

	if err := handler(ctx, event); err != nil {
		c.logger.ErrorContext(ctx, "Failed to handle ledger event",
			applog.FieldError, err,
			applog.FieldEventID, event.EventID,
			applog.FieldEventKind, event.Kind)
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.logger.WarnContext(ctx, "Nack failed", applog.FieldError, nackErr)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.WarnContext(ctx, "Ack failed", applog.FieldError, err, applog.FieldEventID, event.EventID)
		return
	}
	c.logger.DebugContext(ctx, "Processed ledger event",
		applog.FieldEventID, event.EventID,
		applog.FieldEventKind, event.Kind)
}

// Run consumes until ctx is done, reconnecting with exponential backoff when
// the broker connection drops.
func (c *Client) Run(ctx context.Context, handler EventHandler) error {
	attempt := 0
	for {
		err := c.ConsumeLedgerEvents(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isConnectionError(err) {
			return err
		}

		wait := exponentialBackoff(attempt)
		c.logger.WarnContext(ctx, "Lost AMQP connection, reconnecting",
			applog.FieldError, err,
			"attempt", attempt+1,
			"backoff", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		_ = c.closeConnection()
		if err := c.connect(); err != nil {
			c.logger.ErrorContext(ctx, "Reconnect failed", applog.FieldError, err)
			attempt++
			continue
		}
		attempt = 0
	}
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errChannelClosed) || errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection refused", "connection closed", "EOF", "broken pipe", "closed network connection", "channel/connection is not open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// isCircuitOpen reports whether a publish must fail fast. Once openTimeout
// has passed, exactly one caller wins the switch to half-open and is let
// through as the trial; everyone else is rejected until it reports back.
func (c *Client) isCircuitOpen() bool {
	switch atomic.LoadInt32(&c.state) {
	case StateClosed:
		return false
	case StateHalfOpen:
		return true
	}
	c.mu.Lock()
	last := c.lastFailure
	c.mu.Unlock()
	if time.Since(last) > openTimeout {
		return !atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	n := atomic.AddInt64(&c.failureCount, 1)
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if n >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

func (c *Client) closeConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) Close() error {
	return c.closeConnection()
}
