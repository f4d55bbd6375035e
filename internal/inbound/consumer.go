// internal/inbound/consumer.go

// Package inbound consumes raw message fragments off the queue, runs them
// through the coalescing buffer, and republishes the combined text.
package inbound

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"notify-engine/internal/coalesce"
	"notify-engine/internal/common/config"
	"notify-engine/internal/common/logger"
	"notify-engine/internal/phone"
)

// Fragment is one inbound message part.
type Fragment struct {
	From string `json:"from"`
	Body string `json:"body"`
	Kind string `json:"kind"` // "text", "image", "audio", ...
}

// Combined is the coalesced message republished downstream.
type Combined struct {
	RecipientKey string    `json:"recipientKey"`
	Text         string    `json:"text"`
	Kind         string    `json:"kind"`
	CombinedAt   time.Time `json:"combinedAt"`
}

// Consumer reads fragments from the inbound queue and republishes flushed
// sessions to the outbound exchange.
type Consumer struct {
	cfg    config.AMQPConfig
	buffer *coalesce.Buffer
	logger logger.Logger

	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewConsumer(cfg config.AMQPConfig, buffer *coalesce.Buffer, log logger.Logger) *Consumer {
	return &Consumer{cfg: cfg, buffer: buffer, logger: log}
}

// Connect dials the broker and declares the queue and exchange.
func (c *Consumer) Connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return err
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}

	if _, err := channel.QueueDeclare(c.cfg.InboundQueue, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return err
	}
	if err := channel.ExchangeDeclare(c.cfg.OutboundExchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return err
	}

	c.conn = conn
	c.channel = channel
	return nil
}

// Run consumes until ctx is cancelled. Fragments that do not parse are acked
// and dropped; losing one malformed frame beats a redelivery loop.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.channel.Consume(c.cfg.InboundQueue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.logger.Info("inbound consumer started", map[string]interface{}{
		"queue": c.cfg.InboundQueue,
	})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return amqp.ErrClosed
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	var frag Fragment
	if err := json.Unmarshal(msg.Body, &frag); err != nil {
		c.logger.Warn("dropping unparseable inbound fragment", map[string]interface{}{
			"error": err.Error(),
		})
		msg.Ack(false)
		return
	}

	key := phone.Normalize(frag.From)
	if key == "" {
		c.logger.Warn("dropping fragment without sender", nil)
		msg.Ack(false)
		return
	}

	c.buffer.Submit(key, frag.Body, frag.Kind, func(text string) {
		c.publish(ctx, Combined{
			RecipientKey: key,
			Text:         text,
			Kind:         frag.Kind,
			CombinedAt:   time.Now().UTC(),
		})
	})
	msg.Ack(false)
}

func (c *Consumer) publish(ctx context.Context, combined Combined) {
	payload, err := json.Marshal(combined)
	if err != nil {
		c.logger.Error("combined message marshal failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	err = c.channel.PublishWithContext(ctx, c.cfg.OutboundExchange, c.cfg.OutboundKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	if err != nil {
		c.logger.Error("combined message publish failed", map[string]interface{}{
			"recipient": combined.RecipientKey,
			"error":     err.Error(),
		})
		return
	}
	c.logger.Debug("combined message published", map[string]interface{}{
		"recipient": combined.RecipientKey,
		"length":    len(combined.Text),
	})
}

// Close shuts down the channel and connection.
func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
