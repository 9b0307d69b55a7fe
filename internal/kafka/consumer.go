package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Consumer struct {
	reader messageReader
	logger zerolog.Logger
}

func NewConsumer(brokers []string, groupID, topic string, logger zerolog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:           brokers,
			GroupID:           groupID,
			Topic:             topic,
			HeartbeatInterval: 3 * time.Second,
			SessionTimeout:    30 * time.Second,
		}),
		logger: logger,
	}
}

func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

func (c *Consumer) Consume(ctx context.Context, handler func(context.Context, kafka.Message) error) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			return err
		}

		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
}

// ConsumeEvents decodes every message as a BookingEvent. Messages that are not
// valid JSON are logged and skipped.
func (c *Consumer) ConsumeEvents(ctx context.Context, handler func(context.Context, BookingEvent) error) error {
	return c.Consume(ctx, func(ctx context.Context, msg kafka.Message) error {
		var event BookingEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Warn().Err(err).Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("skipping undecodable event")
			return nil
		}
		return handler(ctx, event)
	})
}
