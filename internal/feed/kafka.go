package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xtrntr/coinex/internal/retry"
)

// messageReader is the part of kafka.Reader the consumer uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads market messages from a topic with a consumer group.
// An offset is committed only once its message was accepted by the handler
// (or can never be), so delivery is at least once.
type KafkaConsumer struct {
	reader  messageReader
	handler Handler
	policy  retry.Policy
	log     *zap.Logger
}

func NewKafkaConsumer(brokers []string, topic, groupID string, handler Handler, logger *zap.Logger) *KafkaConsumer {
	log := logger.Named("kafka")
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		Dialer:   &kafka.Dialer{ClientID: "coinex-" + uuid.NewString(), Timeout: 10 * time.Second, DualStack: true},
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error(fmt.Sprintf(msg, args...))
		}),
	})
	return newKafkaConsumer(reader, handler, log)
}

func newKafkaConsumer(reader messageReader, handler Handler, log *zap.Logger) *KafkaConsumer {
	return &KafkaConsumer{reader: reader, handler: handler, policy: retry.DefaultPolicy, log: log}
}

// Run consumes until ctx is done. It returns an error, leaving the offset
// uncommitted for redelivery, when a message keeps failing.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch market message: %w", err)
		}

		err = c.handle(ctx, msg)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("market message at partition %d offset %d not handled: %w", msg.Partition, msg.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to commit offset: %w", err)
		}
	}
}

// handle retries transient failures. Malformed messages are logged and
// reported as handled.
func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message) error {
	return retry.Do(ctx, c.policy, func() error {
		err := c.handler.Handle(ctx, msg.Value)
		if errors.Is(err, ErrMalformed) {
			c.log.Warn("skipping malformed market message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			return nil
		}
		return err
	}, func(err error, wait time.Duration) {
		c.log.Warn("retrying market message",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}
