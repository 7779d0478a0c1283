package mq

import (
	"context"
	"fmt"
	"time"

	match "github.com/0x5487/exchange-core"
	"github.com/0x5487/exchange-core/protocol"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const DefaultWriteTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher forwards book logs to a Kafka topic, keyed by market so that
// each market's events stay ordered within one partition.
type Publisher struct {
	writer     messageWriter
	serializer protocol.Serializer
	timeout    time.Duration
	logger     *zap.Logger
}

func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	return newPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}, logger)
}

func newPublisher(w messageWriter, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		writer:     w,
		serializer: protocol.DefaultJSONSerializer{},
		timeout:    DefaultWriteTimeout,
		logger:     logger,
	}
}

// Publish sends logs as one write. Errors are logged and dropped.
func (p *Publisher) Publish(logs ...*match.BookLog) {
	if len(logs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.Send(ctx, logs...); err != nil {
		p.logger.Error("publish book logs failed", zap.Int("count", len(logs)), zap.Error(err))
	}
}

// Send encodes and writes logs, returning the writer's error.
func (p *Publisher) Send(ctx context.Context, logs ...*match.BookLog) error {
	msgs := make([]kafka.Message, 0, len(logs))
	for _, log := range logs {
		value, err := p.serializer.Marshal(log)
		if err != nil {
			return fmt.Errorf("encode book log %d: %w", log.SequenceID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(log.MarketID),
			Value: value,
			Time:  log.CreatedAt,
		})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
