package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"CompanyResearcher/internal/pipeline"
)

// MessageWriter is the part of kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher streams progress updates to a topic, keyed by job id.
type KafkaPublisher struct {
	writer  MessageWriter
	logger  *slog.Logger
	timeout time.Duration
}

var _ pipeline.Subscriber = (*KafkaPublisher)(nil)

// NewKafkaWriter builds an async writer; delivery errors are only logged.
func NewKafkaWriter(brokers []string, topic string, logger *slog.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil && logger != nil {
				logger.Warn("progress delivery failed", "messages", len(msgs), "error", err)
			}
		},
	}
}

// NewKafkaPublisher wraps a writer.
func NewKafkaPublisher(writer MessageWriter, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &KafkaPublisher{writer: writer, logger: logger, timeout: 5 * time.Second}
}

// OnUpdate encodes the update as JSON and hands it to the writer.
func (p *KafkaPublisher) OnUpdate(u pipeline.Update) {
	value, err := json.Marshal(u)
	if err != nil {
		p.logger.Warn("encode progress update", "job_id", u.JobID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	msg := kafka.Message{
		Key:   []byte(u.JobID),
		Value: value,
		Time:  u.At,
		Headers: []kafka.Header{
			{Key: "stage", Value: []byte(u.Stage)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("publish progress update", "job_id", u.JobID, "stage", u.Stage, "error", err)
	}
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
