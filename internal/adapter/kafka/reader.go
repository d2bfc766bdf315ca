package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/disaster-alert-service/internal/config"
	"github.com/couchcryptid/disaster-alert-service/internal/domain"
)

// Reader consumes raw report messages from the source topic.
// It implements pipeline.BatchExtractor.
type Reader struct {
	reader        *kafkago.Reader
	flushInterval time.Duration
	logger        *slog.Logger
}

// NewReader creates a Kafka consumer for the configured source topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaSourceTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Reader{reader: r, flushInterval: cfg.BatchFlushInterval, logger: logger}
}

// ExtractBatch reads up to batchSize messages. It blocks until the first
// message arrives, then keeps collecting until the batch is full or the
// flush interval elapses, so a trickle of reports still dispatches promptly.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawReport, error) {
	if batchSize <= 0 {
		batchSize = 1
	}

	msg, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	batch := []domain.RawReport{r.withCommit(mapMessageToRawReport(msg))}

	flushCtx, cancel := context.WithTimeout(ctx, r.flushInterval)
	defer cancel()

	for len(batch) < batchSize {
		msg, err := r.reader.FetchMessage(flushCtx)
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
				r.logger.Warn("batch fill stopped early", "error", err, "collected", len(batch))
			}
			break
		}
		batch = append(batch, r.withCommit(mapMessageToRawReport(msg)))
	}
	return batch, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// withCommit attaches the consumer-group offset commit callback.
func (r *Reader) withCommit(raw domain.RawReport) domain.RawReport {
	msg := kafkago.Message{
		Topic:     raw.Topic,
		Partition: raw.Partition,
		Offset:    raw.Offset,
	}
	raw.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	return raw
}

// mapMessageToRawReport converts a Kafka message into a domain RawReport.
func mapMessageToRawReport(msg kafkago.Message) domain.RawReport {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.RawReport{
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
