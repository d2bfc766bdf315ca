package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/disaster-alert-service/internal/config"
	"github.com/couchcryptid/disaster-alert-service/internal/dispatch"
)

// Writer publishes per-group dispatch outcomes to the outcome topic for
// downstream analytics. It implements pipeline.OutcomePublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured outcome topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaOutcomeTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishOutcomes serializes and publishes all outcomes from one dispatch
// pass in a single WriteMessages call.
func (w *Writer) PublishOutcomes(ctx context.Context, outcomes []dispatch.GroupOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(outcomes))
	for i := range outcomes {
		msg, err := serializeOutcome(outcomes[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// outcomeRecord is the wire form of one group outcome.
type outcomeRecord struct {
	Location         string    `json:"location"`
	DisasterType     string    `json:"disaster_type"`
	Outcome          string    `json:"outcome"`
	Reports          int       `json:"reports"`
	Recipients       int       `json:"recipients"`
	FailedRecipients []string  `json:"failed_recipients,omitempty"`
	CompletedAt      time.Time `json:"completed_at"`
}

// serializeOutcome marshals a group outcome into a Kafka message keyed by
// the event pair so outcomes for one event stay in partition order.
func serializeOutcome(o dispatch.GroupOutcome) (kafkago.Message, error) {
	rec := outcomeRecord{
		Location:         o.Key.Location,
		DisasterType:     o.Key.DisasterType,
		Outcome:          string(o.Outcome),
		Reports:          o.Reports,
		Recipients:       len(o.Deliveries),
		FailedRecipients: o.FailedRecipients(),
		CompletedAt:      o.CompletedAt,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize outcome: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(o.Key.Location + "|" + o.Key.DisasterType),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "outcome", Value: []byte(o.Outcome)},
			{Key: "completed_at", Value: []byte(o.CompletedAt.Format(time.RFC3339))},
		},
	}, nil
}
