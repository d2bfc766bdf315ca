// Package pipeline drives the extract → archive → group → dispatch cycle
// over batches of raw reports from the source topic.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/disaster-alert-service/internal/dispatch"
	"github.com/couchcryptid/disaster-alert-service/internal/domain"
	"github.com/couchcryptid/disaster-alert-service/internal/observability"
)

// BatchExtractor reads up to batchSize raw reports from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawReport, error)
}

// Archiver persists raw reports for audit. The archive is never read back
// by the dispatch path.
type Archiver interface {
	ArchiveReports(ctx context.Context, reports []domain.Report) error
}

// Dispatcher processes event groups into delivered alerts.
type Dispatcher interface {
	Process(ctx context.Context, groups map[domain.EventKey][]domain.Report) (dispatch.Result, error)
}

// OutcomePublisher emits per-group outcomes for downstream consumers.
type OutcomePublisher interface {
	PublishOutcomes(ctx context.Context, outcomes []dispatch.GroupOutcome) error
}

// Pipeline orchestrates one ingestion-and-dispatch loop.
type Pipeline struct {
	extractor  BatchExtractor
	archiver   Archiver
	dispatcher Dispatcher
	publisher  OutcomePublisher
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool
	batchSize  int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, a Archiver, d Dispatcher, p OutcomePublisher, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor:  e,
		archiver:   a,
		dispatcher: d,
		publisher:  p,
		logger:     logger,
		metrics:    metrics,
		batchSize:  batchSize,
	}
}

// CheckReadiness returns nil if the pipeline has completed at least one
// batch, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any batches yet")
	}
	return nil
}

// Run executes the batch loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	// Keeps retry storms short while avoiding tight loops during outages.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-group-dispatch cycle. Returns false if the
// pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	start := time.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.ReportsConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = 200 * time.Millisecond

	reports, parsedRaws := p.parseBatch(ctx, rawBatch)
	if len(reports) == 0 {
		return true
	}

	// Archival is best-effort and must never block alerting.
	if err := p.archiver.ArchiveReports(ctx, reports); err != nil {
		p.logger.Warn("archive reports failed", "error", err, "reports", len(reports))
	}

	groups := domain.GroupReports(reports)

	result, err := p.dispatcher.Process(ctx, groups)
	if err != nil {
		// Offsets stay uncommitted so the batch is re-run; the suppression
		// window keeps already-handled groups from re-sending.
		p.logger.Error("dispatch failed", "error", err, "groups", len(groups))
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	p.publishOutcomes(ctx, result)

	for _, raw := range parsedRaws {
		p.commitOffset(ctx, raw)
	}

	p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	p.ready.Store(true)
	return true
}

// parseBatch deserializes the raw batch. Malformed messages are counted,
// committed, and skipped so a poison pill cannot wedge the partition.
func (p *Pipeline) parseBatch(ctx context.Context, rawBatch []domain.RawReport) ([]domain.Report, []domain.RawReport) {
	reports := make([]domain.Report, 0, len(rawBatch))
	parsedRaws := make([]domain.RawReport, 0, len(rawBatch))

	for _, raw := range rawBatch {
		report, err := domain.ParseRawReport(raw)
		if err != nil {
			p.logger.Warn("malformed report, skipping message",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.ReportsMalformed.Inc()
			p.commitOffset(ctx, raw)
			continue
		}
		reports = append(reports, report)
		parsedRaws = append(parsedRaws, raw)
	}
	return reports, parsedRaws
}

// publishOutcomes forwards the pass outcomes to the outcome topic.
// Publish failures are logged but never fail the pass: the alert log, not
// the outcome stream, is the source of truth for dedup.
func (p *Pipeline) publishOutcomes(ctx context.Context, result dispatch.Result) {
	if len(result.Outcomes) == 0 {
		return
	}
	outcomes := make([]dispatch.GroupOutcome, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		outcomes = append(outcomes, o)
	}
	if err := p.publisher.PublishOutcomes(ctx, outcomes); err != nil {
		p.logger.Warn("publish outcomes failed", "error", err, "outcomes", len(outcomes))
	}
}

// backoffOrStop checks for context cancellation, sleeps with the current
// backoff, and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawReport) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
