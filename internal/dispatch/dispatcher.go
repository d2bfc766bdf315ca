// Package dispatch turns event groups into delivered alerts. It owns the
// duplicate-suppression policy against the alert log, the batched subscriber
// lookup, and the per-recipient transport fan-out.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/disaster-alert-service/internal/domain"
	"github.com/couchcryptid/disaster-alert-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// DefaultWindow is the duplicate-suppression window: repeat alerts for the
// same (location, disaster type) pair are withheld for this long after an
// alert attempt.
const DefaultWindow = 6 * time.Hour

// AlertLog is the durable record of alert attempts. Append-only; only the
// most recent matching record matters for the recency check.
type AlertLog interface {
	// WasRecentlySent reports whether an alert for the pair was recorded
	// strictly more recently than now minus window. A record exactly at the
	// boundary counts as expired.
	WasRecentlySent(ctx context.Context, location, disasterType string, window time.Duration) (bool, error)

	// RecordSent appends a record with the current time.
	RecordSent(ctx context.Context, location, disasterType string) error
}

// SubscriberDirectory resolves canonical locations to recipient addresses.
// Every requested location must be present in the result, with an empty
// slice when it has no subscribers.
type SubscriberDirectory interface {
	SubscribersByLocation(ctx context.Context, locations []string) (map[string][]string, error)
}

// Transport delivers one composed alert to one recipient.
type Transport interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Outcome classifies how one event group was handled in a pass.
type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeSuppressed Outcome = "suppressed-duplicate"
	OutcomeSkipped    Outcome = "skipped-no-subscribers"

	// OutcomeSentUnlogged marks groups whose transport fan-out ran but whose
	// alert log append failed. The group is terminal for this pass; a blind
	// retry would re-notify every subscriber, so the failure is surfaced
	// here instead of as a Process error.
	OutcomeSentUnlogged Outcome = "sent-but-unlogged"
)

// Delivery is the transport result for a single recipient.
type Delivery struct {
	Recipient string
	Err       error
}

// GroupOutcome is the terminal state of one event group.
type GroupOutcome struct {
	Key         domain.EventKey
	Outcome     Outcome
	Reports     int
	Deliveries  []Delivery
	CompletedAt time.Time
}

// FailedRecipients lists the recipients whose transport call failed.
func (g GroupOutcome) FailedRecipients() []string {
	var failed []string
	for _, d := range g.Deliveries {
		if d.Err != nil {
			failed = append(failed, d.Recipient)
		}
	}
	return failed
}

// Result maps every processed event key to its outcome.
type Result struct {
	Outcomes map[domain.EventKey]GroupOutcome
}

// Dispatcher coordinates the alert log, subscriber directory, and transport
// for one grouping-and-dispatch pass at a time.
type Dispatcher struct {
	alertLog  AlertLog
	directory SubscriberDirectory
	transport Transport
	window    time.Duration
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	keys      keyedMutex
}

// New creates a Dispatcher. A non-positive window falls back to DefaultWindow.
func New(alertLog AlertLog, directory SubscriberDirectory, transport Transport, window time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Dispatcher{
		alertLog:  alertLog,
		directory: directory,
		transport: transport,
		window:    window,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		keys:      keyedMutex{locks: make(map[domain.EventKey]*sync.Mutex)},
	}
}

// Process handles every event group in the batch and returns the per-key
// outcomes. Groups are independent and processed concurrently. Storage
// failures (directory read, recency check) are returned as errors; transport
// failures and unlogged sends are captured in the Result instead.
func (d *Dispatcher) Process(ctx context.Context, groups map[domain.EventKey][]domain.Report) (Result, error) {
	result := Result{Outcomes: make(map[domain.EventKey]GroupOutcome, len(groups))}
	if len(groups) == 0 {
		return result, nil
	}

	start := time.Now()

	// One batched directory read covers every key's location in this pass.
	recipients, err := d.directory.SubscribersByLocation(ctx, uniqueLocations(groups))
	if err != nil {
		return result, fmt.Errorf("subscriber lookup: %w", err)
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []error
	)
	for key, reports := range groups {
		wg.Add(1)
		go func(key domain.EventKey, reports []domain.Report) {
			defer wg.Done()
			outcome, err := d.processGroup(ctx, key, reports, recipients[key.Location])

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			result.Outcomes[key] = outcome
		}(key, reports)
	}
	wg.Wait()

	d.metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	return result, errors.Join(errs...)
}

func (d *Dispatcher) processGroup(ctx context.Context, key domain.EventKey, reports []domain.Report, recipients []string) (GroupOutcome, error) {
	// The check-then-append sequence for one event pair must not race with
	// a concurrent pass on the same pair, or both could observe "not sent"
	// and double-send.
	unlock := d.keys.lock(key)
	defer unlock()

	recent, err := d.alertLog.WasRecentlySent(ctx, key.Location, key.DisasterType, d.window)
	if err != nil {
		return GroupOutcome{}, fmt.Errorf("recency check %s/%s: %w", key.Location, key.DisasterType, err)
	}
	if recent {
		d.logger.Info("alert suppressed, sent recently",
			"location", key.Location, "disaster_type", key.DisasterType, "window", d.window)
		return d.finish(key, len(reports), OutcomeSuppressed, nil), nil
	}

	if len(recipients) == 0 {
		// No log write: once a subscriber registers, a later pass for this
		// event must not be suppressed.
		d.logger.Info("alert skipped, no subscribers",
			"location", key.Location, "disaster_type", key.DisasterType)
		return d.finish(key, len(reports), OutcomeSkipped, nil), nil
	}

	subject := domain.ComposeSubject(key)
	body := domain.ComposeBody(key, reports)

	deliveries := make([]Delivery, 0, len(recipients))
	for _, recipient := range recipients {
		sendErr := d.transport.Send(ctx, recipient, subject, body)
		if sendErr != nil {
			d.metrics.TransportFailures.Inc()
			d.logger.Warn("transport failed for recipient",
				"recipient", recipient, "location", key.Location,
				"disaster_type", key.DisasterType, "error", sendErr)
		}
		deliveries = append(deliveries, Delivery{Recipient: recipient, Err: sendErr})
	}

	// The log tracks that an alert attempt was made, not per-recipient
	// success: it is appended exactly once even when some sends failed.
	if err := d.alertLog.RecordSent(ctx, key.Location, key.DisasterType); err != nil {
		d.logger.Error("alert sent but log append failed; a re-run would re-notify subscribers",
			"location", key.Location, "disaster_type", key.DisasterType, "error", err)
		return d.finish(key, len(reports), OutcomeSentUnlogged, deliveries), nil
	}

	d.logger.Info("alert dispatched",
		"location", key.Location, "disaster_type", key.DisasterType,
		"reports", len(reports), "recipients", len(recipients))
	return d.finish(key, len(reports), OutcomeSent, deliveries), nil
}

func (d *Dispatcher) finish(key domain.EventKey, reports int, outcome Outcome, deliveries []Delivery) GroupOutcome {
	d.metrics.AlertsDispatched.WithLabelValues(string(outcome)).Inc()
	return GroupOutcome{
		Key:         key,
		Outcome:     outcome,
		Reports:     reports,
		Deliveries:  deliveries,
		CompletedAt: d.clock.Now(),
	}
}

// uniqueLocations collects the distinct canonical locations in a batch,
// sorted so repeated identical batches issue identical directory queries.
func uniqueLocations(groups map[domain.EventKey][]domain.Report) []string {
	seen := make(map[string]struct{}, len(groups))
	locations := make([]string, 0, len(groups))
	for key := range groups {
		if _, ok := seen[key.Location]; ok {
			continue
		}
		seen[key.Location] = struct{}{}
		locations = append(locations, key.Location)
	}
	sort.Strings(locations)
	return locations
}

// keyedMutex hands out one mutex per event key. The lock spans only the
// read-check-then-append window for that key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[domain.EventKey]*sync.Mutex
}

func (k *keyedMutex) lock(key domain.EventKey) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
