package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/disaster-alert-service/internal/domain"
	"github.com/couchcryptid/disaster-alert-service/internal/observability"
)

type fakeAlertLog struct {
	mu         sync.Mutex
	recent     map[string]bool
	recorded   []string
	checkErr   error
	recordErr  error
	checkCalls int
}

func pairKey(location, disasterType string) string {
	return location + "|" + disasterType
}

func (f *fakeAlertLog) WasRecentlySent(_ context.Context, location, disasterType string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCalls++
	if f.checkErr != nil {
		return false, f.checkErr
	}
	return f.recent[pairKey(location, disasterType)], nil
}

func (f *fakeAlertLog) RecordSent(_ context.Context, location, disasterType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recorded = append(f.recorded, pairKey(location, disasterType))
	return nil
}

type fakeDirectory struct {
	mu        sync.Mutex
	byLoc     map[string][]string
	err       error
	requested [][]string
}

func (f *fakeDirectory) SubscribersByLocation(_ context.Context, locations []string) (map[string][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, locations)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string][]string, len(locations))
	for _, loc := range locations {
		out[loc] = f.byLoc[loc]
	}
	return out, nil
}

type sentMail struct {
	recipient string
	subject   string
	body      string
}

type fakeTransport struct {
	mu      sync.Mutex
	sent    []sentMail
	failFor map[string]error
}

func (f *fakeTransport) Send(_ context.Context, recipient, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[recipient]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMail{recipient: recipient, subject: subject, body: body})
	return nil
}

var testTime = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func newTestDispatcher(log *fakeAlertLog, dir *fakeDirectory, transport *fakeTransport) *Dispatcher {
	if log.recent == nil {
		log.recent = map[string]bool{}
	}
	return New(log, dir, transport, DefaultWindow,
		clockwork.NewFakeClockAt(testTime), slog.Default(), observability.NewMetricsForTesting())
}

func reportsFor(location, disasterType string, authors ...string) []domain.Report {
	reports := make([]domain.Report, len(authors))
	for i, a := range authors {
		reports[i] = domain.Report{
			AuthorID:          a,
			Timestamp:         "2026-08-30T11:55:00Z",
			Text:              "water rising fast",
			ExtractedLocation: location,
			DisasterType:      disasterType,
			ImageURL:          domain.NotAvailable,
		}
	}
	return reports
}

func TestProcessSendsAlertToEverySubscriber(t *testing.T) {
	key := domain.EventKey{Location: "bengaluru", DisasterType: "flood"}
	log := &fakeAlertLog{}
	dir := &fakeDirectory{byLoc: map[string][]string{
		"bengaluru": {"a@example.com", "b@example.com"},
	}}
	transport := &fakeTransport{}
	d := newTestDispatcher(log, dir, transport)

	result, err := d.Process(context.Background(), map[domain.EventKey][]domain.Report{
		key: reportsFor("bengaluru", "flood", "user1", "user2"),
	})
	require.NoError(t, err)

	outcome, ok := result.Outcomes[key]
	require.True(t, ok)
	assert.Equal(t, OutcomeSent, outcome.Outcome)
	assert.Equal(t, 2, outcome.Reports)
	assert.Empty(t, outcome.FailedRecipients())
	assert.Equal(t, testTime, outcome.CompletedAt)

	require.Len(t, transport.sent, 2)
	for _, mail := range transport.sent {
		assert.Equal(t, "Flood Alert in Bengaluru", mail.subject)
		assert.Contains(t, mail.body, "Found 2 report(s) for a flood in bengaluru:")
		assert.Contains(t, mail.body, "@user1")
		assert.Contains(t, mail.body, "@user2")
	}

	assert.Equal(t, []string{"bengaluru|flood"}, log.recorded)
}

func TestProcessSuppressesRecentlyAlertedPair(t *testing.T) {
	key := domain.EventKey{Location: "mumbai", DisasterType: "earthquake"}
	log := &fakeAlertLog{recent: map[string]bool{"mumbai|earthquake": true}}
	dir := &fakeDirectory{byLoc: map[string][]string{"mumbai": {"a@example.com"}}}
	transport := &fakeTransport{}
	d := newTestDispatcher(log, dir, transport)

	result, err := d.Process(context.Background(), map[domain.EventKey][]domain.Report{
		key: reportsFor("mumbai", "earthquake", "user1"),
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuppressed, result.Outcomes[key].Outcome)
	assert.Empty(t, transport.sent)
	assert.Empty(t, log.recorded)
}

func TestProcessSkipsPairWithNoSubscribersWithoutLogging(t *testing.T) {
	key := domain.EventKey{Location: "pune", DisasterType: "fire"}
	log := &fakeAlertLog{}
	dir := &fakeDirectory{byLoc: map[string][]string{}}
	transport := &fakeTransport{}
	d := newTestDispatcher(log, dir, transport)

	result, err := d.Process(context.Background(), map[domain.EventKey][]domain.Report{
		key: reportsFor("pune", "fire", "user1"),
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSkipped, result.Outcomes[key].Outcome)
	assert.Empty(t, transport.sent)

	// The skip left no log record, so a later pass with a subscriber present
	// must still send.
	dir.byLoc["pune"] = []string{"late@example.com"}
	result, err = d.Process(context.Background(), map[domain.EventKey][]domain.Report{
		key: reportsFor("pune", "fire", "user2"),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, result.Outcomes[key].Outcome)
	require.Len(t, transport.sent, 1)
	assert.Equal(t, "late@example.com", transport.sent[0].recipient)
}

func TestProcessRecordsOnceDespitePartialTransportFailure(t *testing.T) {
	key := domain.EventKey{Location: "chennai", DisasterType: "cyclone"}
	log := &fakeAlertLog{}
	dir := &fakeDirectory{byLoc: map[string][]string{
		"chennai": {"bad@example.com", "good@example.com"},
	}}
	transport := &fakeTransport{failFor: map[string]error{
		"bad@example.com": errors.New("mailbox full"),
	}}
	d := newTestDispatcher(log, dir, transport)

	result, err := d.Process(context.Background(), map[domain.EventKey][]domain.Report{
		key: reportsFor("chennai", "cyclone", "user1"),
	})
	require.NoError(t, err)

	outcome := result.Outcomes[key]
	assert.Equal(t, OutcomeSent, outcome.Outcome)
	assert.Equal(t, []string{"bad@example.com"}, outcome.FailedRecipients())
	require.Len(t, transport.sent, 1)
	assert.Equal(t, "good@example.com", transport.sent[0].recipient)

	// One append regardless of per-recipient failures.
	assert.Equal(t, []string{"chennai|cyclone"}, log.recorded)
}

func TestProcessReportsUnloggedSendInsteadOfFailing(t *testing.T) {
	key := domain.EventKey{Location: "kolkata", DisasterType: "flood"}
	log := &fakeAlertLog{recordErr: errors.New("disk full")}
	dir := &fakeDirectory{byLoc: map[string][]string{"kolkata": {"a@example.com"}}}
	transport := &fakeTransport{}
	d := newTestDispatcher(log, dir, transport)

	result, err := d.Process(context.Background(), map[domain.EventKey][]domain.Report{
		key: reportsFor("kolkata", "flood", "user1"),
	})
	require.NoError(t, err)

	outcome := result.Outcomes[key]
	assert.Equal(t, OutcomeSentUnlogged, outcome.Outcome)
	require.Len(t, outcome.Deliveries, 1)
	assert.NoError(t, outcome.Deliveries[0].Err)
	assert.Len(t, transport.sent, 1)
}

func TestProcessReturnsErrorOnRecencyCheckFailure(t *testing.T) {
	key := domain.EventKey{Location: "bengaluru", DisasterType: "flood"}
	log := &fakeAlertLog{checkErr: errors.New("db locked")}
	dir := &fakeDirectory{byLoc: map[string][]string{"bengaluru": {"a@example.com"}}}
	transport := &fakeTransport{}
	d := newTestDispatcher(log, dir, transport)

	result, err := d.Process(context.Background(), map[domain.EventKey][]domain.Report{
		key: reportsFor("bengaluru", "flood", "user1"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recency check")
	assert.Empty(t, result.Outcomes)
	assert.Empty(t, transport.sent)
}

func TestProcessReturnsErrorOnDirectoryFailure(t *testing.T) {
	key := domain.EventKey{Location: "bengaluru", DisasterType: "flood"}
	log := &fakeAlertLog{}
	dir := &fakeDirectory{err: errors.New("connection refused")}
	transport := &fakeTransport{}
	d := newTestDispatcher(log, dir, transport)

	_, err := d.Process(context.Background(), map[domain.EventKey][]domain.Report{
		key: reportsFor("bengaluru", "flood", "user1"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscriber lookup")
	assert.Empty(t, transport.sent)
	assert.Zero(t, log.checkCalls)
}

func TestProcessBatchesDirectoryLookupAcrossGroups(t *testing.T) {
	log := &fakeAlertLog{}
	dir := &fakeDirectory{byLoc: map[string][]string{
		"bengaluru": {"a@example.com"},
		"mumbai":    {"b@example.com"},
	}}
	transport := &fakeTransport{}
	d := newTestDispatcher(log, dir, transport)

	groups := map[domain.EventKey][]domain.Report{
		{Location: "bengaluru", DisasterType: "flood"}: reportsFor("bengaluru", "flood", "u1"),
		{Location: "mumbai", DisasterType: "flood"}:    reportsFor("mumbai", "flood", "u2"),
		{Location: "mumbai", DisasterType: "fire"}:     reportsFor("mumbai", "fire", "u3"),
	}

	result, err := d.Process(context.Background(), groups)
	require.NoError(t, err)
	assert.Len(t, result.Outcomes, 3)

	// One query for the whole pass, with each location exactly once.
	require.Len(t, dir.requested, 1)
	if diff := cmp.Diff([]string{"bengaluru", "mumbai"}, dir.requested[0]); diff != "" {
		t.Errorf("requested locations mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessEmptyBatch(t *testing.T) {
	log := &fakeAlertLog{}
	dir := &fakeDirectory{}
	transport := &fakeTransport{}
	d := newTestDispatcher(log, dir, transport)

	result, err := d.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Outcomes)
	assert.Empty(t, dir.requested)
}

func TestLogTransportNeverFails(t *testing.T) {
	var buf strings.Builder
	transport := &LogTransport{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	err := transport.Send(context.Background(), "a@example.com", "Flood Alert in Bengaluru", "body")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "dry-run alert")
	assert.Contains(t, buf.String(), "a@example.com")
}
