package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// NotAvailable is the sentinel the upstream extractor emits for fields it
// could not determine.
const NotAvailable = "N/A"

// Report is one disaster report after upstream NLP/vision extraction.
// The timestamp is the post's own creation time and is opaque to this
// service; it is carried into the alert body verbatim.
type Report struct {
	AuthorID          string `json:"author_id"`
	Timestamp         string `json:"timestamp"`
	Text              string `json:"text"`
	ExtractedLocation string `json:"extracted_location"`
	DisasterType      string `json:"disaster_type"`
	ImageURL          string `json:"image_url"`
	DetectedLandmark  string `json:"detected_landmark"`
}

// RawReport represents an unprocessed message from the source topic.
type RawReport struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// ParseRawReport deserializes a RawReport's value into a Report.
// It expects the flat JSON produced by the extraction service.
func ParseRawReport(raw RawReport) (Report, error) {
	var r Report
	if err := json.Unmarshal(raw.Value, &r); err != nil {
		return Report{}, fmt.Errorf("parse raw report: %w", err)
	}
	return r, nil
}

// EventKey identifies one disaster occurrence: a canonical location paired
// with a lower-cased disaster type. It is the grouping key for reports and
// the suppression key for the alert log.
type EventKey struct {
	Location     string `json:"location"`
	DisasterType string `json:"disaster_type"`
}

// KeyFor derives the EventKey for a report. The second return value is
// false when the report lacks a usable location or disaster type and must
// be excluded from grouping.
func KeyFor(r Report) (EventKey, bool) {
	if r.ExtractedLocation == "" || r.ExtractedLocation == NotAvailable {
		return EventKey{}, false
	}
	if r.DisasterType == "" || r.DisasterType == NotAvailable {
		return EventKey{}, false
	}
	return EventKey{
		Location:     NormalizeLocation(r.ExtractedLocation),
		DisasterType: NormalizeDisasterType(r.DisasterType),
	}, true
}

// GroupReports partitions a batch of reports into event groups. Reports
// missing a location or disaster type are silently excluded. Within each
// group, input order is preserved for message composition.
func GroupReports(reports []Report) map[EventKey][]Report {
	groups := make(map[EventKey][]Report)
	for _, r := range reports {
		key, ok := KeyFor(r)
		if !ok {
			continue
		}
		groups[key] = append(groups[key], r)
	}
	return groups
}
