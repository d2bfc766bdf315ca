// Command genreports generates mock disaster reports for local testing.
// Reports can be written to a JSON-lines file, published straight to the
// source topic, or both.
//
// Usage:
//
//	go run ./cmd/genreports -count 25 -out data/mock/reports.jsonl
//	go run ./cmd/genreports -count 25 -brokers localhost:9092 -topic disaster-reports
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/disaster-alert-service/internal/domain"
)

type scenario struct {
	location     string
	disasterType string
	texts        []string
}

// Scenarios mix canonical and alias spellings so generated batches exercise
// the location merge, plus reports with missing fields that grouping drops.
var scenarios = []scenario{
	{"Bangalore", "Flood", []string{
		"Water entering houses near the lake, need rescue boats",
		"Roads fully submerged, people stranded on rooftops",
	}},
	{"Bengaluru", "flood", []string{
		"Underpass flooded, traffic at a standstill",
	}},
	{"Mumbai", "Earthquake", []string{
		"Strong tremors felt, walls cracked in our building",
	}},
	{"Chennai", "Cyclone", []string{
		"Winds picking up, trees down across the main road",
	}},
	{domain.NotAvailable, "Fire", []string{
		"Smoke everywhere but no idea where this is",
	}},
	{"Pune", domain.NotAvailable, []string{
		"Something bad is happening here",
	}},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	count := flag.Int("count", 20, "number of reports to generate")
	out := flag.String("out", "", "output path for a JSON-lines fixture file")
	brokers := flag.String("brokers", "", "comma-separated Kafka brokers to publish to")
	topic := flag.String("topic", "disaster-reports", "topic to publish to")
	seed := flag.Int64("seed", 0, "random seed (0 picks one from the current time)")
	flag.Parse()

	if *out == "" && *brokers == "" {
		flag.Usage()
		return fmt.Errorf("nothing to do: set -out and/or -brokers")
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	reports := generate(rng, *count)
	log.Printf("generated %d reports (seed %d)", len(reports), *seed)

	if *out != "" {
		if err := writeFixture(*out, reports); err != nil {
			return err
		}
		log.Printf("wrote fixture to %s", *out)
	}

	if *brokers != "" {
		if err := publish(strings.Split(*brokers, ","), *topic, reports); err != nil {
			return err
		}
		log.Printf("published %d reports to %s", len(reports), *topic)
	}
	return nil
}

func generate(rng *rand.Rand, count int) []domain.Report {
	base := time.Now().UTC().Add(-time.Hour)
	reports := make([]domain.Report, count)
	for i := range reports {
		sc := scenarios[rng.Intn(len(scenarios))]
		imageURL := domain.NotAvailable
		if rng.Intn(3) == 0 {
			imageURL = fmt.Sprintf("https://img.example.com/%04d.jpg", rng.Intn(10000))
		}
		reports[i] = domain.Report{
			AuthorID:          fmt.Sprintf("citizen_%03d", rng.Intn(500)),
			Timestamp:         base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
			Text:              sc.texts[rng.Intn(len(sc.texts))],
			ExtractedLocation: sc.location,
			DisasterType:      sc.disasterType,
			ImageURL:          imageURL,
			DetectedLandmark:  domain.NotAvailable,
		}
	}
	return reports
}

func writeFixture(path string, reports []domain.Report) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create fixture directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create fixture file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range reports {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	}
	return nil
}

func publish(brokers []string, topic string, reports []domain.Report) error {
	writer := &kafkago.Writer{
		Addr:     kafkago.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafkago.LeastBytes{},
	}
	defer writer.Close()

	msgs := make([]kafkago.Message, len(reports))
	for i, r := range reports {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		msgs[i] = kafkago.Message{
			Key:   []byte(r.AuthorID),
			Value: payload,
		}
	}
	return writer.WriteMessages(context.Background(), msgs...)
}
