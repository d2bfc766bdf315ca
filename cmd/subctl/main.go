// Command subctl manages alert subscriptions in the service database.
//
// Usage:
//
//	go run ./cmd/subctl -db data/alerts.db add -location Bengaluru -email a@example.com
//	go run ./cmd/subctl -db data/alerts.db remove -location Bengaluru -email a@example.com
//	go run ./cmd/subctl -db data/alerts.db list
//
// Locations are stored in canonical form (lower-cased, common aliases
// merged), so "Bangalore" and "bengaluru" refer to the same subscription.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/disaster-alert-service/internal/adapter/sqlite"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dbPath := flag.String("db", "data/alerts.db", "path to the service SQLite database")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		return errors.New("missing command: add, remove, or list")
	}

	// The CLI shares the service store but has no use for its debug logs.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := sqlite.Open(*dbPath, clockwork.NewRealClock(), logger)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck // read-mostly CLI, close errors are noise

	ctx := context.Background()
	cmd, args := flag.Arg(0), flag.Args()[1:]

	switch cmd {
	case "add":
		location, email, err := parsePair(cmd, args)
		if err != nil {
			return err
		}
		if err := store.AddSubscription(ctx, location, email); err != nil {
			if errors.Is(err, sqlite.ErrAlreadySubscribed) {
				fmt.Printf("%s is already subscribed to %s\n", email, location)
				return nil
			}
			return err
		}
		fmt.Printf("subscribed %s to alerts for %s\n", email, location)
		return nil

	case "remove":
		location, email, err := parsePair(cmd, args)
		if err != nil {
			return err
		}
		removed, err := store.RemoveSubscription(ctx, location, email)
		if err != nil {
			return err
		}
		if !removed {
			fmt.Printf("no subscription found for %s in %s\n", email, location)
			return nil
		}
		fmt.Printf("unsubscribed %s from alerts for %s\n", email, location)
		return nil

	case "list":
		subs, err := store.ListSubscriptions(ctx)
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			fmt.Println("no subscriptions")
			return nil
		}
		for _, sub := range subs {
			fmt.Printf("%-20s %s\n", sub.Location, sub.Email)
		}
		return nil

	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// parsePair reads the -location and -email flags of an add/remove command.
func parsePair(cmd string, args []string) (string, string, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	location := fs.String("location", "", "location to subscribe to")
	email := fs.String("email", "", "subscriber email address")
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}
	if *location == "" || *email == "" {
		return "", "", fmt.Errorf("%s requires -location and -email", cmd)
	}
	return *location, *email, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: subctl [-db path] <command> [flags]

Commands:
  add     -location <loc> -email <addr>   register a subscription
  remove  -location <loc> -email <addr>   delete a subscription
  list                                    print all subscriptions

Flags:
`)
	flag.PrintDefaults()
}
