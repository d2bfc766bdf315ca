package domain

import (
	"fmt"
	"strings"
)

// ComposeSubject builds the alert subject line for one event group,
// e.g. "Flood Alert in Bengaluru".
func ComposeSubject(key EventKey) string {
	return fmt.Sprintf("%s Alert in %s", titleCase(key.DisasterType), titleCase(key.Location))
}

// ComposeBody builds one consolidated message body for an event group,
// concatenating every report in group order: reporter identity, timestamp,
// text, and the image reference when one is present.
func ComposeBody(key EventKey, reports []Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d report(s) for a %s in %s:\n",
		len(reports), titleCase(key.DisasterType), titleCase(key.Location))
	for _, r := range reports {
		fmt.Fprintf(&b, "\n-> Reported by @%s at %s:\n   %q\n", r.AuthorID, r.Timestamp, r.Text)
		if r.ImageURL != "" && r.ImageURL != NotAvailable {
			fmt.Fprintf(&b, "   Image: %s\n", r.ImageURL)
		}
	}
	return b.String()
}

// titleCase upper-cases the first letter of each space-separated word.
// Good enough for subject lines; full Unicode casing is not needed for
// the controlled vocabulary of locations and disaster types.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
