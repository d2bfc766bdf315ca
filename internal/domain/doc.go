// Package domain models disaster event reports and the rules for turning a
// batch of them into alertable event groups.
//
// # Data Source
//
// Reports originate from social media posts about disasters (floods, fires,
// earthquakes, ...). The upstream extraction service runs NLP and vision
// models over each post, producing a flat JSON record with the post text,
// author, timestamp, and the extracted location, disaster type, image URL,
// and detected landmark. Fields the extractor could not determine carry the
// literal sentinel "N/A". Records are published to the Kafka source topic;
// this service only consumes them.
//
// # Grouping Conventions
//
// Location spellings vary wildly in social media text ("Bangalore",
// "bengaluru", "BLR"). A fixed alias table maps known variants to one
// canonical lower-cased name; anything unmapped passes through lower-cased.
// Disaster types are lower-cased as-is. The pair (canonical location,
// lower-cased disaster type) identifies one event: all reports sharing the
// pair belong to the same event group, and the pair is also the key for
// duplicate suppression in the alert log.
//
// Reports missing either field are silently excluded from grouping. They
// carry no actionable event identity, so exclusion is policy, not an error.
package domain
