// Package timeline collects a broker's paginated transaction timeline.
//
// Pages are requested one subscription at a time from an asynchronous Source
// and accumulated until the oldest record seen is older than a cutoff. The
// collected records are kept verbatim so they can be written back out exactly
// as the broker sent them.
package timeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// timestampLayouts are tried in order. Zone-less layouts are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp as found in timeline records
func ParseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

// RawTransaction is one timeline record exactly as received, plus its parsed timestamp.
type RawTransaction struct {
	raw       json.RawMessage
	id        string
	timestamp time.Time
}

// NewRawTransaction validates a record and captures its timestamp.
// The record must be a JSON object with a string "timestamp" field.
func NewRawTransaction(raw []byte) (RawTransaction, error) {
	var head struct {
		ID        json.RawMessage `json:"id"`
		Timestamp *string         `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return RawTransaction{}, fmt.Errorf("invalid timeline record: %w", err)
	}
	if head.Timestamp == nil {
		return RawTransaction{}, fmt.Errorf("timeline record has no timestamp")
	}
	ts, err := ParseTimestamp(*head.Timestamp)
	if err != nil {
		return RawTransaction{}, err
	}

	return RawTransaction{
		raw:       append(json.RawMessage(nil), raw...),
		id:        recordID(head.ID),
		timestamp: ts,
	}, nil
}

// recordID renders a JSON id value as text; numeric ids keep their literal form
func recordID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// ID returns the broker's record id, empty when the record carries none
func (t RawTransaction) ID() string { return t.id }

// Timestamp returns the parsed record timestamp
func (t RawTransaction) Timestamp() time.Time { return t.timestamp }

// Raw returns the record bytes as received
func (t RawTransaction) Raw() json.RawMessage { return t.raw }

// MarshalJSON writes the record back unchanged
func (t RawTransaction) MarshalJSON() ([]byte, error) {
	if t.raw == nil {
		return []byte("null"), nil
	}
	return t.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler
func (t *RawTransaction) UnmarshalJSON(data []byte) error {
	parsed, err := NewRawTransaction(data)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
