package testing

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aristath/tradelog/internal/timeline"
)

// BrokerTimestamp formats t the way the broker does ("2022-03-01T10:15:00.000+0000")
func BrokerTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000-0700")
}

// RecordJSON returns a deposit record with the given id and timestamp
func RecordJSON(id string, ts time.Time) string {
	return fmt.Sprintf(
		`{"id":%q,"timestamp":%q,"title":"Deposit %s","eventType":"PAYMENT_INBOUND","status":"EXECUTED","amount":{"value":10,"currency":"EUR"}}`,
		id, BrokerTimestamp(ts), id,
	)
}

// NewRecord builds a RawTransaction from RecordJSON
func NewRecord(t *testing.T, id string, ts time.Time) timeline.RawTransaction {
	t.Helper()
	record, err := timeline.NewRawTransaction([]byte(RecordJSON(id, ts)))
	if err != nil {
		t.Fatalf("Failed to build record %s: %v", id, err)
	}
	return record
}

// PageJSON returns a timeline page answer holding records, with the given
// next-page cursor ("" for none)
func PageJSON(after string, records ...string) json.RawMessage {
	cursors := "{}"
	if after != "" {
		cursors = fmt.Sprintf(`{"after":%q}`, after)
	}
	return json.RawMessage(fmt.Sprintf(`{"items":[%s],"cursors":%s}`, strings.Join(records, ","), cursors))
}

// Day returns midnight UTC of the given date
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
