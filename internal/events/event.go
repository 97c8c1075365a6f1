// Package events turns raw timeline records into typed account events.
package events

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/tradelog/internal/timeline"
)

// Type is the account transaction type an event is exported as
type Type string

// Exportable event types. An empty Type marks an event with no export mapping.
const (
	TypeDeposit   Type = "Deposit"
	TypeRemoval   Type = "Removal"
	TypeDividend  Type = "Dividend"
	TypeInterest  Type = "Interest"
	TypeBuy       Type = "Buy"
	TypeSell      Type = "Sell"
	TypeTaxes     Type = "Taxes"
	TypeTaxRefund Type = "TaxRefund"
	TypeFees      Type = "Fees"
)

// Event is the typed form of a timeline record
type Event struct {
	ID       string
	Date     time.Time
	Type     Type
	RawType  string // broker event type, kept for logging
	Title    string
	Subtitle string
	Value    decimal.Decimal
	Currency string
	ISIN     string
	Status   string

	// Set from the record details when present
	Shares decimal.NullDecimal
	Fees   decimal.NullDecimal
	Taxes  decimal.NullDecimal
}

// Exportable reports whether the event maps to an account transaction
func (e *Event) Exportable() bool {
	return e.Type != ""
}

// DeserializationError reports a record that could not be turned into an Event
type DeserializationError struct {
	Index int // position in the input array
	ID    string
	Err   error
}

func (e *DeserializationError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("record %d (%s): %v", e.Index, e.ID, e.Err)
	}
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}

type record struct {
	ID        json.RawMessage `json:"id"`
	Timestamp *string         `json:"timestamp"`
	Title     string          `json:"title"`
	Subtitle  string          `json:"subtitle"`
	EventType string          `json:"eventType"`
	Status    string          `json:"status"`
	Icon      string          `json:"icon"`
	Amount    *struct {
		Value    json.Number `json:"value"`
		Currency string      `json:"currency"`
	} `json:"amount"`
	Details *details `json:"details"`
}

var isinPattern = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{9}[0-9]$`)

// FromJSON deserializes one timeline record
func FromJSON(raw []byte) (*Event, error) {
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}
	if r.Timestamp == nil {
		return nil, fmt.Errorf("record has no timestamp")
	}
	date, err := timeline.ParseTimestamp(*r.Timestamp)
	if err != nil {
		return nil, err
	}

	e := &Event{
		ID:       idString(r.ID),
		Date:     date,
		RawType:  r.EventType,
		Title:    r.Title,
		Subtitle: r.Subtitle,
		Status:   r.Status,
		ISIN:     isinFromIcon(r.Icon),
	}

	if r.Amount != nil && r.Amount.Value != "" {
		value, err := decimal.NewFromString(r.Amount.Value.String())
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", r.Amount.Value, err)
		}
		e.Value = value
		e.Currency = r.Amount.Currency
	}

	applyDetails(e, r.Details)
	e.Type = classify(e)
	return e, nil
}

// FromRaw deserializes a collected record
func FromRaw(t timeline.RawTransaction) (*Event, error) {
	return FromJSON(t.Raw())
}

func idString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	return string(raw)
}

// isinFromIcon extracts the ISIN from icon paths like "logos/DE0007164600/v2"
func isinFromIcon(icon string) string {
	for _, part := range strings.Split(icon, "/") {
		if isinPattern.MatchString(part) {
			return part
		}
	}
	return ""
}
