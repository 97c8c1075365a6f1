package timeline

import (
	"context"
	"encoding/json"
	"fmt"
)

// SubscriptionTimelineTransactions is the subscription type of timeline pages
const SubscriptionTimelineTransactions = "timelineTransactions"

// Subscription describes one outstanding request on a Source
type Subscription struct {
	Type  string `json:"type"`
	After string `json:"after,omitempty"`
}

// Message is one inbound answer: the subscription it belongs to and its payload.
type Message struct {
	SubscriptionID int
	Subscription   Subscription
	Response       json.RawMessage
}

// IsTimelinePage reports whether the message answers a timeline request
func (m Message) IsTimelinePage() bool {
	return m.Subscription.Type == SubscriptionTimelineTransactions
}

// Cursors holds the pagination cursors of a page
type Cursors struct {
	After  string `json:"after"`
	Before string `json:"before,omitempty"`
}

// TimelinePage is the decoded response of a timeline subscription
type TimelinePage struct {
	Items   []RawTransaction `json:"items"`
	Cursors Cursors          `json:"cursors"`
}

// Page decodes the response as a timeline page
func (m Message) Page() (*TimelinePage, error) {
	if !m.IsTimelinePage() {
		return nil, fmt.Errorf("subscription %d is %q, not a timeline page", m.SubscriptionID, m.Subscription.Type)
	}
	var page TimelinePage
	if err := json.Unmarshal(m.Response, &page); err != nil {
		return nil, fmt.Errorf("failed to decode timeline page of subscription %d: %w", m.SubscriptionID, err)
	}
	return &page, nil
}

// Source is an asynchronous, subscription-based connection to the broker.
// Answers for several subscriptions may be multiplexed on one Source.
type Source interface {
	// TimelineTransactions subscribes to the next page, starting after cursor
	// (empty for the newest page).
	TimelineTransactions(ctx context.Context, after string) error
	// Recv blocks until the next inbound message arrives.
	Recv(ctx context.Context) (Message, error)
}

// Unsubscriber is implemented by sources that release subscriptions explicitly
type Unsubscriber interface {
	Unsubscribe(ctx context.Context, subscriptionID int) error
}
