package timeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// previewLength bounds the payload excerpt logged for unmatched messages
const previewLength = 200

// Stats describes the progress of a collection run
type Stats struct {
	Requests  int `json:"requests"`  // page requests issued
	Pages     int `json:"pages"`     // timeline pages received
	Unmatched int `json:"unmatched"` // messages for other subscriptions
	Buffered  int `json:"buffered"`  // records accumulated, before cutoff filtering
}

// Collector pages through the timeline until it reaches records older than the cutoff.
//
// Pages are expected newest first, each one older than the previous. The
// buffer is owned by the goroutine running Collect.
type Collector struct {
	src    Source
	cutoff time.Time
	log    zerolog.Logger

	buffer []RawTransaction
	stats  Stats
}

// NewCollector creates a collector for records newer than cutoff.
// A zero cutoff collects the whole history.
func NewCollector(src Source, cutoff time.Time, log zerolog.Logger) *Collector {
	return &Collector{
		src:    src,
		cutoff: cutoff,
		log:    log.With().Str("component", "timeline_collector").Logger(),
	}
}

// Collect requests pages until the oldest buffered record is older than the
// cutoff or the broker runs out of history.
//
// There is no internal timeout: the context is the only way to bound the wait
// on a source that stops answering. A source that was abandoned through ctx
// must not be reused.
func (c *Collector) Collect(ctx context.Context) error {
	c.log.Info().Time("cutoff", c.cutoff).Msg("Collecting timeline transactions")

	if err := c.request(ctx, ""); err != nil {
		return err
	}

	for {
		msg, err := c.src.Recv(ctx)
		if err != nil {
			return fmt.Errorf("failed to receive timeline page: %w", err)
		}

		if !msg.IsTimelinePage() {
			c.stats.Unmatched++
			c.log.Warn().
				Int("subscription_id", msg.SubscriptionID).
				Str("type", msg.Subscription.Type).
				Str("preview", preview(msg.Response)).
				Msg("Unmatched subscription")
			continue
		}

		page, err := msg.Page()
		if err != nil {
			return err
		}
		c.stats.Pages++
		c.buffer = append(c.buffer, page.Items...)
		c.release(ctx, msg.SubscriptionID)

		c.log.Debug().
			Int("page", c.stats.Pages).
			Int("items", len(page.Items)).
			Int("buffered", len(c.buffer)).
			Msg("Received timeline page")

		if len(page.Items) == 0 || page.Cursors.After == "" {
			c.log.Info().
				Int("pages", c.stats.Pages).
				Int("buffered", len(c.buffer)).
				Msg("Timeline history exhausted before cutoff")
			return nil
		}

		// The last buffered record is the oldest seen so far.
		oldest := c.buffer[len(c.buffer)-1]
		if oldest.Timestamp().Before(c.cutoff) {
			c.log.Info().
				Int("pages", c.stats.Pages).
				Int("buffered", len(c.buffer)).
				Time("oldest", oldest.Timestamp()).
				Msg("Reached cutoff")
			return nil
		}

		if err := c.request(ctx, page.Cursors.After); err != nil {
			return err
		}
	}
}

// Finalize returns the buffered records strictly newer than the cutoff, in
// the order received. A page can straddle the cutoff, so the whole buffer is
// filtered rather than trusting where Collect stopped.
func (c *Collector) Finalize() []RawTransaction {
	result := make([]RawTransaction, 0, len(c.buffer))
	for _, t := range c.buffer {
		if t.Timestamp().After(c.cutoff) {
			result = append(result, t)
		}
	}
	return result
}

// Stats returns the counters of the current run
func (c *Collector) Stats() Stats {
	s := c.stats
	s.Buffered = len(c.buffer)
	return s
}

func (c *Collector) request(ctx context.Context, after string) error {
	if err := c.src.TimelineTransactions(ctx, after); err != nil {
		return fmt.Errorf("failed to request timeline page (after=%q): %w", after, err)
	}
	c.stats.Requests++
	return nil
}

// release drops the answered subscription when the source supports it.
// Failing to unsubscribe does not affect the collected data.
func (c *Collector) release(ctx context.Context, id int) {
	u, ok := c.src.(Unsubscriber)
	if !ok {
		return
	}
	if err := u.Unsubscribe(ctx, id); err != nil {
		c.log.Warn().Err(err).Int("subscription_id", id).Msg("Failed to unsubscribe")
	}
}

func preview(payload []byte) string {
	if len(payload) <= previewLength {
		return string(payload)
	}
	return string(payload[:previewLength]) + "..."
}
