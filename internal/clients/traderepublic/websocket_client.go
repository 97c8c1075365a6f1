// Package traderepublic implements the timeline source over Trade Republic's
// subscription websocket.
package traderepublic

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/tradelog/internal/timeline"
)

const (
	// WebSocket connection constants
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	connectID      = 31
	inboundBacklog = 64

	// DefaultURL is the production websocket endpoint
	DefaultURL = "wss://api.traderepublic.com"
)

// ErrClosed is returned once the connection is gone and no answers remain
var ErrClosed = errors.New("trade republic connection closed")

// SubscriptionError is an "E" answer from the server
type SubscriptionError struct {
	SubscriptionID int
	Subscription   timeline.Subscription
	Payload        string
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %d (%s) failed: %s", e.SubscriptionID, e.Subscription.Type, truncate(e.Payload))
}

// Config holds connection settings. SessionToken is sent with every
// subscription; obtaining it is outside this client.
type Config struct {
	URL          string
	SessionToken string
	Locale       string
	HTTPClient   *http.Client
}

type inbound struct {
	msg timeline.Message
	err error
}

// Client is a connected subscription websocket. It implements
// timeline.Source and timeline.Unsubscriber.
type Client struct {
	conn  *websocket.Conn
	token string
	log   zerolog.Logger

	cancelFunc context.CancelFunc

	mu            sync.Mutex
	nextID        int
	subscriptions map[int]timeline.Subscription

	// Owned by the read loop
	previous map[int]string

	inbound chan inbound
	done    chan struct{}
	readErr error
}

// createHTTP1Client creates an HTTP client that forces HTTP/1.1.
// WebSocket requires HTTP/1.1 for the upgrade handshake.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// Dial connects, performs the connect handshake and starts the read loop
func Dial(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Locale == "" {
		cfg.Locale = "en"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = createHTTP1Client()
	}

	log = log.With().Str("component", "traderepublic_websocket").Logger()
	log.Info().Str("url", cfg.URL).Msg("Connecting to Trade Republic WebSocket")

	dialCtx, dialCancel := context.WithTimeout(ctx, dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, cfg.URL, &websocket.DialOptions{
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial WebSocket: %w", err)
	}
	// Timeline pages can be large
	conn.SetReadLimit(16 << 20)

	if err := handshake(dialCtx, conn, cfg.Locale); err != nil {
		conn.Close(websocket.StatusNormalClosure, "handshake failed")
		return nil, err
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	c := &Client{
		conn:          conn,
		token:         cfg.SessionToken,
		log:           log,
		cancelFunc:    connCancel,
		subscriptions: make(map[int]timeline.Subscription),
		previous:      make(map[int]string),
		inbound:       make(chan inbound, inboundBacklog),
		done:          make(chan struct{}),
	}
	go c.readMessages(connCtx)

	log.Info().Msg("Connected to Trade Republic WebSocket")
	return c, nil
}

func handshake(ctx context.Context, conn *websocket.Conn, locale string) error {
	hello, err := json.Marshal(map[string]string{
		"locale":          locale,
		"platformId":      "webtrading",
		"platformVersion": "chrome - 94.0.4606",
		"clientId":        "app.traderepublic.com",
		"clientVersion":   "5582",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal connect message: %w", err)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(fmt.Sprintf("connect %d %s", connectID, hello))); err != nil {
		return fmt.Errorf("failed to send connect message: %w", err)
	}

	_, reply, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read connect reply: %w", err)
	}
	if string(reply) != "connected" {
		return fmt.Errorf("unexpected connect reply %q", truncate(string(reply)))
	}
	return nil
}

// TimelineTransactions subscribes to one timeline page
func (c *Client) TimelineTransactions(ctx context.Context, after string) error {
	_, err := c.subscribe(ctx, timeline.Subscription{
		Type:  timeline.SubscriptionTimelineTransactions,
		After: after,
	})
	return err
}

func (c *Client) subscribe(ctx context.Context, sub timeline.Subscription) (int, error) {
	payload := map[string]string{"type": sub.Type}
	if sub.After != "" {
		payload["after"] = sub.After
	}
	if c.token != "" {
		payload["token"] = c.token
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal subscription: %w", err)
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subscriptions[id] = sub
	c.mu.Unlock()

	if err := c.write(ctx, fmt.Sprintf("sub %d %s", id, data)); err != nil {
		c.forget(id)
		return 0, fmt.Errorf("failed to send subscription %d: %w", id, err)
	}

	c.log.Debug().Int("subscription_id", id).Str("type", sub.Type).Str("after", sub.After).Msg("Subscribed")
	return id, nil
}

// Unsubscribe releases a subscription
func (c *Client) Unsubscribe(ctx context.Context, subscriptionID int) error {
	c.forget(subscriptionID)
	if err := c.write(ctx, fmt.Sprintf("unsub %d", subscriptionID)); err != nil {
		return fmt.Errorf("failed to unsubscribe %d: %w", subscriptionID, err)
	}
	return nil
}

// Recv returns the next answer. Answers already received are still handed
// out after the connection drops; then ErrClosed (wrapping the read error) is returned.
func (c *Client) Recv(ctx context.Context) (timeline.Message, error) {
	select {
	case in := <-c.inbound:
		return in.msg, in.err
	case <-ctx.Done():
		return timeline.Message{}, ctx.Err()
	case <-c.done:
		select {
		case in := <-c.inbound:
			return in.msg, in.err
		default:
		}
		if c.readErr != nil {
			return timeline.Message{}, fmt.Errorf("%w: %v", ErrClosed, c.readErr)
		}
		return timeline.Message{}, ErrClosed
	}
}

// Close shuts the connection down
func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.cancelFunc()
	<-c.done
	if err != nil {
		return fmt.Errorf("error closing WebSocket: %w", err)
	}
	return nil
}

func (c *Client) write(ctx context.Context, msg string) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, []byte(msg))
}

func (c *Client) forget(id int) {
	c.mu.Lock()
	delete(c.subscriptions, id)
	c.mu.Unlock()
}

func (c *Client) lookup(id int) (timeline.Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subscriptions[id]
	return sub, ok
}

// readMessages continuously reads messages until the connection ends
func (c *Client) readMessages(ctx context.Context) {
	defer close(c.done)

	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			switch {
			case closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway:
				c.log.Info().Int("status", int(closeStatus)).Msg("WebSocket closed normally")
			case ctx.Err() != nil:
				c.log.Debug().Msg("Read cancelled by context")
			default:
				c.log.Error().Err(err).Msg("Unexpected WebSocket read error")
			}
			c.readErr = err
			return
		}

		if msgType != websocket.MessageText {
			c.log.Debug().Int("type", int(msgType)).Msg("Ignoring non-text message")
			continue
		}

		in, ok := c.handleMessage(string(data))
		if !ok {
			continue
		}

		select {
		case c.inbound <- in:
		case <-ctx.Done():
			c.readErr = ctx.Err()
			return
		}
	}
}

// handleMessage decodes one frame. ok is false for frames that produce no answer.
func (c *Client) handleMessage(data string) (inbound, bool) {
	f, err := parseFrame(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("Ignoring undecodable frame")
		return inbound{}, false
	}

	sub, known := c.lookup(f.id)
	if !known {
		// Late answers for released subscriptions still reach the consumer,
		// which reports them as unmatched.
		c.log.Debug().Int("subscription_id", f.id).Str("code", f.code).Msg("Answer for unknown subscription")
	}

	switch f.code {
	case codeAnswer:
		c.previous[f.id] = f.payload
	case codeDelta:
		payload, err := applyDelta(c.previous[f.id], f.payload)
		if err != nil {
			return inbound{err: fmt.Errorf("subscription %d: %w", f.id, err)}, true
		}
		c.previous[f.id] = payload
		f.payload = payload
	case codeComplete:
		delete(c.previous, f.id)
		c.forget(f.id)
		c.log.Debug().Int("subscription_id", f.id).Msg("Subscription completed")
		return inbound{}, false
	case codeError:
		delete(c.previous, f.id)
		c.forget(f.id)
		return inbound{err: &SubscriptionError{SubscriptionID: f.id, Subscription: sub, Payload: f.payload}}, true
	default:
		c.log.Warn().Int("subscription_id", f.id).Str("code", f.code).Msg("Ignoring frame with unknown code")
		return inbound{}, false
	}

	return inbound{msg: timeline.Message{
		SubscriptionID: f.id,
		Subscription:   sub,
		Response:       json.RawMessage(f.payload),
	}}, true
}
