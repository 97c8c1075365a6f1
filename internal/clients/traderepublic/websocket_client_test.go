package traderepublic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/aristath/tradelog/internal/timeline"
)

// fakeBroker speaks the server side of the subscription protocol. respond
// maps an incoming "sub" frame to the frames written back.
type fakeBroker struct {
	t        *testing.T
	respond  func(id int, payload map[string]string) []string
	received chan string
}

func newFakeBroker(t *testing.T, respond func(id int, payload map[string]string) []string) (*fakeBroker, string) {
	b := &fakeBroker{t: t, respond: respond, received: make(chan string, 100)}
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)
	return b, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (b *fakeBroker) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	ctx := r.Context()

	_, hello, err := conn.Read(ctx)
	if err != nil || !strings.HasPrefix(string(hello), "connect 31 ") {
		conn.Close(websocket.StatusPolicyViolation, "expected connect")
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte("connected")); err != nil {
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		msg := string(data)
		b.received <- msg

		if !strings.HasPrefix(msg, "sub ") {
			continue
		}
		parts := strings.SplitN(msg, " ", 3)
		var id int
		fmt.Sscanf(parts[1], "%d", &id)
		var payload map[string]string
		_ = json.Unmarshal([]byte(parts[2]), &payload)

		for _, out := range b.respond(id, payload) {
			if err := conn.Write(ctx, websocket.MessageText, []byte(out)); err != nil {
				return
			}
		}
	}
}

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func dialTest(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, Config{URL: url, SessionToken: "session", Locale: "de"}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func recvTimeout(t *testing.T, client *Client) (timeline.Message, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Recv(ctx)
}

func TestClient_SubscribeAndReceiveAnswer(t *testing.T) {
	broker, url := newFakeBroker(t, func(id int, payload map[string]string) []string {
		return []string{fmt.Sprintf(`%d A {"items":[{"id":"x","timestamp":"2022-03-01T00:00:00.000+0000"}],"cursors":{"after":"c2"}}`, id)}
	})
	client := dialTest(t, url)

	require.NoError(t, client.TimelineTransactions(context.Background(), "c1"))

	sent := <-broker.received
	assert.True(t, strings.HasPrefix(sent, "sub 1 "))
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(strings.SplitN(sent, " ", 3)[2]), &payload))
	assert.Equal(t, map[string]string{"type": "timelineTransactions", "after": "c1", "token": "session"}, payload)

	msg, err := recvTimeout(t, client)
	require.NoError(t, err)
	assert.Equal(t, 1, msg.SubscriptionID)
	assert.True(t, msg.IsTimelinePage())
	assert.Equal(t, "c1", msg.Subscription.After)

	page, err := msg.Page()
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "x", page.Items[0].ID())
	assert.Equal(t, "c2", page.Cursors.After)
}

func TestClient_DeltaAnswers(t *testing.T) {
	_, url := newFakeBroker(t, func(id int, payload map[string]string) []string {
		return []string{
			fmt.Sprintf(`%d A {"a":1}`, id),
			fmt.Sprintf("%d D =6\t+%%2C%%22b%%22%%3A2%%7D\t-1", id),
		}
	})
	client := dialTest(t, url)

	require.NoError(t, client.TimelineTransactions(context.Background(), ""))

	first, err := recvTimeout(t, client)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(first.Response))

	second, err := recvTimeout(t, client)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":2}`, string(second.Response))
}

func TestClient_ErrorAnswer(t *testing.T) {
	_, url := newFakeBroker(t, func(id int, payload map[string]string) []string {
		return []string{
			fmt.Sprintf(`%d E {"errors":[{"errorCode":"AUTHENTICATION_ERROR"}]}`, id),
		}
	})
	client := dialTest(t, url)

	require.NoError(t, client.TimelineTransactions(context.Background(), ""))

	_, err := recvTimeout(t, client)
	var subErr *SubscriptionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, 1, subErr.SubscriptionID)
	assert.Equal(t, timeline.SubscriptionTimelineTransactions, subErr.Subscription.Type)
	assert.Contains(t, subErr.Payload, "AUTHENTICATION_ERROR")
}

func TestClient_CompleteFramesAreDropped(t *testing.T) {
	_, url := newFakeBroker(t, func(id int, payload map[string]string) []string {
		return []string{
			fmt.Sprintf(`%d C`, id),
			`99 A {"other":true}`,
		}
	})
	client := dialTest(t, url)

	require.NoError(t, client.TimelineTransactions(context.Background(), ""))

	msg, err := recvTimeout(t, client)
	require.NoError(t, err)
	assert.Equal(t, 99, msg.SubscriptionID)
	assert.False(t, msg.IsTimelinePage())
}

func TestClient_Unsubscribe(t *testing.T) {
	broker, url := newFakeBroker(t, func(id int, payload map[string]string) []string { return nil })
	client := dialTest(t, url)

	require.NoError(t, client.TimelineTransactions(context.Background(), ""))
	require.NoError(t, client.Unsubscribe(context.Background(), 1))

	assert.True(t, strings.HasPrefix(<-broker.received, "sub 1 "))
	assert.Equal(t, "unsub 1", <-broker.received)

	_, known := client.lookup(1)
	assert.False(t, known)
}

func TestClient_RecvHonoursContext(t *testing.T) {
	_, url := newFakeBroker(t, func(id int, payload map[string]string) []string { return nil })
	client := dialTest(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDial_RejectsUnexpectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		_, _, _ = conn.Read(r.Context())
		_ = conn.Write(r.Context(), websocket.MessageText, []byte("go away"))
		_, _, _ = conn.Read(r.Context())
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Dial(ctx, Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected connect reply")
}

// The collector and client together page through a broker until the cutoff.
func TestClient_WithCollector(t *testing.T) {
	pages := map[string]string{
		"":   `{"items":[{"id":"1","timestamp":"2022-03-01T00:00:00.000+0000"},{"id":"2","timestamp":"2022-02-01T00:00:00.000+0000"}],"cursors":{"after":"p2"}}`,
		"p2": `{"items":[{"id":"3","timestamp":"2021-12-01T00:00:00.000+0000"}],"cursors":{"after":"p3"}}`,
	}
	broker, url := newFakeBroker(t, func(id int, payload map[string]string) []string {
		return []string{
			`500 A {"unrelated":true}`,
			fmt.Sprintf("%d A %s", id, pages[payload["after"]]),
		}
	})
	client := dialTest(t, url)

	cutoff := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	collector := timeline.NewCollector(client, cutoff, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, collector.Collect(ctx))

	records := collector.Finalize()
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0].ID())
	assert.Equal(t, "2", records[1].ID())

	stats := collector.Stats()
	assert.Equal(t, 2, stats.Requests)
	assert.Equal(t, 2, stats.Unmatched)

	var subs int
	for {
		select {
		case msg := <-broker.received:
			if strings.HasPrefix(msg, "sub ") {
				subs++
			}
			continue
		case <-time.After(200 * time.Millisecond):
		}
		break
	}
	assert.Equal(t, 2, subs)
}
