package testing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/aristath/tradelog/internal/timeline"
)

// ErrNoAnswer is returned by MockSource.Recv when nothing is pending
var ErrNoAnswer = errors.New("mock source: no pending answer")

// MockSource is an in-memory timeline.Source answering page requests from a
// map keyed by cursor
type MockSource struct {
	mu       sync.Mutex
	pages    map[string]json.RawMessage
	pending  []timeline.Message
	nextID   int
	requests []string
	unsubbed []int
	closed   bool
	recvErr  error
}

// NewMockSource creates a mock source serving pages
func NewMockSource(pages map[string]json.RawMessage) *MockSource {
	return &MockSource{pages: pages}
}

// SetRecvError makes Recv fail with err
func (m *MockSource) SetRecvError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recvErr = err
}

// TimelineTransactions queues the page stored under after
func (m *MockSource) TimelineTransactions(ctx context.Context, after string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.requests = append(m.requests, after)
	page, ok := m.pages[after]
	if !ok {
		page = json.RawMessage(`{"items":[],"cursors":{}}`)
	}
	m.pending = append(m.pending, timeline.Message{
		SubscriptionID: m.nextID,
		Subscription:   timeline.Subscription{Type: timeline.SubscriptionTimelineTransactions, After: after},
		Response:       page,
	})
	return nil
}

// Recv pops the oldest pending answer
func (m *MockSource) Recv(ctx context.Context) (timeline.Message, error) {
	if err := ctx.Err(); err != nil {
		return timeline.Message{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recvErr != nil {
		return timeline.Message{}, m.recvErr
	}
	if len(m.pending) == 0 {
		return timeline.Message{}, ErrNoAnswer
	}
	msg := m.pending[0]
	m.pending = m.pending[1:]
	return msg, nil
}

// Unsubscribe records the released subscription
func (m *MockSource) Unsubscribe(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubbed = append(m.unsubbed, id)
	return nil
}

// Close marks the source closed
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Requests returns the cursors requested so far
func (m *MockSource) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

// Closed reports whether Close was called
func (m *MockSource) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockUploader records uploaded paths
type MockUploader struct {
	mu       sync.Mutex
	uploaded []string
	err      error
}

// NewMockUploader creates a new mock uploader
func NewMockUploader() *MockUploader {
	return &MockUploader{}
}

// SetError sets the error to return
func (m *MockUploader) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Upload records path and returns a fake object key
func (m *MockUploader) Upload(ctx context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.uploaded = append(m.uploaded, path)
	return "mock/" + path, nil
}

// Uploaded returns the uploaded paths
func (m *MockUploader) Uploaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.uploaded...)
}
