// testutils/notifier.go
package testutils

import (
	"context"
	"sync"
)

// Notification is one captured alert.
type Notification struct {
	Title   string
	Content string
}

// MockNotifier captures alerts and signals each send via a channel.
type MockNotifier struct {
	mu    sync.RWMutex
	calls []Notification

	Signal chan Notification
}

func NewMockNotifier(bufferSize int) *MockNotifier {
	return &MockNotifier{
		Signal: make(chan Notification, bufferSize),
	}
}

func (n *MockNotifier) Notify(ctx context.Context, title, content string) error {
	notification := Notification{Title: title, Content: content}
	n.mu.Lock()
	n.calls = append(n.calls, notification)
	n.mu.Unlock()

	n.Signal <- notification
	return nil
}

// Calls returns how many alerts were sent.
func (n *MockNotifier) Calls() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.calls)
}
