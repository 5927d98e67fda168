package cartsync

import (
	"sync"
	"time"
)

type EventType string

const (
	// EventCartUpdated fires after every successful cart mutation.
	EventCartUpdated EventType = "cart_updated"
	// EventNotice carries a user-facing message.
	EventNotice EventType = "notice"
	// EventSyncFailed reports a background remote write that did not land.
	EventSyncFailed EventType = "sync_failed"
)

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

type Event struct {
	Type    EventType
	Level   NoticeLevel
	Message string
	Op      string
	Err     error
	At      time.Time
}

// Notifier fans events out to subscribers in the publishing goroutine.
type Notifier struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Event)
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns the function that removes it.
func (n *Notifier) Subscribe(fn func(Event)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	n.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs, id)
		})
	}
}

func (n *Notifier) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	n.mu.RLock()
	subs := make([]func(Event), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}
