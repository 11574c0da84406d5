// Package events provides the in-process event feed for the raffle service.
// Services publish lifecycle events into a ring buffer; the HTTP API exposes
// the recent history and streams live events to websocket subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Type classifies the kind of event.
type Type string

const (
	// Raffle lifecycle events
	TypeRaffleEntered         Type = "raffle.entered"
	TypeRaffleWinnerRequested Type = "raffle.winner_requested"
	TypeRaffleWinnerPicked    Type = "raffle.winner_picked"
	TypeRafflePayoutFailed    Type = "raffle.payout_failed"
	TypeRaffleDrawAborted     Type = "raffle.draw_aborted"
	TypeRaffleDrawRedriven    Type = "raffle.draw_redriven"

	// Randomness events
	TypeRandomnessRequested Type = "randomness.requested"
	TypeRandomnessFulfilled Type = "randomness.fulfilled"
	TypeRandomnessFailed    Type = "randomness.failed"

	// Wallet events
	TypeWalletDeposit Type = "wallet.deposit"
	TypeWalletPayout  Type = "wallet.payout"
)

// Module returns the component that emitted the event, the part of the
// type before the first dot.
func (t Type) Module() string {
	s := string(t)
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s[:i]
		}
	}
	return s
}

// Severity indicates the importance of an event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is a single entry in the event feed.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	RoundID   string  `json:"round_id,omitempty"`
	RequestID string  `json:"request_id,omitempty"`
	Address   string  `json:"address,omitempty"`
	Amount    float64 `json:"amount,omitempty"`

	Message  string            `json:"message,omitempty"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// String returns a human-readable representation.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// Handler processes events as they are published.
type Handler func(Event)

// Filter decides whether an event should be delivered to a handler.
type Filter func(Event) bool

// Log is a thread-safe circular event buffer with subscriber fan-out.
type Log struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

// NewLog creates an event log holding at most size events.
func NewLog(size int) *Log {
	if size <= 0 {
		size = 1000
	}
	return &Log{
		events: make([]Event, size),
		size:   size,
	}
}

// Publish appends an event and notifies subscribers.
func (l *Log) Publish(event Event) {
	l.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if event.ID == "" {
		event.ID = generateEventID()
	}

	l.events[l.head] = event
	l.head = (l.head + 1) % l.size
	if l.count < l.size {
		l.count++
	}

	handlers := make([]handlerEntry, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.Unlock()

	// Notify handlers outside the lock
	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// Subscribe registers a handler for all events. The returned function
// removes the subscription.
func (l *Log) Subscribe(handler Handler) func() {
	return l.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler that only receives events passing
// the filter.
func (l *Log) SubscribeFiltered(filter Filter, handler Handler) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.handlers = append(l.handlers, handlerEntry{
		id:      id,
		filter:  filter,
		handler: handler,
	})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, h := range l.handlers {
			if h.id == id {
				l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent n events in reverse chronological order.
func (l *Log) Recent(n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || l.count == 0 {
		return nil
	}
	if n > l.count {
		n = l.count
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (l.head - 1 - i + l.size) % l.size
		result[i] = l.events[idx]
	}
	return result
}

// RecentByType returns the most recent n events of the given type.
func (l *Log) RecentByType(eventType Type, n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || l.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < l.count && len(result) < n; i++ {
		idx := (l.head - 1 - i + l.size) % l.size
		if l.events[idx].Type == eventType {
			result = append(result, l.events[idx])
		}
	}
	return result
}

// RecentByModule returns the most recent n events emitted by the given
// module, such as "raffle" or "wallet".
func (l *Log) RecentByModule(module string, n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || l.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < l.count && len(result) < n; i++ {
		idx := (l.head - 1 - i + l.size) % l.size
		if l.events[idx].Type.Module() == module {
			result = append(result, l.events[idx])
		}
	}
	return result
}

// Count returns the number of buffered events.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Clear removes all buffered events.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = make([]Event, l.size)
	l.head = 0
	l.count = 0
}

func generateEventID() string {
	return time.Now().UTC().Format("20060102150405.000000000")
}
