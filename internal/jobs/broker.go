package jobs

import (
	"sync"
)

// Event names pushed to observers
const (
	EventConnected    = "connected"
	EventScanUpdate   = "scan_update"
	EventNewResult    = "new_result"
	EventScanComplete = "scan_complete"
	EventScanError    = "scan_error"
)

// ConnectedMessage greets every new observer
const ConnectedMessage = "Connected to SubARG event stream"

// Event is one notification for observers
type Event struct {
	Name   string
	ScanID string
	Data   interface{}
}

// ConnectedPayload is the data of a connected event
type ConnectedPayload struct {
	Message string `json:"message"`
}

// ScanUpdatePayload is the data of a scan_update event
type ScanUpdatePayload struct {
	ScanID      string `json:"scan_id"`
	Status      Status `json:"status"`
	Progress    int    `json:"progress"`
	CurrentTool string `json:"current_tool,omitempty"`
}

// NewResultPayload is the data of a new_result event
type NewResultPayload struct {
	ScanID    string `json:"scan_id"`
	Subdomain string `json:"subdomain"`
	Tool      string `json:"tool"`
}

// ScanCompletePayload is the data of a scan_complete event
type ScanCompletePayload struct {
	ScanID          string `json:"scan_id"`
	Status          Status `json:"status"`
	OutputFile      string `json:"output_file"`
	TotalSubdomains int    `json:"total_subdomains"`
}

// ScanErrorPayload is the data of a scan_error event
type ScanErrorPayload struct {
	ScanID string `json:"scan_id"`
	Error  string `json:"error"`
	Status Status `json:"status"`
}

const subscriberBuffer = 64

type subscriber struct {
	ch     chan Event
	scanID string
}

// Terminal reports whether ev ends its scan's stream
func (ev Event) Terminal() bool {
	return ev.Name == EventScanComplete || ev.Name == EventScanError
}

// Broker fans events out to observers. Observers that fall behind lose
// progress and result events; terminal events evict the oldest buffered
// event instead of being dropped.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	closed      bool
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{subscribers: make(map[*subscriber]struct{})}
}

// Subscribe registers an observer. A non-empty scanID limits delivery to
// that scan. The returned func unsubscribes and closes the channel.
func (b *Broker) Subscribe(scanID string) (<-chan Event, func()) {
	sub := &subscriber{
		ch:     make(chan Event, subscriberBuffer),
		scanID: scanID,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subscribers[sub]; ok {
				delete(b.subscribers, sub)
				close(sub.ch)
			}
		})
	}

	return sub.ch, unsubscribe
}

// Publish delivers ev to every matching observer without blocking
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.scanID != "" && sub.scanID != ev.ScanID {
			continue
		}
		sub.deliver(ev)
	}
}

func (s *subscriber) deliver(ev Event) {
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}

		if !ev.Terminal() {
			return
		}

		// Full buffer: make room by dropping the oldest event
		select {
		case <-s.ch:
		default:
		}
	}
}

// Close disconnects every observer
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, sub)
	}
}
