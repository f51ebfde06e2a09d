package session

import "sync"

// EventKind distinguishes session transitions.
type EventKind int

const (
	EventStarted EventKind = iota + 1
	EventEnded
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Reasons a session ends.
const (
	ReasonLogout   = "logout"
	ReasonRejected = "rejected"
	ReasonExpired  = "expired"
)

// Event is published to watchers of a context id.
type Event struct {
	Kind   EventKind
	Reason string
}

const watchBuffer = 4

type hub struct {
	mu       sync.Mutex
	watchers map[string]map[chan Event]struct{}
}

func newHub() *hub {
	return &hub{watchers: make(map[string]map[chan Event]struct{})}
}

func (h *hub) subscribe(contextID string) (<-chan Event, func()) {
	ch := make(chan Event, watchBuffer)
	h.mu.Lock()
	set, ok := h.watchers[contextID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.watchers[contextID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.watchers[contextID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.watchers, contextID)
				}
			}
			close(ch)
		})
	}
}

// publish never blocks; a watcher whose buffer is full misses the event.
func (h *hub) publish(contextID string, evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.watchers[contextID] {
		select {
		case ch <- evt:
		default:
		}
	}
}
