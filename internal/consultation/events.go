package consultation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventMessageAppended EventType = "message_appended"
	EventOpinionRecorded EventType = "opinion_recorded"
	EventStateChanged    EventType = "state_changed"
	EventVerdictUpdated  EventType = "verdict_updated"
	EventAgentAnalyzing  EventType = "agent_analyzing"
)

// Event is pushed to subscribers of a consultation. Only the field matching
// Type is set, besides the common header.
type Event struct {
	Type           EventType `json:"type"`
	ConsultationID uuid.UUID `json:"consultation_id"`
	At             time.Time `json:"at"`
	AgentID        string    `json:"agent_id,omitempty"`
	Message        *Message  `json:"message,omitempty"`
	Opinion        *Opinion  `json:"opinion,omitempty"`
	State          State     `json:"state,omitempty"`
	Verdict        *Verdict  `json:"verdict,omitempty"`
}

// Broadcaster fans events out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel func unregisters it and
// closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
