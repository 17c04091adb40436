package consultation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transcript is the append-only message log shared by one consultation.
// Appends are serialized by a single lock; Seq is assigned under that lock
// and is the only ordering callers should rely on.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
	now      func() time.Time
}

func NewTranscript() *Transcript {
	return &Transcript{now: time.Now}
}

// Append stamps msg with the next sequence number (and an id and timestamp
// when missing) and returns the stored copy. Timestamps never go backwards.
func (t *Transcript) Append(msg Message) Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg.Seq = len(t.messages)
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	now := t.now()
	if n := len(t.messages); n > 0 && now.Before(t.messages[n-1].CreatedAt) {
		now = t.messages[n-1].CreatedAt
	}
	if msg.CreatedAt.IsZero() || msg.CreatedAt.Before(now) {
		msg.CreatedAt = now
	}
	t.messages = append(t.messages, msg)
	return msg
}

// Snapshot returns a copy of the log.
func (t *Transcript) Snapshot() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}
