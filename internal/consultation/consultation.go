package consultation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"medical-consilium/internal/roster"
)

// Consultation is the aggregate root. Its selection, mode and case are fixed
// at creation; everything else is guarded by mu and only changed by the
// Coordinator.
type Consultation struct {
	ID        uuid.UUID
	Agents    []roster.Agent
	Mode      DispatchMode
	Case      CaseContext
	CreatedAt time.Time

	transcript *Transcript
	events     *Broadcaster

	mu            sync.Mutex
	state         State
	opinions      map[string][]Opinion
	round         int
	currentTurn   string
	lastResponder string
	closed        bool
	cancelRound   context.CancelFunc
}

func newConsultation(agents []roster.Agent, cc CaseContext, mode DispatchMode) *Consultation {
	selection := make([]roster.Agent, len(agents))
	copy(selection, agents)
	return &Consultation{
		ID:         uuid.New(),
		Agents:     selection,
		Mode:       mode,
		Case:       cc,
		CreatedAt:  time.Now(),
		transcript: NewTranscript(),
		events:     NewBroadcaster(),
		state:      StateSetup,
		opinions:   make(map[string][]Opinion),
	}
}

func (c *Consultation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentTurnAgentID is the agent that answered last in turn-based mode.
func (c *Consultation) CurrentTurnAgentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTurn
}

func (c *Consultation) Round() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.round
}

// Closed reports whether EndCall was called.
func (c *Consultation) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Consultation) Transcript() []Message {
	return c.transcript.Snapshot()
}

// Opinions returns a copy of the full per-agent history.
func (c *Consultation) Opinions() map[string][]Opinion {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string][]Opinion, len(c.opinions))
	for id, ops := range c.opinions {
		out[id] = append([]Opinion(nil), ops...)
	}
	return out
}

// Verdict computes the consensus over the latest opinion per agent.
func (c *Consultation) Verdict() (Verdict, error) {
	c.mu.Lock()
	latest := LatestOpinions(c.opinions)
	c.mu.Unlock()
	return ComputeVerdict(c.agentIDs(), latest)
}

func (c *Consultation) Record() Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordLocked()
}

func (c *Consultation) recordLocked() Record {
	return Record{
		ID:        c.ID,
		AgentIDs:  c.agentIDs(),
		Mode:      c.Mode,
		Case:      c.Case,
		State:     c.state,
		CreatedAt: c.CreatedAt,
		UpdatedAt: time.Now(),
	}
}

func (c *Consultation) agentIDs() []string {
	ids := make([]string, len(c.Agents))
	for i, a := range c.Agents {
		ids[i] = a.ID
	}
	return ids
}

// nextTurnLocked picks the agent after the last responder, cyclically.
// When the last responder is unknown it starts over from the first agent.
func (c *Consultation) nextTurnLocked() roster.Agent {
	for i, a := range c.Agents {
		if a.ID == c.lastResponder {
			return c.Agents[(i+1)%len(c.Agents)]
		}
	}
	return c.Agents[0]
}

func (c *Consultation) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.publishLocked(Event{Type: EventStateChanged, State: s})
}

func (c *Consultation) appendLocked(m Message) Message {
	stored := c.transcript.Append(m)
	c.publishLocked(Event{Type: EventMessageAppended, AgentID: agentOf(stored), Message: &stored})
	return stored
}

func (c *Consultation) recordOpinionLocked(op Opinion) {
	c.opinions[op.AgentID] = append(c.opinions[op.AgentID], op)
	c.publishLocked(Event{Type: EventOpinionRecorded, AgentID: op.AgentID, Opinion: &op})

	if v, err := ComputeVerdict(c.agentIDs(), LatestOpinions(c.opinions)); err == nil {
		c.publishLocked(Event{Type: EventVerdictUpdated, Verdict: &v})
	}
}

func (c *Consultation) publishLocked(ev Event) {
	ev.ConsultationID = c.ID
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	c.events.Publish(ev)
}

func agentOf(m Message) string {
	if m.SenderKind == SenderAgent {
		return m.SenderID
	}
	return ""
}
