package consultation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"medical-consilium/internal/roster"
)

// Session is the surface callers drive. It wires a Consultation to its
// Coordinator and hands out read-only snapshots.
type Session struct {
	c     *Consultation
	coord *Coordinator
}

// NewSession creates a consultation in Setup. Selection and case are checked
// when the session starts.
func NewSession(coord *Coordinator, selection []roster.Agent, cc CaseContext, mode DispatchMode) (*Session, error) {
	if mode != ModeParallel && mode != ModeTurnBased {
		return nil, &ValidationError{Field: "mode", Reason: "must be parallel or turn_based"}
	}
	return &Session{c: newConsultation(selection, cc, mode), coord: coord}, nil
}

func (s *Session) ID() uuid.UUID { return s.c.ID }

func (s *Session) Mode() DispatchMode { return s.c.Mode }

func (s *Session) Agents() []roster.Agent {
	return append([]roster.Agent(nil), s.c.Agents...)
}

func (s *Session) Start(ctx context.Context) error {
	return s.coord.Start(ctx, s.c)
}

func (s *Session) SendFollowUp(ctx context.Context, text string) error {
	return s.coord.SendFollowUp(ctx, s.c, text)
}

// SubmitDraft posts text composed elsewhere (for example a structured intake
// form) as the doctor's next message.
func (s *Session) SubmitDraft(ctx context.Context, text string) error {
	return s.SendFollowUp(ctx, text)
}

// EndCall closes the session without waiting for in-flight inference.
func (s *Session) EndCall(ctx context.Context) {
	s.coord.Cancel(ctx, s.c)
}

// CurrentVerdict returns false until at least one opinion exists.
func (s *Session) CurrentVerdict() (Verdict, bool) {
	v, err := s.c.Verdict()
	if err != nil {
		return Verdict{}, false
	}
	return v, true
}

func (s *Session) Transcript() []Message { return s.c.Transcript() }

func (s *Session) State() State { return s.c.State() }

func (s *Session) CurrentTurnAgentID() string { return s.c.CurrentTurnAgentID() }

func (s *Session) Opinions() map[string][]Opinion { return s.c.Opinions() }

func (s *Session) LatestOpinions() map[string]Opinion {
	return LatestOpinions(s.c.Opinions())
}

// Subscribe streams events until the session ends or cancel is called.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	return s.c.events.Subscribe(buffer)
}

// Snapshot is a consistent-enough read model for handlers and reports.
type Snapshot struct {
	ID          uuid.UUID          `json:"id"`
	Agents      []roster.Agent     `json:"agents"`
	Mode        DispatchMode       `json:"mode"`
	Case        CaseContext        `json:"case"`
	State       State              `json:"state"`
	Closed      bool               `json:"closed"`
	Round       int                `json:"round"`
	CurrentTurn string             `json:"current_turn_agent_id,omitempty"`
	Transcript  []Message          `json:"transcript"`
	Opinions    map[string]Opinion `json:"opinions"`
	Verdict     *Verdict           `json:"verdict"`
	CreatedAt   time.Time          `json:"created_at"`
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:          s.c.ID,
		Agents:      s.Agents(),
		Mode:        s.c.Mode,
		Case:        s.c.Case,
		State:       s.c.State(),
		Closed:      s.c.Closed(),
		Round:       s.c.Round(),
		CurrentTurn: s.c.CurrentTurnAgentID(),
		Transcript:  s.c.Transcript(),
		Opinions:    s.LatestOpinions(),
		CreatedAt:   s.c.CreatedAt,
	}
	if v, ok := s.CurrentVerdict(); ok {
		snap.Verdict = &v
	}
	return snap
}

// IsInsufficientData reports whether err means no verdict is available yet.
func IsInsufficientData(err error) bool {
	var target *InsufficientDataError
	return errors.As(err, &target)
}
