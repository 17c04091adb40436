package consultation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SenderKind string

const (
	SenderDoctor SenderKind = "doctor"
	SenderAgent  SenderKind = "agent"
	SenderSystem SenderKind = "system"
)

// Sender ids for the non-agent participants.
const (
	DoctorSenderID = "doctor"
	SystemSenderID = "system"
)

// Message is a transcript entry. It is immutable once appended.
type Message struct {
	ID         uuid.UUID  `json:"id"`
	Seq        int        `json:"seq"` // insertion index, the authoritative order
	Round      int        `json:"round"`
	SenderKind SenderKind `json:"sender_kind"`
	SenderID   string     `json:"sender_id"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Opinion is one agent's answer for one dispatch round.
type Opinion struct {
	AgentID        string    `json:"agent_id"`
	Round          int       `json:"round"`
	Diagnosis      string    `json:"diagnosis"`
	Recommendation string    `json:"recommendation"`
	Confidence     int       `json:"confidence"` // 0..100
	ProducedAt     time.Time `json:"produced_at"`
}

type DispatchMode string

const (
	ModeParallel  DispatchMode = "parallel"
	ModeTurnBased DispatchMode = "turn_based"
)

// ParseMode accepts the wire names plus a few common spellings.
func ParseMode(s string) (DispatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "parallel":
		return ModeParallel, nil
	case "turn_based", "turnbased", "turn-based", "sequential":
		return ModeTurnBased, nil
	default:
		return "", &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown dispatch mode %q", s)}
	}
}

type State string

const (
	StateSetup        State = "setup"
	StateRunning      State = "running"
	StateAwaitingTurn State = "awaiting_turn"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// QAPair is one structured intake answer.
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// CaseContext is the case handed to the agents at Start.
type CaseContext struct {
	PatientRef        string   `json:"patient_ref,omitempty"`
	Symptoms          string   `json:"symptoms"`
	StructuredAnswers []QAPair `json:"structured_answers,omitempty"`
}

// Prompt renders the doctor's opening message.
func (c CaseContext) Prompt() string {
	var b strings.Builder
	if c.PatientRef != "" {
		fmt.Fprintf(&b, "Patient: %s\n", c.PatientRef)
	}
	fmt.Fprintf(&b, "Symptoms: %s", strings.TrimSpace(c.Symptoms))
	for _, qa := range c.StructuredAnswers {
		fmt.Fprintf(&b, "\n- %s %s", qa.Question, qa.Answer)
	}
	return b.String()
}

// Verdict is derived from the latest opinions and always replaced wholesale.
type Verdict struct {
	ConsensusDiagnosis string    `json:"consensus_diagnosis"`
	AgreementCount     int       `json:"agreement_count"`
	TotalAgents        int       `json:"total_agents"`
	AgreementRatio     float64   `json:"agreement_ratio"`
	AverageConfidence  float64   `json:"average_confidence"`
	ComputedAt         time.Time `json:"computed_at"`
}

// Record is the persisted header of a consultation.
type Record struct {
	ID        uuid.UUID    `json:"id" db:"id"`
	AgentIDs  []string     `json:"agent_ids" db:"agent_ids"`
	Mode      DispatchMode `json:"mode" db:"mode"`
	Case      CaseContext  `json:"case" db:"case_context"`
	State     State        `json:"state" db:"state"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}
