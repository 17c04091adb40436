package consultation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Repository is the audit store. The in-memory transcript stays the source of
// truth for live sessions; writes here are best-effort.
type Repository interface {
	SaveConsultation(ctx context.Context, rec Record) error
	GetConsultation(ctx context.Context, id uuid.UUID) (*Record, error)
	AppendMessage(ctx context.Context, consultationID uuid.UUID, m Message) error
	AppendOpinion(ctx context.Context, consultationID uuid.UUID, o Opinion) error
	ReadMessages(ctx context.Context, consultationID uuid.UUID) ([]Message, error)
}

type memoryRepo struct {
	mu       sync.RWMutex
	records  map[uuid.UUID]Record
	messages map[uuid.UUID][]Message
	opinions map[uuid.UUID][]Opinion
}

// NewMemoryRepository keeps everything in process memory.
func NewMemoryRepository() Repository {
	return &memoryRepo{
		records:  make(map[uuid.UUID]Record),
		messages: make(map[uuid.UUID][]Message),
		opinions: make(map[uuid.UUID][]Opinion),
	}
}

func (r *memoryRepo) SaveConsultation(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.records[rec.ID]; ok && !prev.CreatedAt.IsZero() {
		rec.CreatedAt = prev.CreatedAt
	}
	r.records[rec.ID] = rec
	return nil
}

func (r *memoryRepo) GetConsultation(_ context.Context, id uuid.UUID) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (r *memoryRepo) AppendMessage(_ context.Context, id uuid.UUID, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.messages[id] {
		if existing.ID == m.ID {
			return nil
		}
	}
	r.messages[id] = append(r.messages[id], m)
	return nil
}

func (r *memoryRepo) AppendOpinion(_ context.Context, id uuid.UUID, o Opinion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opinions[id] = append(r.opinions[id], o)
	return nil
}

func (r *memoryRepo) ReadMessages(_ context.Context, id uuid.UUID) ([]Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]Message(nil), r.messages[id]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

type postgresRepo struct {
	db *sql.DB
}

// NewPostgresRepository stores consultations in the schema from migrations/.
func NewPostgresRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

func (r *postgresRepo) SaveConsultation(ctx context.Context, rec Record) error {
	agentsJSON, err := json.Marshal(rec.AgentIDs)
	if err != nil {
		return err
	}
	caseJSON, err := json.Marshal(rec.Case)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO consultations (id, agent_ids, mode, case_context, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			state = $5,
			updated_at = $7
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID, agentsJSON, rec.Mode, caseJSON, rec.State, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r *postgresRepo) GetConsultation(ctx context.Context, id uuid.UUID) (*Record, error) {
	query := `SELECT id, agent_ids, mode, case_context, state, created_at, updated_at FROM consultations WHERE id = $1`

	var rec Record
	var agentsJSON, caseJSON []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&agentsJSON,
		&rec.Mode,
		&caseJSON,
		&rec.State,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(agentsJSON, &rec.AgentIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent ids: %w", err)
	}
	if err := json.Unmarshal(caseJSON, &rec.Case); err != nil {
		return nil, fmt.Errorf("failed to unmarshal case: %w", err)
	}
	return &rec, nil
}

func (r *postgresRepo) AppendMessage(ctx context.Context, id uuid.UUID, m Message) error {
	query := `
		INSERT INTO consultation_messages (id, consultation_id, seq, round, sender_kind, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		m.ID, id, m.Seq, m.Round, m.SenderKind, m.SenderID, m.Content, m.CreatedAt)
	return err
}

func (r *postgresRepo) AppendOpinion(ctx context.Context, id uuid.UUID, o Opinion) error {
	query := `
		INSERT INTO consultation_opinions (consultation_id, agent_id, round, diagnosis, recommendation, confidence, produced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		id, o.AgentID, o.Round, o.Diagnosis, o.Recommendation, o.Confidence, o.ProducedAt)
	return err
}

func (r *postgresRepo) ReadMessages(ctx context.Context, id uuid.UUID) ([]Message, error) {
	query := `
		SELECT id, seq, round, sender_kind, sender_id, content, created_at
		FROM consultation_messages WHERE consultation_id = $1 ORDER BY seq
	`
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Seq, &m.Round, &m.SenderKind, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
