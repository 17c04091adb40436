package consultation

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"medical-consilium/internal/roster"
)

// ReportService delivers a summary of a finished consultation to the doctor.
type ReportService interface {
	SendDoctorReport(ctx context.Context, snap Snapshot) error
}

type Service interface {
	ListAgents() []roster.Agent
	CreateConsultation(ctx context.Context, agentIDs []string, cc CaseContext, mode DispatchMode) (*Session, error)
	Get(id uuid.UUID) (*Session, error)
	Start(ctx context.Context, id uuid.UUID) (*Session, error)
	SendFollowUp(ctx context.Context, id uuid.UUID, text string) (*Session, error)
	EndCall(ctx context.Context, id uuid.UUID) (*Session, error)
	// History reads the stored transcript, which also covers consultations
	// that are no longer live in this process.
	History(ctx context.Context, id uuid.UUID) ([]Message, error)
}

// DefaultRetention is how long an ended session stays live before only its
// stored history remains.
const DefaultRetention = 10 * time.Minute

// ServiceOption configures NewService.
type ServiceOption func(*service)

// WithRetention sets how long ended or failed sessions stay in memory.
func WithRetention(d time.Duration) ServiceOption {
	return func(s *service) { s.retention = d }
}

type service struct {
	registry  *roster.Registry
	coord     *Coordinator
	repo      Repository
	reportSvc ReportService
	logger    *log.Logger
	retention time.Duration

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewService wires the live-session registry. reportSvc may be nil.
func NewService(registry *roster.Registry, coord *Coordinator, repo Repository, report ReportService, logger *log.Logger, opts ...ServiceOption) Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &service{
		registry:  registry,
		coord:     coord,
		repo:      repo,
		reportSvc: report,
		logger:    logger,
		retention: DefaultRetention,
		sessions:  make(map[uuid.UUID]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) ListAgents() []roster.Agent {
	return s.registry.ListAgents()
}

func (s *service) CreateConsultation(ctx context.Context, agentIDs []string, cc CaseContext, mode DispatchMode) (*Session, error) {
	selection, err := s.registry.Resolve(agentIDs)
	if err != nil {
		return nil, &ValidationError{Field: "agents", Reason: err.Error()}
	}
	sess, err := NewSession(s.coord, selection, cc, mode)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveConsultation(ctx, sess.c.Record()); err != nil {
		s.logger.Printf("consultation %s: save record: %v", sess.ID(), err)
	}

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *service) Get(id uuid.UUID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *service) Start(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	err = sess.Start(ctx)
	if sess.State() == StateFailed {
		s.scheduleEviction(id)
	}
	return sess, err
}

func (s *service) SendFollowUp(ctx context.Context, id uuid.UUID, text string) (*Session, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return sess, sess.SendFollowUp(ctx, text)
}

// EndCall closes the session and, when it produced a verdict, sends the
// doctor report in the background.
func (s *service) EndCall(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	sess.EndCall(ctx)

	snap := sess.Snapshot()
	s.scheduleEviction(id)
	if s.reportSvc != nil && snap.Verdict != nil {
		go func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := s.reportSvc.SendDoctorReport(bgCtx, snap); err != nil {
				s.logger.Printf("consultation %s: send report: %v", id, err)
			}
		}()
	}
	return sess, nil
}

// scheduleEviction drops a finished session from memory after the retention
// period. History keeps serving it from the repository.
func (s *service) scheduleEviction(id uuid.UUID) {
	time.AfterFunc(s.retention, func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	})
}

func (s *service) History(ctx context.Context, id uuid.UUID) ([]Message, error) {
	if sess, err := s.Get(id); err == nil {
		return sess.Transcript(), nil
	}
	if _, err := s.repo.GetConsultation(ctx, id); err != nil {
		return nil, err
	}
	msgs, err := s.repo.ReadMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return msgs, nil
}
