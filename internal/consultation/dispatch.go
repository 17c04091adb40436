package consultation

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"medical-consilium/internal/roster"
)

// InferenceClient produces one opinion for one agent. Implementations must be
// safe for concurrent use and honour ctx cancellation.
type InferenceClient interface {
	GenerateOpinion(ctx context.Context, transcript []Message, agent roster.Agent, trigger string) (Opinion, error)
}

// FailedOpinionText is posted on behalf of an agent whose call failed.
const FailedOpinionText = "I was unable to process this case. Please try again or rely on the other specialists' opinions."

type DispatchConfig struct {
	// CallTimeout bounds every single inference attempt.
	CallTimeout time.Duration
	// MaxAttempts per agent per round; values below 1 mean 1.
	MaxAttempts int
	// RetryBackoff is multiplied by the attempt number between attempts.
	RetryBackoff time.Duration
	// Stagger delays the i-th parallel call by i*Stagger. Cosmetic only.
	Stagger time.Duration
}

func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		CallTimeout:  30 * time.Second,
		MaxAttempts:  2,
		RetryBackoff: 500 * time.Millisecond,
		Stagger:      250 * time.Millisecond,
	}
}

// Coordinator drives dispatch rounds and is the only writer of consultation
// state. Late results arriving after EndCall are dropped.
type Coordinator struct {
	client InferenceClient
	repo   Repository
	cfg    DispatchConfig
	logger *log.Logger
}

func NewCoordinator(client InferenceClient, repo Repository, cfg DispatchConfig, logger *log.Logger) *Coordinator {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if repo == nil {
		repo = NewMemoryRepository()
	}
	return &Coordinator{client: client, repo: repo, cfg: cfg, logger: logger}
}

// Start validates the case, posts the opening messages and runs round 1.
// It returns once every dispatched call has resolved or been abandoned.
func (d *Coordinator) Start(ctx context.Context, c *Consultation) error {
	c.mu.Lock()
	if c.closed || c.state != StateSetup {
		st := c.state
		c.mu.Unlock()
		return &InvalidStateError{Op: "start", State: st}
	}
	if err := validateStart(c); err != nil {
		c.setStateLocked(StateFailed)
		rec := c.recordLocked()
		c.mu.Unlock()
		d.persistRecord(ctx, rec)
		return err
	}

	// Only EndCall cancels a round; the caller going away does not.
	roundCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancelRound = cancel
	c.round = 1
	c.setStateLocked(StateRunning)
	doctor := c.appendLocked(Message{Round: 1, SenderKind: SenderDoctor, SenderID: DoctorSenderID, Content: c.Case.Prompt()})
	system := c.appendLocked(Message{Round: 1, SenderKind: SenderSystem, SenderID: SystemSenderID, Content: engagedSummary(c.Agents, c.Mode)})
	targets := c.Agents
	if c.Mode == ModeTurnBased {
		targets = c.Agents[:1]
	}
	rec := c.recordLocked()
	c.mu.Unlock()

	d.persistRecord(ctx, rec)
	d.persistMessages(ctx, c, doctor, system)

	d.runRound(roundCtx, c, 1, targets, c.Case.Symptoms)
	cancel()
	return nil
}

// SendFollowUp posts a doctor message and re-dispatches. Parallel mode asks
// every agent again; turn-based mode asks only the next agent in rotation.
func (d *Coordinator) SendFollowUp(ctx context.Context, c *Consultation, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return &ValidationError{Field: "message", Reason: "must not be empty"}
	}

	c.mu.Lock()
	if c.closed || (c.state != StateCompleted && c.state != StateAwaitingTurn) {
		st := c.state
		c.mu.Unlock()
		return &InvalidStateError{Op: "send follow-up", State: st}
	}

	roundCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancelRound = cancel
	c.round++
	round := c.round
	c.setStateLocked(StateRunning)
	doctor := c.appendLocked(Message{Round: round, SenderKind: SenderDoctor, SenderID: DoctorSenderID, Content: text})
	targets := c.Agents
	if c.Mode == ModeTurnBased {
		targets = []roster.Agent{c.nextTurnLocked()}
	}
	rec := c.recordLocked()
	c.mu.Unlock()

	d.persistRecord(ctx, rec)
	d.persistMessages(ctx, c, doctor)

	d.runRound(roundCtx, c, round, targets, text)
	cancel()
	return nil
}

// Cancel ends the consultation without waiting for in-flight calls. Running
// and awaiting consultations become Failed; a Completed one stays Completed
// and is closed to further messages.
func (d *Coordinator) Cancel(ctx context.Context, c *Consultation) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancelRound != nil {
		c.cancelRound()
	}
	if c.state != StateCompleted {
		c.setStateLocked(StateFailed)
	}
	rec := c.recordLocked()
	c.mu.Unlock()

	c.events.Close()
	d.persistRecord(ctx, rec)
}

func (d *Coordinator) runRound(ctx context.Context, c *Consultation, round int, targets []roster.Agent, trigger string) {
	g, gctx := errgroup.WithContext(ctx)
	for i, agent := range targets {
		g.Go(func() error {
			// An aborted stagger still goes through consult, which either
			// drops the agent on a closed session or records its failure.
			_ = d.stagger(gctx, i)
			d.consult(gctx, c, round, agent, trigger)
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.cancelRound = nil
	if c.Mode == ModeTurnBased {
		c.currentTurn = c.lastResponder
		c.setStateLocked(StateAwaitingTurn)
	} else {
		c.setStateLocked(StateCompleted)
	}
	rec := c.recordLocked()
	c.mu.Unlock()

	d.persistRecord(context.WithoutCancel(ctx), rec)
}

// consult runs one agent call. Failures stay local to the agent and become
// an attributed transcript message.
func (d *Coordinator) consult(ctx context.Context, c *Consultation, round int, agent roster.Agent, trigger string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.publishLocked(Event{Type: EventAgentAnalyzing, AgentID: agent.ID})
	c.mu.Unlock()

	op, err := d.generate(ctx, c.transcript.Snapshot(), agent, trigger)

	msg := Message{Round: round, SenderKind: SenderAgent, SenderID: agent.ID}
	if err != nil {
		d.logger.Printf("consultation %s: %v", c.ID, err)
		msg.Content = FailedOpinionText
	} else {
		op.AgentID = agent.ID
		op.Round = round
		op.Confidence = clampConfidence(op.Confidence)
		if op.ProducedAt.IsZero() {
			op.ProducedAt = time.Now()
		}
		msg.Content = FormatOpinion(agent, op)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		d.logger.Printf("consultation %s: dropping late response from %s", c.ID, agent.ID)
		return
	}
	stored := c.appendLocked(msg)
	if err == nil {
		c.recordOpinionLocked(op)
	}
	c.lastResponder = agent.ID
	c.mu.Unlock()

	pctx := context.WithoutCancel(ctx)
	var perr error
	if e := d.repo.AppendMessage(pctx, c.ID, stored); e != nil {
		perr = multierror.Append(perr, fmt.Errorf("append message: %w", e))
	}
	if err == nil {
		if e := d.repo.AppendOpinion(pctx, c.ID, op); e != nil {
			perr = multierror.Append(perr, fmt.Errorf("append opinion: %w", e))
		}
	}
	if perr != nil {
		d.logger.Printf("consultation %s: persist %s response: %v", c.ID, agent.ID, perr)
	}
}

func (d *Coordinator) generate(ctx context.Context, transcript []Message, agent roster.Agent, trigger string) (Opinion, error) {
	var lastErr error
	attempts := 0
	for attempts < d.cfg.MaxAttempts {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		op, err := d.client.GenerateOpinion(callCtx, transcript, agent, trigger)
		cancel()
		if err == nil {
			return op, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempts == d.cfg.MaxAttempts {
			break
		}
		if err := sleepCtx(ctx, d.cfg.RetryBackoff*time.Duration(attempts)); err != nil {
			break
		}
	}
	return Opinion{}, &InferenceError{AgentID: agent.ID, Attempts: attempts, Err: lastErr}
}

func (d *Coordinator) stagger(ctx context.Context, i int) error {
	if d.cfg.Stagger <= 0 || i == 0 {
		return ctx.Err()
	}
	return sleepCtx(ctx, d.cfg.Stagger*time.Duration(i))
}

func (d *Coordinator) persistRecord(ctx context.Context, rec Record) {
	if err := d.repo.SaveConsultation(context.WithoutCancel(ctx), rec); err != nil {
		d.logger.Printf("consultation %s: save record: %v", rec.ID, err)
	}
}

func (d *Coordinator) persistMessages(ctx context.Context, c *Consultation, msgs ...Message) {
	var perr error
	for _, m := range msgs {
		if err := d.repo.AppendMessage(context.WithoutCancel(ctx), c.ID, m); err != nil {
			perr = multierror.Append(perr, err)
		}
	}
	if perr != nil {
		d.logger.Printf("consultation %s: persist messages: %v", c.ID, perr)
	}
}

func validateStart(c *Consultation) error {
	if len(c.Agents) == 0 {
		return &ValidationError{Field: "agents", Reason: "select at least one agent"}
	}
	if strings.TrimSpace(c.Case.Symptoms) == "" {
		return &ValidationError{Field: "symptoms", Reason: "must not be empty"}
	}
	return nil
}

func engagedSummary(agents []roster.Agent, mode DispatchMode) string {
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = fmt.Sprintf("%s (%s)", a.Name, a.Specialty)
	}
	how := "in parallel"
	if mode == ModeTurnBased {
		how = "one at a time"
	}
	return fmt.Sprintf("Consultation started with %s, answering %s.", strings.Join(names, ", "), how)
}

// FormatOpinion renders an opinion as the agent's transcript message.
func FormatOpinion(agent roster.Agent, op Opinion) string {
	return fmt.Sprintf("%s, %s\nDiagnosis: %s\nConfidence: %d%%\nRecommendation: %s",
		agent.Name, agent.Specialty, op.Diagnosis, op.Confidence, op.Recommendation)
}

func clampConfidence(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
