package mcptools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"medical-consilium/internal/consultation"
	"medical-consilium/internal/roster"
)

// ConsultationTools adapts consultation.Service to MCP tool handlers.
type ConsultationTools struct {
	svc consultation.Service
}

func (t *ConsultationTools) ListAgents(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ ListAgentsInput,
) (*mcp.CallToolResult, ListAgentsOutput, error) {
	return nil, ListAgentsOutput{Agents: agentInfos(t.svc.ListAgents())}, nil
}

func (t *ConsultationTools) CreateConsultation(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input CreateConsultationInput,
) (*mcp.CallToolResult, ConsultationOutput, error) {
	mode, err := consultation.ParseMode(input.Mode)
	if err != nil {
		return nil, ConsultationOutput{}, err
	}
	cc := consultation.CaseContext{
		PatientRef: input.PatientRef,
		Symptoms:   input.Symptoms,
	}
	for _, a := range input.Answers {
		cc.StructuredAnswers = append(cc.StructuredAnswers, consultation.QAPair{Question: a.Question, Answer: a.Answer})
	}

	sess, err := t.svc.CreateConsultation(ctx, input.AgentIDs, cc, mode)
	if err != nil {
		return nil, ConsultationOutput{}, err
	}
	if input.Start {
		if _, err := t.svc.Start(ctx, sess.ID()); err != nil {
			return nil, ConsultationOutput{}, fmt.Errorf("start consultation %s: %w", sess.ID(), err)
		}
	}
	return nil, consultationOutput(sess.Snapshot()), nil
}

func (t *ConsultationTools) SendFollowUp(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SendFollowUpInput,
) (*mcp.CallToolResult, ConsultationOutput, error) {
	id, err := parseID(input.ConsultationID)
	if err != nil {
		return nil, ConsultationOutput{}, err
	}
	sess, err := t.svc.SendFollowUp(ctx, id, input.Text)
	if err != nil {
		return nil, ConsultationOutput{}, err
	}
	return nil, consultationOutput(sess.Snapshot()), nil
}

func (t *ConsultationTools) GetVerdict(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input ConsultationIDInput,
) (*mcp.CallToolResult, ConsultationOutput, error) {
	id, err := parseID(input.ConsultationID)
	if err != nil {
		return nil, ConsultationOutput{}, err
	}
	sess, err := t.svc.Get(id)
	if err != nil {
		return nil, ConsultationOutput{}, err
	}
	return nil, consultationOutput(sess.Snapshot()), nil
}

// GetTranscript also serves consultations that only exist in storage.
func (t *ConsultationTools) GetTranscript(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ConsultationIDInput,
) (*mcp.CallToolResult, TranscriptOutput, error) {
	id, err := parseID(input.ConsultationID)
	if err != nil {
		return nil, TranscriptOutput{}, err
	}
	msgs, err := t.svc.History(ctx, id)
	if err != nil {
		return nil, TranscriptOutput{}, err
	}
	out := TranscriptOutput{ConsultationID: id.String(), Messages: make([]MessageInfo, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, MessageInfo{
			Seq:        m.Seq,
			Round:      m.Round,
			SenderKind: string(m.SenderKind),
			SenderID:   m.SenderID,
			Content:    m.Content,
			CreatedAt:  m.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	return nil, out, nil
}

func (t *ConsultationTools) EndConsultation(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ConsultationIDInput,
) (*mcp.CallToolResult, ConsultationOutput, error) {
	id, err := parseID(input.ConsultationID)
	if err != nil {
		return nil, ConsultationOutput{}, err
	}
	sess, err := t.svc.EndCall(ctx, id)
	if err != nil {
		return nil, ConsultationOutput{}, err
	}
	return nil, consultationOutput(sess.Snapshot()), nil
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid consultationId %q: %w", raw, err)
	}
	return id, nil
}

func agentInfos(agents []roster.Agent) []AgentInfo {
	out := make([]AgentInfo, 0, len(agents))
	for _, a := range agents {
		out = append(out, AgentInfo{ID: a.ID, Name: a.Name, Specialty: a.Specialty})
	}
	return out
}

func consultationOutput(snap consultation.Snapshot) ConsultationOutput {
	out := ConsultationOutput{
		ID:          snap.ID.String(),
		Mode:        string(snap.Mode),
		State:       string(snap.State),
		Closed:      snap.Closed,
		Round:       snap.Round,
		CurrentTurn: snap.CurrentTurn,
		Agents:      agentInfos(snap.Agents),
		Opinions:    []OpinionInfo{},
	}
	// Opinions follow the agent selection order.
	for _, a := range snap.Agents {
		op, ok := snap.Opinions[a.ID]
		if !ok {
			continue
		}
		out.Opinions = append(out.Opinions, OpinionInfo{
			AgentID:        op.AgentID,
			Round:          op.Round,
			Diagnosis:      op.Diagnosis,
			Recommendation: op.Recommendation,
			Confidence:     op.Confidence,
		})
	}
	if v := snap.Verdict; v != nil {
		out.Verdict = VerdictInfo{
			Available:          true,
			ConsensusDiagnosis: v.ConsensusDiagnosis,
			AgreementCount:     v.AgreementCount,
			TotalAgents:        v.TotalAgents,
			AgreementRatio:     v.AgreementRatio,
			AverageConfidence:  v.AverageConfidence,
		}
	}
	return out
}
