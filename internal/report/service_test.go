package report

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medical-consilium/internal/consultation"
	"medical-consilium/internal/roster"
)

type fakeNotifier struct {
	messages []string
	docs     map[string][]byte
	err      error
}

func (f *fakeNotifier) SendMessage(ctx context.Context, chatID int64, text string) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeNotifier) SendDocument(ctx context.Context, chatID int64, data []byte, name string) error {
	if f.docs == nil {
		f.docs = make(map[string][]byte)
	}
	f.docs[name] = data
	return nil
}

func sampleSnapshot() consultation.Snapshot {
	cardio := roster.Agent{ID: "cardio", Name: "Dr. Heart", Specialty: "Cardiology"}
	neuro := roster.Agent{ID: "neuro", Name: "Dr. Synapse", Specialty: "Neurology"}
	return consultation.Snapshot{
		ID:        uuid.MustParse("7f9c24e8-3b12-4fef-91e1-1e5d6c1a1a11"),
		Agents:    []roster.Agent{cardio, neuro},
		Mode:      consultation.ModeParallel,
		Case:      consultation.CaseContext{Symptoms: "chest pain and dizziness"},
		State:     consultation.StateCompleted,
		Round:     1,
		CreatedAt: time.Now(),
		Opinions: map[string]consultation.Opinion{
			"cardio": {AgentID: "cardio", Diagnosis: "Angina", Recommendation: "ECG", Confidence: 80},
		},
		Verdict: &consultation.Verdict{
			ConsensusDiagnosis: "Angina",
			AgreementCount:     1,
			TotalAgents:        1,
			AgreementRatio:     1,
			AverageConfidence:  80,
		},
		Transcript: []consultation.Message{
			{SenderKind: consultation.SenderDoctor, SenderID: "doctor", Content: "Symptoms: chest pain and dizziness"},
		},
	}
}

func availableFont(t *testing.T) string {
	t.Helper()
	for _, p := range DefaultFontPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	t.Skip("no DejaVuSans font installed")
	return ""
}

func TestSummary(t *testing.T) {
	snap := sampleSnapshot()
	s := Summary(snap)
	assert.Contains(t, s, "Consensus: Angina")
	assert.Contains(t, s, "Agreement: 1 of 1 (100%)")
	assert.Contains(t, s, "Average confidence: 80.0")

	snap.Verdict = nil
	assert.Contains(t, Summary(snap), "No verdict")
}

func TestRender_NoFont(t *testing.T) {
	svc := NewService(nil, 0, "/nonexistent/font.ttf")
	_, err := svc.Render(sampleSnapshot())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoFont))
}

func TestRender(t *testing.T) {
	svc := NewService(nil, 0, availableFont(t))
	data, err := svc.Render(sampleSnapshot())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestSendDoctorReport(t *testing.T) {
	n := &fakeNotifier{}
	svc := NewService(n, 99, availableFont(t))

	require.NoError(t, svc.SendDoctorReport(context.Background(), sampleSnapshot()))
	require.Len(t, n.messages, 1)
	assert.Contains(t, n.messages[0], "Angina")
	assert.Contains(t, n.docs, "report_7f9c24e8-3b12-4fef-91e1-1e5d6c1a1a11.pdf")
}

func TestSendDoctorReport_Errors(t *testing.T) {
	err := NewService(nil, 0).SendDoctorReport(context.Background(), sampleSnapshot())
	assert.Error(t, err)

	n := &fakeNotifier{err: errors.New("blocked by user")}
	err = NewService(n, 5).SendDoctorReport(context.Background(), sampleSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked by user")
}
