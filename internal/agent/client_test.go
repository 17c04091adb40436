package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medical-consilium/internal/consultation"
	"medical-consilium/internal/roster"
)

func TestSimulatedClient(t *testing.T) {
	client := NewSimulatedClient(0)
	transcript := []consultation.Message{
		{SenderKind: consultation.SenderDoctor, Content: "Symptoms: chest pain and dizziness"},
	}

	op, err := client.GenerateOpinion(context.Background(), transcript, cardio, "chest pain and dizziness")
	require.NoError(t, err)
	assert.Equal(t, "Possible acute coronary syndrome", op.Diagnosis)
	assert.GreaterOrEqual(t, op.Confidence, 70)

	again, err := client.GenerateOpinion(context.Background(), transcript, cardio, "chest pain and dizziness")
	require.NoError(t, err)
	assert.Equal(t, op.Confidence, again.Confidence, "same input gives the same confidence")

	gp := roster.Agent{ID: "gp", Name: "Dr. General", Specialty: "General Practice"}
	op, err = client.GenerateOpinion(context.Background(), transcript, gp, "chest pain")
	require.NoError(t, err)
	assert.Equal(t, "Non-specific presentation", op.Diagnosis)
}

func TestSimulatedClient_HonoursCancellation(t *testing.T) {
	client := NewSimulatedClient(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.GenerateOpinion(ctx, nil, cardio, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
