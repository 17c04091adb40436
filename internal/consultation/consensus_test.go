package consultation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeVerdict(t *testing.T) {
	tests := []struct {
		name       string
		order      []string
		opinions   map[string]Opinion
		diagnosis  string
		agreement  int
		total      int
		ratio      float64
		confidence float64
	}{
		{
			name:  "majority wins",
			order: []string{"x", "y", "z"},
			opinions: map[string]Opinion{
				"x": {Diagnosis: "A", Confidence: 90},
				"y": {Diagnosis: "B", Confidence: 99},
				"z": {Diagnosis: "A", Confidence: 70},
			},
			diagnosis: "A", agreement: 2, total: 3, ratio: 2.0 / 3.0, confidence: 80,
		},
		{
			name:  "tie goes to first seen in selection order",
			order: []string{"x", "y"},
			opinions: map[string]Opinion{
				"x": {Diagnosis: "A", Confidence: 60},
				"y": {Diagnosis: "B", Confidence: 95},
			},
			diagnosis: "A", agreement: 1, total: 2, ratio: 0.5, confidence: 60,
		},
		{
			name:  "selection order decides, not map order",
			order: []string{"y", "x"},
			opinions: map[string]Opinion{
				"x": {Diagnosis: "A", Confidence: 60},
				"y": {Diagnosis: "B", Confidence: 95},
			},
			diagnosis: "B", agreement: 1, total: 2, ratio: 0.5, confidence: 95,
		},
		{
			name:  "diagnosis match is case sensitive",
			order: []string{"x", "y", "z"},
			opinions: map[string]Opinion{
				"x": {Diagnosis: "migraine", Confidence: 50},
				"y": {Diagnosis: "Migraine", Confidence: 50},
				"z": {Diagnosis: "Migraine", Confidence: 90},
			},
			diagnosis: "Migraine", agreement: 2, total: 3, ratio: 2.0 / 3.0, confidence: 70,
		},
		{
			name:  "agents missing from order are visited by id",
			order: []string{"x"},
			opinions: map[string]Opinion{
				"b": {Diagnosis: "B", Confidence: 40},
				"a": {Diagnosis: "C", Confidence: 50},
			},
			diagnosis: "C", agreement: 1, total: 2, ratio: 0.5, confidence: 50,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, err := ComputeVerdict(tc.order, tc.opinions)
			require.NoError(t, err)
			assert.Equal(t, tc.diagnosis, v.ConsensusDiagnosis)
			assert.Equal(t, tc.agreement, v.AgreementCount)
			assert.Equal(t, tc.total, v.TotalAgents)
			assert.InDelta(t, tc.ratio, v.AgreementRatio, 1e-9)
			assert.InDelta(t, tc.confidence, v.AverageConfidence, 1e-9)
			assert.False(t, v.ComputedAt.IsZero())
		})
	}
}

func TestComputeVerdict_Deterministic(t *testing.T) {
	order := []string{"a", "b", "c", "d"}
	opinions := map[string]Opinion{
		"a": {Diagnosis: "P"}, "b": {Diagnosis: "Q"}, "c": {Diagnosis: "Q"}, "d": {Diagnosis: "P"},
	}
	for i := 0; i < 50; i++ {
		v, err := ComputeVerdict(order, opinions)
		require.NoError(t, err)
		require.Equal(t, "P", v.ConsensusDiagnosis)
	}
}

func TestComputeVerdict_InsufficientData(t *testing.T) {
	v, err := ComputeVerdict([]string{"x"}, map[string]Opinion{})
	require.Error(t, err)
	assert.True(t, IsInsufficientData(err))
	assert.Equal(t, Verdict{}, v)

	_, err = ComputeVerdict(nil, nil)
	assert.True(t, IsInsufficientData(err))
}

func TestLatestOpinions(t *testing.T) {
	latest := LatestOpinions(map[string][]Opinion{
		"x": {{Diagnosis: "A", Confidence: 60}, {Diagnosis: "B", Confidence: 80}},
		"y": {},
	})
	require.Len(t, latest, 1)
	assert.Equal(t, "B", latest["x"].Diagnosis)
	assert.Equal(t, 80, latest["x"].Confidence)
}
