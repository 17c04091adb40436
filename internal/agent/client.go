package agent

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"medical-consilium/internal/consultation"
	"medical-consilium/internal/roster"
)

type simulatedClient struct {
	latency time.Duration
}

// NewSimulatedClient returns an offline InferenceClient that answers from a
// fixed table keyed by specialty and symptom keywords. Useful for demos and
// for running the service without an API key.
func NewSimulatedClient(latency time.Duration) consultation.InferenceClient {
	return &simulatedClient{latency: latency}
}

type cannedOpinion struct {
	keywords       []string
	diagnosis      string
	recommendation string
}

var cannedBySpecialty = map[string][]cannedOpinion{
	"Cardiology": {
		{[]string{"chest", "palpitation", "pressure"}, "Possible acute coronary syndrome", "Obtain a 12-lead ECG and serial troponins."},
		{[]string{"dizz", "faint", "syncope"}, "Suspected arrhythmia", "Arrange Holter monitoring and check electrolytes."},
	},
	"Neurology": {
		{[]string{"dizz", "vertigo", "balance"}, "Suspected vestibular disorder", "Perform a focused neurological exam and a Dix-Hallpike test."},
		{[]string{"headache", "migraine"}, "Probable migraine", "Keep a headache diary and consider triptans."},
	},
	"Pulmonology": {
		{[]string{"breath", "cough", "wheez"}, "Possible asthma exacerbation", "Spirometry and a trial of inhaled bronchodilators."},
		{[]string{"chest"}, "Rule out pulmonary embolism", "Calculate Wells score and order a D-dimer."},
	},
	"Gastroenterology": {
		{[]string{"abdominal", "stomach", "nausea"}, "Suspected gastritis", "Trial of proton pump inhibitors and H. pylori testing."},
		{[]string{"chest", "burn"}, "Possible reflux disease", "Lifestyle changes and a short PPI course."},
	},
	"Dermatology": {
		{[]string{"rash", "itch", "skin"}, "Likely contact dermatitis", "Identify triggers and apply topical corticosteroids."},
	},
}

func (c *simulatedClient) GenerateOpinion(ctx context.Context, transcript []consultation.Message, agent roster.Agent, trigger string) (consultation.Opinion, error) {
	if c.latency > 0 {
		t := time.NewTimer(c.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return consultation.Opinion{}, ctx.Err()
		case <-t.C:
		}
	}

	text := strings.ToLower(caseText(transcript) + " " + trigger)
	for _, canned := range cannedBySpecialty[agent.Specialty] {
		for _, kw := range canned.keywords {
			if strings.Contains(text, kw) {
				return consultation.Opinion{
					AgentID:        agent.ID,
					Diagnosis:      canned.diagnosis,
					Recommendation: canned.recommendation,
					Confidence:     stableConfidence(agent.ID, text),
					ProducedAt:     time.Now(),
				}, nil
			}
		}
	}
	return consultation.Opinion{
		AgentID:        agent.ID,
		Diagnosis:      "Non-specific presentation",
		Recommendation: fmt.Sprintf("No %s findings stand out; gather a fuller history and basic labs.", strings.ToLower(agent.Specialty)),
		Confidence:     stableConfidence(agent.ID, text) - 20,
		ProducedAt:     time.Now(),
	}, nil
}

// caseText joins every doctor message so follow-ups keep earlier context.
func caseText(transcript []consultation.Message) string {
	var parts []string
	for _, m := range transcript {
		if m.SenderKind == consultation.SenderDoctor {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, " ")
}

// stableConfidence maps (agent, text) onto [70,100) deterministically.
func stableConfidence(agentID, text string) int {
	h := fnv.New32a()
	h.Write([]byte(agentID))
	h.Write([]byte(text))
	return 70 + int(h.Sum32()%30)
}
