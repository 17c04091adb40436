package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"google.golang.org/genai"

	"medical-consilium/internal/consultation"
	"medical-consilium/internal/roster"
)

// historyWindow caps how many transcript messages go into a prompt.
const historyWindow = 20

// FallbackConfidence is used when the model omits a confidence value: a
// uniform integer in [70,100). The consensus engine never invents one.
func FallbackConfidence() int {
	return 70 + rand.IntN(30)
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type geminiClient struct {
	models     contentGenerator
	model      string
	confidence func() int
}

// NewGeminiClient builds an InferenceClient backed by the Gemini API.
func NewGeminiClient(ctx context.Context, apiKey, model string) (consultation.InferenceClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &geminiClient{models: client.Models, model: model, confidence: FallbackConfidence}, nil
}

type opinionReply struct {
	Diagnosis      string `json:"diagnosis"`
	Recommendation string `json:"recommendation"`
	Confidence     *int   `json:"confidence"`
}

func (g *geminiClient) GenerateOpinion(ctx context.Context, transcript []consultation.Message, agent roster.Agent, trigger string) (consultation.Opinion, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt(agent), genai.RoleUser),
		ResponseMIMEType:  "application/json",
	}
	contents := []*genai.Content{genai.NewContentFromText(buildPrompt(transcript, agent, trigger), genai.RoleUser)}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return consultation.Opinion{}, fmt.Errorf("gemini: generate: %w", err)
	}
	op, err := parseOpinion(resp.Text(), g.confidence)
	if err != nil {
		return consultation.Opinion{}, err
	}
	op.AgentID = agent.ID
	op.ProducedAt = time.Now()
	return op, nil
}

func systemPrompt(agent roster.Agent) string {
	return fmt.Sprintf(`You are %s, a specialist in %s, taking part in a multi-specialist case discussion.
Give your own opinion from the perspective of your specialty.
Respond in JSON format:
{
  "diagnosis": "<short working diagnosis>",
  "recommendation": "<next steps, one or two sentences>",
  "confidence": <integer 0-100>
}`, agent.Name, agent.Specialty)
}

func buildPrompt(transcript []consultation.Message, agent roster.Agent, trigger string) string {
	if len(transcript) > historyWindow {
		transcript = transcript[len(transcript)-historyWindow:]
	}
	var b strings.Builder
	b.WriteString("CASE DISCUSSION SO FAR:\n")
	for _, m := range transcript {
		who := string(m.SenderKind)
		if m.SenderKind == consultation.SenderAgent {
			who = "specialist " + m.SenderID
		}
		fmt.Fprintf(&b, "[%s] %s\n", who, m.Content)
	}
	fmt.Fprintf(&b, "\nLATEST QUESTION FROM THE DOCTOR:\n%s\n", trigger)
	fmt.Fprintf(&b, "\nAnswer as the %s specialist.", agent.Specialty)
	return b.String()
}

// parseOpinion reads the model's JSON reply, tolerating markdown code fences.
func parseOpinion(raw string, fallback func() int) (consultation.Opinion, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var reply opinionReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return consultation.Opinion{}, fmt.Errorf("gemini: parse reply: %w", err)
	}
	if strings.TrimSpace(reply.Diagnosis) == "" {
		return consultation.Opinion{}, errors.New("gemini: reply has no diagnosis")
	}

	var confidence int
	if reply.Confidence != nil {
		confidence = min(max(*reply.Confidence, 0), 100)
	} else {
		confidence = fallback()
	}
	return consultation.Opinion{
		Diagnosis:      strings.TrimSpace(reply.Diagnosis),
		Recommendation: strings.TrimSpace(reply.Recommendation),
		Confidence:     confidence,
	}, nil
}
