package mcptools

type ListAgentsInput struct{}

type AgentInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
}

type ListAgentsOutput struct {
	Agents []AgentInfo `json:"agents"`
}

type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type CreateConsultationInput struct {
	AgentIDs   []string `json:"agentIds" jsonschema:"ids of the specialists to consult, in speaking order"`
	Mode       string   `json:"mode,omitempty" jsonschema:"parallel (default) or turn_based"`
	Symptoms   string   `json:"symptoms" jsonschema:"free-text description of the patient's complaint"`
	PatientRef string   `json:"patientRef,omitempty" jsonschema:"opaque patient reference"`
	Answers    []QAPair `json:"answers,omitempty" jsonschema:"structured intake answers"`
	Start      bool     `json:"start,omitempty" jsonschema:"run the first round immediately"`
}

type ConsultationIDInput struct {
	ConsultationID string `json:"consultationId" jsonschema:"id returned by create_consultation"`
}

type SendFollowUpInput struct {
	ConsultationID string `json:"consultationId" jsonschema:"id returned by create_consultation"`
	Text           string `json:"text" jsonschema:"the doctor's follow-up message"`
}

type OpinionInfo struct {
	AgentID        string `json:"agentId"`
	Round          int    `json:"round"`
	Diagnosis      string `json:"diagnosis"`
	Recommendation string `json:"recommendation"`
	Confidence     int    `json:"confidence"`
}

type VerdictInfo struct {
	Available          bool    `json:"available"`
	ConsensusDiagnosis string  `json:"consensusDiagnosis,omitempty"`
	AgreementCount     int     `json:"agreementCount"`
	TotalAgents        int     `json:"totalAgents"`
	AgreementRatio     float64 `json:"agreementRatio"`
	AverageConfidence  float64 `json:"averageConfidence"`
}

type ConsultationOutput struct {
	ID          string        `json:"id"`
	Mode        string        `json:"mode"`
	State       string        `json:"state"`
	Closed      bool          `json:"closed"`
	Round       int           `json:"round"`
	CurrentTurn string        `json:"currentTurnAgentId,omitempty"`
	Agents      []AgentInfo   `json:"agents"`
	Opinions    []OpinionInfo `json:"opinions"`
	Verdict     VerdictInfo   `json:"verdict"`
}

type MessageInfo struct {
	Seq        int    `json:"seq"`
	Round      int    `json:"round"`
	SenderKind string `json:"senderKind"`
	SenderID   string `json:"senderId"`
	Content    string `json:"content"`
	CreatedAt  string `json:"createdAt"`
}

type TranscriptOutput struct {
	ConsultationID string        `json:"consultationId"`
	Messages       []MessageInfo `json:"messages"`
}
