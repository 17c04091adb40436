package consultation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"medical-consilium/internal/roster"
)

// ReportRenderer turns a snapshot into a downloadable document.
type ReportRenderer interface {
	Render(snap Snapshot) ([]byte, error)
}

type Handler struct {
	svc      Service
	renderer ReportRenderer
}

// NewHandler builds the HTTP handlers. renderer may be nil, which disables
// the report endpoint.
func NewHandler(svc Service, renderer ReportRenderer) *Handler {
	return &Handler{svc: svc, renderer: renderer}
}

type CreateConsultationRequest struct {
	AgentIDs []string    `json:"agent_ids"`
	Mode     string      `json:"mode"`
	Case     CaseContext `json:"case"`
	// Start runs round one before responding.
	Start bool `json:"start"`
}

type FollowUpRequest struct {
	Text string `json:"text"`
}

type ToggleRequest struct {
	Selection []string `json:"selection"`
	AgentID   string   `json:"agent_id"`
}

func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": h.svc.ListAgents()})
}

// ToggleAgent applies roster.Toggle to a selection of ids.
func (h *Handler) ToggleAgent(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	byID := make(map[string]roster.Agent)
	for _, a := range h.svc.ListAgents() {
		byID[a.ID] = a
	}
	agent, ok := byID[req.AgentID]
	if !ok {
		http.Error(w, "Unknown agent", http.StatusBadRequest)
		return
	}
	var selection []roster.Agent
	for _, id := range req.Selection {
		if a, ok := byID[id]; ok && !roster.Contains(selection, id) {
			selection = append(selection, a)
		}
	}
	selection = roster.Toggle(selection, agent)

	ids := make([]string, len(selection))
	for i, a := range selection {
		ids[i] = a.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"selection": ids})
}

func (h *Handler) CreateConsultation(w http.ResponseWriter, r *http.Request) {
	var req CreateConsultationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	mode, err := ParseMode(req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}

	sess, err := h.svc.CreateConsultation(r.Context(), req.AgentIDs, req.Case, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Start {
		if _, err := h.svc.Start(r.Context(), sess.ID()); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (h *Handler) StartConsultation(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.Start(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *Handler) SendFollowUp(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req FollowUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	sess, err := h.svc.SendFollowUp(r.Context(), id, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *Handler) EndCall(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.EndCall(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *Handler) GetConsultation(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	msgs, err := h.svc.History(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (h *Handler) GetVerdict(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	v, ok := sess.CurrentVerdict()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"verdict": nil,
			"error":   (&InsufficientDataError{}).Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// StreamEvents pushes session events as server-sent events until the client
// goes away or the session ends.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, cancel := sess.Subscribe(64)
	defer cancel()

	initData, _ := json.Marshal(Event{Type: EventStateChanged, ConsultationID: id, State: sess.State()})
	fmt.Fprintf(w, "data: %s\n\n", initData)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

func (h *Handler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	if h.renderer == nil {
		http.Error(w, "Reports are not configured", http.StatusNotImplemented)
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	pdf, err := h.renderer.Render(sess.Snapshot())
	if err != nil {
		http.Error(w, "Report failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=report_%s.pdf", id))
	w.Write(pdf)
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/agents", h.ListAgents)
	r.Post("/agents/toggle", h.ToggleAgent)
	r.Post("/consultations", h.CreateConsultation)
	r.Route("/consultations/{id}", func(r chi.Router) {
		r.Get("/", h.GetConsultation)
		r.Post("/start", h.StartConsultation)
		r.Post("/messages", h.SendFollowUp)
		r.Post("/end", h.EndCall)
		r.Get("/transcript", h.GetTranscript)
		r.Get("/verdict", h.GetVerdict)
		r.Get("/events", h.StreamEvents)
		r.Get("/report", h.DownloadReport)
	})
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid consultation ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var (
		validation *ValidationError
		state      *InvalidStateError
		noData     *InsufficientDataError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.As(err, &state):
		status = http.StatusConflict
	case errors.Is(err, ErrNotFound), errors.As(err, &noData):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
