package consultation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medical-consilium/internal/roster"
)

type fakeRenderer struct {
	err error
}

func (f *fakeRenderer) Render(snap Snapshot) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-fake " + snap.ID.String()), nil
}

type fakeReporter struct {
	mu   sync.Mutex
	sent []Snapshot
	done chan struct{}
}

func (f *fakeReporter) SendDoctorReport(ctx context.Context, snap Snapshot) error {
	f.mu.Lock()
	f.sent = append(f.sent, snap)
	f.mu.Unlock()
	close(f.done)
	return nil
}

func newTestService(t *testing.T, client InferenceClient, report ReportService, opts ...ServiceOption) (Service, Repository) {
	t.Helper()
	registry, err := roster.NewRegistry(roster.DefaultAgents())
	require.NoError(t, err)
	repo := NewMemoryRepository()
	coord := NewCoordinator(client, repo, testConfig(), nil)
	return NewService(registry, coord, repo, report, nil, opts...), repo
}

func newTestServer(t *testing.T, svc Service) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		RegisterRoutes(r, NewHandler(svc, &fakeRenderer{}))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHandler_ListAndToggleAgents(t *testing.T) {
	svc, _ := newTestService(t, diagnoses(nil), nil)
	srv := newTestServer(t, svc)

	resp, err := http.Get(srv.URL + "/api/agents")
	require.NoError(t, err)
	defer resp.Body.Close()
	body := decode[map[string][]roster.Agent](t, resp)
	assert.Len(t, body["agents"], len(roster.DefaultAgents()))

	resp = postJSON(t, srv.URL+"/api/agents/toggle", ToggleRequest{Selection: []string{"cardio", "neuro"}, AgentID: "cardio"})
	assert.Equal(t, []string{"neuro"}, decode[map[string][]string](t, resp)["selection"])

	resp = postJSON(t, srv.URL+"/api/agents/toggle", ToggleRequest{Selection: []string{"neuro"}, AgentID: "pulmo"})
	assert.Equal(t, []string{"neuro", "pulmo"}, decode[map[string][]string](t, resp)["selection"])

	resp = postJSON(t, srv.URL+"/api/agents/toggle", ToggleRequest{AgentID: "nobody"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_ConsultationFlow(t *testing.T) {
	svc, _ := newTestService(t, diagnoses(map[string]string{"cardio": "Angina", "neuro": "Angina"}), nil)
	srv := newTestServer(t, svc)

	resp := postJSON(t, srv.URL+"/api/consultations", CreateConsultationRequest{
		AgentIDs: []string{"cardio", "neuro"},
		Mode:     "parallel",
		Case:     CaseContext{Symptoms: "chest pain and dizziness"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[Snapshot](t, resp)
	assert.Equal(t, StateSetup, created.State)
	assert.Nil(t, created.Verdict)

	base := srv.URL + "/api/consultations/" + created.ID.String()

	resp, err := http.Get(base + "/verdict")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no verdict before any opinion")

	resp = postJSON(t, base+"/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	started := decode[Snapshot](t, resp)
	assert.Equal(t, StateCompleted, started.State)
	assert.Len(t, started.Transcript, 4)
	require.NotNil(t, started.Verdict)
	assert.Equal(t, 2, started.Verdict.AgreementCount)

	resp = postJSON(t, base+"/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = postJSON(t, base+"/messages", FollowUpRequest{Text: "Any imaging needed?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[Snapshot](t, resp).Round)

	resp = postJSON(t, base+"/messages", FollowUpRequest{Text: ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(base + "/verdict")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Angina", decode[Verdict](t, resp).ConsensusDiagnosis)

	resp, err = http.Get(base + "/transcript")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Len(t, decode[map[string][]Message](t, resp)["messages"], 7)

	resp, err = http.Get(base + "/report")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))

	resp = postJSON(t, base+"/end", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[Snapshot](t, resp).Closed)

	resp = postJSON(t, base+"/messages", FollowUpRequest{Text: "one more"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHandler_CreateErrors(t *testing.T) {
	svc, _ := newTestService(t, diagnoses(nil), nil)
	srv := newTestServer(t, svc)

	resp := postJSON(t, srv.URL+"/api/consultations", CreateConsultationRequest{AgentIDs: []string{"ghost"}, Case: CaseContext{Symptoms: "x"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/consultations", CreateConsultationRequest{AgentIDs: []string{"cardio"}, Mode: "chaotic", Case: CaseContext{Symptoms: "x"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/consultations", CreateConsultationRequest{AgentIDs: []string{"cardio"}, Start: true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "empty symptoms fail at start")

	r, err := http.Get(srv.URL + "/api/consultations/not-a-uuid")
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)

	r, err = http.Get(srv.URL + "/api/consultations/" + uuid.NewString())
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
}

func TestHandler_StreamEvents(t *testing.T) {
	svc, _ := newTestService(t, diagnoses(map[string]string{"cardio": "A"}), nil)
	srv := newTestServer(t, svc)

	sess, err := svc.CreateConsultation(context.Background(), []string{"cardio"}, CaseContext{Symptoms: "cough"}, ModeParallel)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/consultations/" + sess.ID().String() + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 256)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	// The first frame confirms the subscription is registered.
	require.Eventually(t, func() bool {
		select {
		case l := <-lines:
			return strings.HasPrefix(l, "data:")
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sess.Start(context.Background()))
	_, err = svc.EndCall(context.Background(), sess.ID())
	require.NoError(t, err)

	var kinds []string
	for l := range lines {
		if strings.HasPrefix(l, "event: ") {
			kinds = append(kinds, strings.TrimPrefix(l, "event: "))
		}
	}
	assert.Contains(t, kinds, string(EventOpinionRecorded))
	assert.Contains(t, kinds, string(EventVerdictUpdated))
	assert.Contains(t, kinds, string(EventMessageAppended))
}

func TestService_EndCallSendsReport(t *testing.T) {
	reporter := &fakeReporter{done: make(chan struct{})}
	svc, _ := newTestService(t, diagnoses(map[string]string{"cardio": "A"}), reporter)

	sess, err := svc.CreateConsultation(context.Background(), []string{"cardio"}, CaseContext{Symptoms: "cough"}, ModeParallel)
	require.NoError(t, err)
	_, err = svc.Start(context.Background(), sess.ID())
	require.NoError(t, err)
	_, err = svc.EndCall(context.Background(), sess.ID())
	require.NoError(t, err)

	select {
	case <-reporter.done:
	case <-time.After(2 * time.Second):
		t.Fatal("report was not sent")
	}
	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	require.Len(t, reporter.sent, 1)
	assert.Equal(t, "A", reporter.sent[0].Verdict.ConsensusDiagnosis)
}

func TestService_HistoryFallsBackToRepository(t *testing.T) {
	svc, repo := newTestService(t, diagnoses(nil), nil)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, repo.SaveConsultation(ctx, Record{ID: id, State: StateCompleted}))
	require.NoError(t, repo.AppendMessage(ctx, id, Message{Seq: 1, Content: "second"}))
	require.NoError(t, repo.AppendMessage(ctx, id, Message{Seq: 0, Content: "first"}))

	msgs, err := svc.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)

	_, err = svc.History(ctx, uuid.New())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestService_EvictsFinishedSessions(t *testing.T) {
	svc, _ := newTestService(t, diagnoses(map[string]string{"cardio": "A"}), nil, WithRetention(10*time.Millisecond))
	ctx := context.Background()

	sess, err := svc.CreateConsultation(ctx, []string{"cardio"}, CaseContext{Symptoms: "cough"}, ModeParallel)
	require.NoError(t, err)
	_, err = svc.Start(ctx, sess.ID())
	require.NoError(t, err)

	_, err = svc.Get(sess.ID())
	require.NoError(t, err, "completed sessions stay live until EndCall")

	_, err = svc.EndCall(ctx, sess.ID())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := svc.Get(sess.ID())
		return errors.Is(err, ErrNotFound)
	}, time.Second, 5*time.Millisecond)

	msgs, err := svc.History(ctx, sess.ID())
	require.NoError(t, err)
	assert.Len(t, msgs, 3, "history falls back to the repository")

	failed, err := svc.CreateConsultation(ctx, []string{"cardio"}, CaseContext{}, ModeParallel)
	require.NoError(t, err)
	_, err = svc.Start(ctx, failed.ID())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Eventually(t, func() bool {
		_, err := svc.Get(failed.ID())
		return errors.Is(err, ErrNotFound)
	}, time.Second, 5*time.Millisecond)
}
