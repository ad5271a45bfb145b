package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/intakehq/intake/internal/artifact"
	"github.com/intakehq/intake/internal/db"
	"github.com/intakehq/intake/internal/depgraph"
	"github.com/intakehq/intake/internal/record"
	"github.com/intakehq/intake/internal/schema"
	"github.com/intakehq/intake/internal/surface"
)

func testWorkflow() *schema.Workflow {
	threshold := 0.5
	return &schema.Workflow{
		Fields: []schema.Field{
			{Path: "patient.name", Type: schema.FieldScalar, Weight: 0.4},
			{Path: "visit.details", Type: schema.FieldLongText, Weight: 0.4, TargetLength: 100},
			{Path: "visit.concerns", Type: schema.FieldSet, Weight: 0.2},
		},
		Actions: []schema.Action{
			{
				ID: "book_appointment",
				Requires: []schema.Condition{
					{Readiness: &threshold},
					{Artifact: "summary"},
				},
				OnBlockedHint: "hints.book_blocked",
			},
			{ID: "greet"},
		},
		Artifacts: []schema.Artifact{
			{
				ID:           "summary",
				Requires:     []schema.Condition{{Readiness: &threshold}},
				Format:       schema.FormatMarkdown,
				InvalidateOn: []string{"visit.*"},
			},
		},
		MaxCards: 4,
	}
}

func defaultGenerator() artifact.Generator {
	return artifact.GeneratorFunc(func(ctx context.Context, in artifact.GenerationInput) (string, error) {
		return "# Visit Summary\n\nEverything noted.", nil
	})
}

func setupManager(t *testing.T, gen artifact.Generator) (*Manager, *db.DB) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return managerOver(t, database, gen), database
}

func managerOver(t *testing.T, database *db.DB, gen artifact.Generator) *Manager {
	t.Helper()
	wf := testWorkflow()
	graph, err := depgraph.New(wf, nil)
	if err != nil {
		t.Fatalf("depgraph.New: %v", err)
	}
	artifacts := artifact.NewManager(artifact.NewStore(database), graph, gen)
	return NewManager(wf, graph, NewStore(database), record.NewStore(database), artifacts)
}

func createTestSession(t *testing.T, m *Manager) string {
	t.Helper()
	sess, err := m.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return sess.ID
}

func TestSubmitTurnMergesAndScores(t *testing.T) {
	m, _ := setupManager(t, defaultGenerator())
	ctx := context.Background()
	id := createTestSession(t, m)

	result, err := m.SubmitTurn(ctx, id, "turn-1", []record.FieldUpdate{
		{FieldPath: "patient.name", Value: "Rex"},
		{FieldPath: "visit.details", Value: strings.Repeat("x", 50)},
	}, "")
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}

	// 0.4 + 0.4*(50/100) = 0.6
	if result.Percent != 60 {
		t.Errorf("Percent = %d, want 60", result.Percent)
	}
	fs, ok := result.Record.Get("patient.name")
	if !ok || fs.Value != "Rex" {
		t.Errorf("patient.name = %v, want Rex", fs.Value)
	}
	if len(result.Rejected) != 0 {
		t.Errorf("unexpected rejections: %v", result.Rejected)
	}
}

func TestSubmitTurnRejectsBadUpdates(t *testing.T) {
	m, _ := setupManager(t, defaultGenerator())
	ctx := context.Background()
	id := createTestSession(t, m)

	result, err := m.SubmitTurn(ctx, id, "turn-1", []record.FieldUpdate{
		{FieldPath: "unknown.field", Value: "x"},
		{FieldPath: "patient.name", Value: "   "},
		{FieldPath: "visit.concerns", Value: "not-a-list"},
		{FieldPath: "patient.name", Value: "Rex"},
	}, "")
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}

	if len(result.Rejected) != 3 {
		t.Fatalf("rejected = %v, want 3 rejections", result.Rejected)
	}
	// The valid update in the batch still applies.
	if !result.Record.Has("patient.name") {
		t.Error("valid update lost alongside rejections")
	}

	facts, err := m.GetFacts(ctx, id)
	if err != nil {
		t.Fatalf("GetFacts: %v", err)
	}
	if len(facts) != 1 {
		t.Errorf("fact log has %d entries, want 1", len(facts))
	}
}

func TestSubmitTurnEmptyBatchIsNoOp(t *testing.T) {
	m, _ := setupManager(t, defaultGenerator())
	ctx := context.Background()
	id := createTestSession(t, m)

	before, err := m.SubmitTurn(ctx, id, "t1", []record.FieldUpdate{{FieldPath: "patient.name", Value: "Rex"}}, "")
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	after, err := m.SubmitTurn(ctx, id, "t2", []record.FieldUpdate{{FieldPath: "patient.name", Value: ""}}, "")
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}

	if after.Readiness != before.Readiness {
		t.Errorf("readiness changed on empty update: %g -> %g", before.Readiness, after.Readiness)
	}
	facts, _ := m.GetFacts(ctx, id)
	if len(facts) != 1 {
		t.Errorf("empty update appended to log: %d facts", len(facts))
	}
}

func TestSubmitTurnTouchesSession(t *testing.T) {
	m, _ := setupManager(t, defaultGenerator())
	ctx := context.Background()
	sess, err := m.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, err := m.SubmitTurn(ctx, sess.ID, "t1", []record.FieldUpdate{
		{FieldPath: "patient.name", Value: "Rex"},
	}, ""); err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}

	got, err := m.sessions.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.UpdatedAt.After(sess.UpdatedAt) {
		t.Errorf("updated_at not bumped: %v -> %v", sess.UpdatedAt, got.UpdatedAt)
	}
}

func TestSubmitTurnUnknownSession(t *testing.T) {
	m, _ := setupManager(t, defaultGenerator())
	_, err := m.SubmitTurn(context.Background(), "nope", "t1",
		[]record.FieldUpdate{{FieldPath: "patient.name", Value: "Rex"}}, "")
	if !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession, got %v", err)
	}
}

func TestArtifactLifecycleThroughTurns(t *testing.T) {
	var calls atomic.Int32
	gen := artifact.GeneratorFunc(func(ctx context.Context, in artifact.GenerationInput) (string, error) {
		calls.Add(1)
		return fmt.Sprintf("# Summary v%d", calls.Load()), nil
	})
	m, _ := setupManager(t, gen)
	ctx := context.Background()
	id := createTestSession(t, m)

	// Below threshold: no generation.
	if _, err := m.SubmitTurn(ctx, id, "t1", []record.FieldUpdate{
		{FieldPath: "visit.concerns", Value: []string{"limping"}},
	}, ""); err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	m.artifacts.Wait()
	if calls.Load() != 0 {
		t.Fatalf("generator ran below threshold")
	}

	// Crossing the threshold triggers generation.
	if _, err := m.SubmitTurn(ctx, id, "t2", []record.FieldUpdate{
		{FieldPath: "patient.name", Value: "Rex"},
		{FieldPath: "visit.details", Value: strings.Repeat("x", 100)},
	}, ""); err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	m.artifacts.Wait()

	a, err := m.GetArtifact(ctx, id, "summary")
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if a.State != artifact.StateReady {
		t.Fatalf("state = %s, want ready (reason %q)", a.State, a.Reason)
	}

	// With the artifact ready the gated action unblocks.
	res, err := m.CheckAction(ctx, id, "book_appointment")
	if err != nil {
		t.Fatalf("CheckAction: %v", err)
	}
	if !res.Feasible {
		t.Errorf("action still blocked: %v", res.Missing)
	}

	// A correction on a matching path invalidates and regenerates.
	if _, err := m.SubmitTurn(ctx, id, "t3", []record.FieldUpdate{
		{FieldPath: "visit.details", Value: "Actually it started last month.", Correction: true},
	}, ""); err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	m.artifacts.Wait()

	if got := calls.Load(); got != 2 {
		t.Errorf("generator calls = %d, want regeneration after correction", got)
	}
	a, _ = m.GetArtifact(ctx, id, "summary")
	if a.State != artifact.StateReady || a.Content != "# Summary v2" {
		t.Errorf("artifact after correction = %+v, want regenerated content", a)
	}
}

func TestCheckActionBlockedReportsAllMissing(t *testing.T) {
	m, _ := setupManager(t, defaultGenerator())
	ctx := context.Background()
	id := createTestSession(t, m)

	res, err := m.CheckAction(ctx, id, "book_appointment")
	if err != nil {
		t.Fatalf("CheckAction: %v", err)
	}
	if res.Feasible {
		t.Fatal("expected blocked action on empty session")
	}
	if len(res.Missing) != 2 {
		t.Errorf("Missing = %v, want both unmet conditions", res.Missing)
	}
	if res.HintTextKey != "hints.book_blocked" {
		t.Errorf("HintTextKey = %q", res.HintTextKey)
	}

	if _, err := m.CheckAction(ctx, id, "nonexistent"); !errors.Is(err, depgraph.ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
}

func TestRehydrateAfterRestart(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	ctx := context.Background()

	m1 := managerOver(t, database, defaultGenerator())
	id := createTestSession(t, m1)
	if _, err := m1.SubmitTurn(ctx, id, "t1", []record.FieldUpdate{
		{FieldPath: "patient.name", Value: "Rex"},
		{FieldPath: "visit.concerns", Value: []string{"limping"}},
	}, ""); err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	m1.artifacts.Wait()

	// Simulate a crash mid-generation before the restart.
	if err := m1.artifacts.Store().SetGenerating(ctx, id, "summary"); err != nil {
		t.Fatalf("SetGenerating: %v", err)
	}

	m2 := managerOver(t, database, defaultGenerator())
	rec, score, err := m2.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if !rec.Has("patient.name") || !rec.Has("visit.concerns") {
		t.Errorf("rehydrated record incomplete: %v", rec.Fields)
	}
	if score <= 0 {
		t.Errorf("readiness = %g after rehydrate", score)
	}

	a, err := m2.GetArtifact(ctx, id, "summary")
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if a.State == artifact.StateGenerating {
		t.Error("interrupted generation survived rehydrate")
	}
}

func TestConcurrentTurnsSameSession(t *testing.T) {
	m, _ := setupManager(t, defaultGenerator())
	ctx := context.Background()
	id := createTestSession(t, m)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.SubmitTurn(ctx, id, fmt.Sprintf("t%d", i), []record.FieldUpdate{
				{FieldPath: "visit.concerns", Value: []string{fmt.Sprintf("concern-%d", i)}},
			}, "")
			if err != nil {
				t.Errorf("SubmitTurn %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	m.artifacts.Wait()

	facts, err := m.GetFacts(ctx, id)
	if err != nil {
		t.Fatalf("GetFacts: %v", err)
	}
	if len(facts) != n {
		t.Fatalf("fact log has %d entries, want %d", len(facts), n)
	}
	seen := make(map[int64]bool)
	for _, f := range facts {
		if seen[f.Seq] {
			t.Errorf("duplicate seq %d", f.Seq)
		}
		seen[f.Seq] = true
	}

	rec, _, err := m.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	fs, _ := rec.Get("visit.concerns")
	if got := fs.Value.([]string); len(got) != n {
		t.Errorf("set union has %d entries, want %d", len(got), n)
	}
}

// fakeExtractor returns a fixed batch of proposed updates for any text.
type fakeExtractor struct {
	updates []record.FieldUpdate
}

func (f *fakeExtractor) Extract(ctx context.Context, wf *schema.Workflow, rec *record.Record, text string) ([]record.FieldUpdate, error) {
	return f.updates, nil
}

func TestSubmitTurnWithText(t *testing.T) {
	m, _ := setupManager(t, defaultGenerator())
	m.SetExtractor(&fakeExtractor{updates: []record.FieldUpdate{
		{FieldPath: "patient.name", Value: "Rex"},
	}})
	ctx := context.Background()
	id := createTestSession(t, m)

	result, err := m.SubmitTurn(ctx, id, "t1", nil, "My dog Rex has been limping")
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	if !result.Record.Has("patient.name") {
		t.Error("extracted update not applied")
	}
}

// --- HTTP tests ---

func setupRouter(t *testing.T) (chi.Router, *Manager) {
	t.Helper()
	m, _ := setupManager(t, defaultGenerator())
	r := chi.NewRouter()
	RegisterRoutes(r, m)
	return r, m
}

func TestHTTPSessionFlow(t *testing.T) {
	r, m := setupRouter(t)

	// Create a session.
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var sess Session
	if err := json.NewDecoder(rec.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}

	// Submit a turn.
	body := `{"turn_id":"t1","updates":[{"field_path":"patient.name","value":"Rex"},{"field_path":"visit.details","value":"` + strings.Repeat("x", 100) + `"}]}`
	req = httptest.NewRequest(http.MethodPost, "/api/sessions/"+sess.ID+"/turns", strings.NewReader(body))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("turn status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result TurnResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode turn result: %v", err)
	}
	if result.Percent != 80 {
		t.Errorf("Percent = %d, want 80", result.Percent)
	}
	m.artifacts.Wait()

	// Artifact is ready.
	req = httptest.NewRequest(http.MethodGet, "/api/sessions/"+sess.ID+"/artifacts/summary", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("artifact status = %d", rec.Code)
	}
	var a artifact.Artifact
	if err := json.NewDecoder(rec.Body).Decode(&a); err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	if a.State != artifact.StateReady {
		t.Errorf("artifact state = %s, want ready", a.State)
	}

	// Action gate.
	req = httptest.NewRequest(http.MethodGet, "/api/sessions/"+sess.ID+"/actions/book_appointment", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("action status = %d", rec.Code)
	}
	var check depgraph.CheckResult
	if err := json.NewDecoder(rec.Body).Decode(&check); err != nil {
		t.Fatalf("decode check: %v", err)
	}
	if !check.Feasible {
		t.Errorf("action blocked: %v", check.Missing)
	}

	// Surface cards.
	req = httptest.NewRequest(http.MethodGet, "/api/sessions/"+sess.ID+"/surface", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("surface status = %d", rec.Code)
	}
	var cards []surface.Card
	if err := json.NewDecoder(rec.Body).Decode(&cards); err != nil {
		t.Fatalf("decode cards: %v", err)
	}
	if len(cards) == 0 || len(cards) > 4 {
		t.Errorf("cards = %v, want 1..4 cards", cards)
	}
	if cards[0].Kind != surface.CardArtifactReady {
		t.Errorf("top card = %+v, want ready artifact first", cards[0])
	}
}

func TestHTTPSubmitTurnValidation(t *testing.T) {
	r, m := setupRouter(t)
	id := createTestSession(t, m)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/turns", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for empty turn", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/turns", strings.NewReader(`not json`))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for invalid body", rec.Code)
	}
}

func TestHTTPUnknownReferences(t *testing.T) {
	r, m := setupRouter(t)
	id := createTestSession(t, m)

	cases := []struct {
		name string
		url  string
	}{
		{"unknown session", "/api/sessions/nope/surface"},
		{"unknown action", "/api/sessions/" + id + "/actions/nope"},
		{"unknown artifact", "/api/sessions/" + id + "/artifacts/nope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != http.StatusNotFound {
				t.Errorf("status = %d, want 404", rec.Code)
			}
		})
	}
}

func TestHTTPPreviewRequiresReady(t *testing.T) {
	r, m := setupRouter(t)
	id := createTestSession(t, m)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/artifacts/summary/preview", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 for absent artifact", rec.Code)
	}
}

// Connecting a stream while broadcasts fire from other goroutines must
// deliver clean frames; the initial surface write goes through the hub
// lock so it cannot interleave with a broadcast.
func TestStreamConnectDuringBroadcasts(t *testing.T) {
	r, m := setupRouter(t)
	id := createTestSession(t, m)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	storm := []surface.Card{{Kind: surface.CardActionAvailable, Key: "greet"}}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					m.Hub().Broadcast(id, storm)
				}
			}
		}()
	}
	t.Cleanup(func() {
		close(stop)
		wg.Wait()
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + id + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if resp != nil {
		resp.Body.Close()
	}

	var frame struct {
		SessionID string         `json:"session_id"`
		Cards     []surface.Card `json:"cards"`
	}
	for i := 0; i < 10; i++ {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("reading frame %d: %v", i, err)
		}
		if frame.SessionID != id {
			t.Fatalf("frame %d session_id = %q, want %q", i, frame.SessionID, id)
		}
	}
}

func TestHTTPInvalidateArtifact(t *testing.T) {
	r, m := setupRouter(t)
	ctx := context.Background()
	id := createTestSession(t, m)

	if _, err := m.SubmitTurn(ctx, id, "t1", []record.FieldUpdate{
		{FieldPath: "patient.name", Value: "Rex"},
		{FieldPath: "visit.details", Value: strings.Repeat("x", 100)},
	}, ""); err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	m.artifacts.Wait()

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/artifacts/summary/invalidate",
		strings.NewReader(`{"reason":"owner asked for a redo"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	a, err := m.GetArtifact(ctx, id, "summary")
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if a.State != artifact.StateAbsent {
		t.Errorf("state = %s, want absent", a.State)
	}
}
