package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/intakehq/intake/internal/artifact"
	"github.com/intakehq/intake/internal/depgraph"
	"github.com/intakehq/intake/internal/extract"
	"github.com/intakehq/intake/internal/readiness"
	"github.com/intakehq/intake/internal/record"
	"github.com/intakehq/intake/internal/schema"
	"github.com/intakehq/intake/internal/surface"
)

// sessionState is the in-memory cache for one session: its mutex is the
// session's single-writer lock, and rec is the cached projection of the
// fact log. The log remains the source of truth; rec is rebuilt by
// replay on first touch after a restart.
type sessionState struct {
	mu     sync.Mutex
	rec    *record.Record
	loaded bool
}

// Manager orchestrates the engine per session: it owns the per-session
// write locks, folds turns into the fact log, and fans out to the gate,
// the artifact lifecycle and the surface projection. Different sessions
// proceed fully in parallel; there is no global lock around mutations.
type Manager struct {
	wf        *schema.Workflow
	graph     *depgraph.Graph
	sessions  *Store
	facts     *record.Store
	artifacts *artifact.Manager
	extractor extract.Extractor
	hub       *Hub

	mu     sync.Mutex
	states map[string]*sessionState
}

// NewManager wires the engine together and registers itself as the
// artifact manager's lock/commit hooks.
func NewManager(wf *schema.Workflow, graph *depgraph.Graph, sessions *Store, facts *record.Store, artifacts *artifact.Manager) *Manager {
	m := &Manager{
		wf:        wf,
		graph:     graph,
		sessions:  sessions,
		facts:     facts,
		artifacts: artifacts,
		hub:       NewHub(),
		states:    make(map[string]*sessionState),
	}
	artifacts.SetHooks(m)
	return m
}

// SetExtractor installs the optional NLU boundary used when a turn
// carries raw text instead of explicit updates.
func (m *Manager) SetExtractor(e extract.Extractor) { m.extractor = e }

// Hub returns the websocket fan-out hub.
func (m *Manager) Hub() *Hub { return m.hub }

// Workflow returns the workflow definition the manager runs.
func (m *Manager) Workflow() *schema.Workflow { return m.wf }

// Create starts a new session.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	return m.sessions.Create(ctx)
}

// state returns the lock holder for a session id.
func (m *Manager) state(id string) *sessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		st = &sessionState{}
		m.states[id] = st
	}
	return st
}

// load rehydrates the cached record from the fact log. Must be called
// with the session lock held. Artifacts stuck in generating from a
// previous process are demoted: their generation can never commit.
func (m *Manager) load(ctx context.Context, id string, st *sessionState) error {
	if st.loaded {
		return nil
	}
	if _, err := m.sessions.Get(ctx, id); err != nil {
		return err
	}
	facts, err := m.facts.List(ctx, id)
	if err != nil {
		return err
	}
	if err := m.artifacts.Store().ResetInflight(ctx, id); err != nil {
		return err
	}
	st.rec = record.Replay(m.wf, facts)
	st.loaded = true
	return nil
}

// WithSessionLock implements artifact.Hooks.
func (m *Manager) WithSessionLock(sessionID string, fn func()) {
	st := m.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	fn()
}

// CurrentState implements artifact.Hooks. Must be called with the
// session lock held.
func (m *Manager) CurrentState(ctx context.Context, sessionID string) (depgraph.State, error) {
	m.mu.Lock()
	st := m.states[sessionID]
	m.mu.Unlock()
	if st == nil {
		return depgraph.State{}, fmt.Errorf("%w: %q", ErrUnknownSession, sessionID)
	}
	if err := m.load(ctx, sessionID, st); err != nil {
		return depgraph.State{}, err
	}
	return m.gateStateLocked(ctx, sessionID, st)
}

// SurfaceChanged implements artifact.Hooks: recompute and push cards to
// stream subscribers.
func (m *Manager) SurfaceChanged(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cards, err := m.GetSurface(ctx, sessionID)
	if err != nil {
		return
	}
	m.hub.Broadcast(sessionID, cards)
}

// gateStateLocked builds the consistent snapshot gate and projection
// calls evaluate against. Caller holds the session lock.
func (m *Manager) gateStateLocked(ctx context.Context, sessionID string, st *sessionState) (depgraph.State, error) {
	rows, err := m.artifacts.Store().List(ctx, sessionID)
	if err != nil {
		return depgraph.State{}, err
	}
	ready := make(map[string]bool)
	for _, a := range rows {
		if a.State == artifact.StateReady {
			ready[a.ID] = true
		}
	}
	return depgraph.State{
		Record:         st.rec,
		Readiness:      readiness.Score(m.wf, st.rec),
		ReadyArtifacts: ready,
	}, nil
}

// SubmitTurn merges a turn's proposed updates into the session. When the
// turn carries raw text and an extractor is configured, extraction runs
// first, outside the lock. Accepted updates are appended to the fact log
// before the cached record mutates (log-then-apply), then artifact
// triggers re-evaluate and the surface is recomputed.
func (m *Manager) SubmitTurn(ctx context.Context, sessionID, turnID string, updates []record.FieldUpdate, text string) (*TurnResult, error) {
	st := m.state(sessionID)

	if text != "" && m.extractor != nil {
		st.mu.Lock()
		err := m.load(ctx, sessionID, st)
		var snap *record.Record
		if err == nil {
			snap = st.rec.Clone()
		}
		st.mu.Unlock()
		if err != nil {
			return nil, err
		}

		proposed, err := m.extractor.Extract(ctx, m.wf, snap, text)
		if err != nil {
			return nil, fmt.Errorf("extracting updates: %w", err)
		}
		updates = append(updates, proposed...)
	}

	if turnID == "" {
		turnID = uuid.New().String()
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := m.load(ctx, sessionID, st); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var facts []record.Fact
	var rejected []record.RejectedUpdate
	var correctedPaths []string

	for _, u := range updates {
		f, ok := m.wf.Field(u.FieldPath)
		if !ok {
			rejected = append(rejected, record.RejectedUpdate{
				FieldPath: u.FieldPath,
				Reason:    "unknown field",
			})
			continue
		}
		norm, err := record.Normalize(f, u.Value)
		if err != nil {
			rejected = append(rejected, record.RejectedUpdate{
				FieldPath: u.FieldPath,
				Reason:    err.Error(),
			})
			continue
		}
		if record.IsEmpty(norm) {
			rejected = append(rejected, record.RejectedUpdate{
				FieldPath: u.FieldPath,
				Reason:    "empty value ignored",
			})
			continue
		}
		facts = append(facts, record.Fact{
			ID:           uuid.New().String(),
			FieldPath:    u.FieldPath,
			Value:        norm,
			Confidence:   u.Confidence,
			SourceTurnID: turnID,
			Correction:   u.Correction,
			ObservedAt:   now,
		})
		if u.Correction {
			correctedPaths = append(correctedPaths, u.FieldPath)
		}
	}

	appended, err := m.facts.Append(ctx, sessionID, facts)
	if err != nil {
		return nil, fmt.Errorf("appending facts: %w", err)
	}
	for _, fact := range appended {
		f, _ := m.wf.Field(fact.FieldPath)
		record.Apply(st.rec, f, fact)
	}
	if len(appended) > 0 {
		if err := m.sessions.Touch(ctx, sessionID); err != nil {
			return nil, fmt.Errorf("touching session: %w", err)
		}
	}

	if err := m.artifacts.InvalidateForCorrections(ctx, sessionID, correctedPaths); err != nil {
		return nil, err
	}

	gateState, err := m.gateStateLocked(ctx, sessionID, st)
	if err != nil {
		return nil, err
	}
	if err := m.artifacts.Evaluate(ctx, sessionID, gateState); err != nil {
		return nil, err
	}

	// Triggers may have changed artifact rows; rebuild for projection.
	gateState, err = m.gateStateLocked(ctx, sessionID, st)
	if err != nil {
		return nil, err
	}
	cards, err := m.projectLocked(ctx, sessionID, gateState)
	if err != nil {
		return nil, err
	}

	result := &TurnResult{
		SessionID: sessionID,
		Record:    st.rec.Clone(),
		Readiness: gateState.Readiness,
		Percent:   readiness.Percent(gateState.Readiness),
		Cards:     cards,
		Rejected:  rejected,
	}

	go m.hub.Broadcast(sessionID, cards)
	return result, nil
}

// CheckAction answers a feasibility query against a consistent snapshot.
func (m *Manager) CheckAction(ctx context.Context, sessionID, actionID string) (depgraph.CheckResult, error) {
	st := m.state(sessionID)
	st.mu.Lock()
	err := m.load(ctx, sessionID, st)
	var gateState depgraph.State
	if err == nil {
		gateState, err = m.gateStateLocked(ctx, sessionID, st)
		if err == nil {
			gateState.Record = st.rec.Clone()
		}
	}
	st.mu.Unlock()
	if err != nil {
		return depgraph.CheckResult{}, err
	}
	return m.graph.CheckAction(actionID, gateState)
}

// GetArtifact returns the lifecycle row for one artifact.
func (m *Manager) GetArtifact(ctx context.Context, sessionID, artifactID string) (*artifact.Artifact, error) {
	if _, ok := m.wf.ArtifactDef(artifactID); !ok {
		return nil, fmt.Errorf("%w: %q", artifact.ErrUnknownArtifact, artifactID)
	}
	st := m.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := m.load(ctx, sessionID, st); err != nil {
		return nil, err
	}
	return m.artifacts.Store().Get(ctx, sessionID, artifactID)
}

// RetryArtifact re-evaluates triggers so an artifact in error re-enters
// generating if its conditions still hold.
func (m *Manager) RetryArtifact(ctx context.Context, sessionID, artifactID string) (*artifact.Artifact, error) {
	if _, ok := m.wf.ArtifactDef(artifactID); !ok {
		return nil, fmt.Errorf("%w: %q", artifact.ErrUnknownArtifact, artifactID)
	}
	st := m.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := m.load(ctx, sessionID, st); err != nil {
		return nil, err
	}
	gateState, err := m.gateStateLocked(ctx, sessionID, st)
	if err != nil {
		return nil, err
	}
	if err := m.artifacts.Evaluate(ctx, sessionID, gateState); err != nil {
		return nil, err
	}
	return m.artifacts.Store().Get(ctx, sessionID, artifactID)
}

// InvalidateArtifact explicitly demotes a ready artifact to absent.
func (m *Manager) InvalidateArtifact(ctx context.Context, sessionID, artifactID, reason string) error {
	st := m.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := m.load(ctx, sessionID, st); err != nil {
		return err
	}
	return m.artifacts.Invalidate(ctx, sessionID, artifactID, reason)
}

// GetSurface recomputes the card projection on demand.
func (m *Manager) GetSurface(ctx context.Context, sessionID string) ([]surface.Card, error) {
	st := m.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := m.load(ctx, sessionID, st); err != nil {
		return nil, err
	}
	gateState, err := m.gateStateLocked(ctx, sessionID, st)
	if err != nil {
		return nil, err
	}
	return m.projectLocked(ctx, sessionID, gateState)
}

// GetRecord returns a snapshot of the current record.
func (m *Manager) GetRecord(ctx context.Context, sessionID string) (*record.Record, float64, error) {
	st := m.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := m.load(ctx, sessionID, st); err != nil {
		return nil, 0, err
	}
	return st.rec.Clone(), readiness.Score(m.wf, st.rec), nil
}

// GetFacts returns the session's full fact log: the audit trail.
func (m *Manager) GetFacts(ctx context.Context, sessionID string) ([]record.Fact, error) {
	st := m.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := m.load(ctx, sessionID, st); err != nil {
		return nil, err
	}
	return m.facts.List(ctx, sessionID)
}

// projectLocked computes the surface cards. Caller holds the session
// lock so the gate state is a consistent snapshot.
func (m *Manager) projectLocked(ctx context.Context, sessionID string, gateState depgraph.State) ([]surface.Card, error) {
	var actions []surface.ActionView
	for _, a := range m.wf.Actions {
		missing := m.graph.Eval(a.Requires, gateState)
		actions = append(actions, surface.ActionView{
			ID:          a.ID,
			Urgent:      a.Urgent,
			Feasible:    len(missing) == 0,
			Missing:     missing,
			Total:       len(a.Requires),
			HintTextKey: a.OnBlockedHint,
		})
	}

	rows, err := m.artifacts.Store().List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var artifacts []surface.ArtifactView
	for _, row := range rows {
		artifacts = append(artifacts, surface.ArtifactView{
			ID:          row.ID,
			Ready:       row.State == artifact.StateReady,
			GeneratedAt: row.GeneratedAt,
		})
	}

	cards := surface.Project(surface.Input{
		Actions:   actions,
		Artifacts: artifacts,
		MaxCards:  m.wf.MaxCards,
		Now:       time.Now().UTC(),
	})
	return cards, nil
}
