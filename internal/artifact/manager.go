package artifact

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/intakehq/intake/internal/depgraph"
)

// Hooks is how the lifecycle manager cooperates with the session layer's
// single-writer discipline. Generation itself runs without any lock; only
// the trigger and the terminal commit happen inside WithSessionLock.
type Hooks interface {
	// WithSessionLock runs fn while holding the session's write lock.
	WithSessionLock(sessionID string, fn func())
	// CurrentState returns the session's gate state. Must be called with
	// the session lock held.
	CurrentState(ctx context.Context, sessionID string) (depgraph.State, error)
	// SurfaceChanged signals that the session's projection may differ.
	SurfaceChanged(sessionID string)
}

// Manager drives the absent -> generating -> ready|error state machine
// for every artifact the workflow defines.
type Manager struct {
	store      *Store
	graph      *depgraph.Graph
	gen        Generator
	hooks      Hooks
	genTimeout time.Duration
	wg         sync.WaitGroup
}

// NewManager creates a lifecycle manager. SetHooks must be called before
// Evaluate.
func NewManager(store *Store, graph *depgraph.Graph, gen Generator) *Manager {
	return &Manager{
		store:      store,
		graph:      graph,
		gen:        gen,
		genTimeout: 2 * time.Minute,
	}
}

// SetHooks wires the session layer in. Separate from the constructor
// because the session manager and artifact manager reference each other.
func (m *Manager) SetHooks(h Hooks) { m.hooks = h }

// SetGenerationTimeout overrides the per-generation deadline.
func (m *Manager) SetGenerationTimeout(d time.Duration) { m.genTimeout = d }

// Evaluate walks every artifact definition against the current state and
// triggers generation where conditions newly hold. The caller must hold
// the session's write lock. A pair already generating is left alone, so
// near-simultaneous triggers result in exactly one generation call.
// Ready artifacts are structurally re-checked; a failing re-check demotes
// to absent, which makes the artifact eligible for regeneration in the
// same pass.
func (m *Manager) Evaluate(ctx context.Context, sessionID string, st depgraph.State) error {
	for _, def := range m.graph.Workflow().Artifacts {
		row, err := m.store.Get(ctx, sessionID, def.ID)
		if err != nil {
			return err
		}

		state := row.State
		if state == StateReady {
			if verr := ValidateContent(def, row.Content); verr != nil {
				reason := fmt.Sprintf("structural re-check failed: %v", verr)
				if err := m.store.SetAbsent(ctx, sessionID, def.ID, reason); err != nil {
					return err
				}
				state = StateAbsent
			}
		}

		if state != StateAbsent && state != StateError {
			continue
		}
		if !m.graph.Holds(def.Requires, st) {
			continue
		}

		if err := m.store.SetGenerating(ctx, sessionID, def.ID); err != nil {
			return err
		}

		in := GenerationInput{
			SessionID: sessionID,
			Def:       def,
			Record:    st.Record.Clone(),
			Readiness: st.Readiness,
		}
		m.wg.Add(1)
		go m.generate(in)
	}
	return nil
}

// generate runs outside the session lock, then briefly re-acquires it to
// commit. Conditions are re-checked at commit time: if a newer fact
// invalidated the preconditions while generation was in flight, the
// result is discarded rather than committed (stale-write rejection).
func (m *Manager) generate(in GenerationInput) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), m.genTimeout)
	defer cancel()

	content, err := m.gen.Generate(ctx, in)
	if err == nil {
		if verr := ValidateContent(in.Def, content); verr != nil {
			err = fmt.Errorf("structural validation: %w", verr)
		}
	}

	m.hooks.WithSessionLock(in.SessionID, func() {
		commitCtx, commitCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer commitCancel()

		st, stErr := m.hooks.CurrentState(commitCtx, in.SessionID)
		if stErr == nil && !m.graph.Holds(in.Def.Requires, st) {
			if derr := m.store.SetAbsent(commitCtx, in.SessionID, in.Def.ID, "preconditions no longer hold; result discarded"); derr != nil {
				log.Printf("artifact %s/%s: discarding stale result: %v", in.SessionID, in.Def.ID, derr)
			}
			return
		}

		if err != nil {
			if serr := m.store.SetError(commitCtx, in.SessionID, in.Def.ID, err.Error()); serr != nil {
				log.Printf("artifact %s/%s: recording error: %v", in.SessionID, in.Def.ID, serr)
			}
			return
		}
		if serr := m.store.SetReady(commitCtx, in.SessionID, in.Def.ID, content); serr != nil {
			log.Printf("artifact %s/%s: committing content: %v", in.SessionID, in.Def.ID, serr)
		}
	})

	m.hooks.SurfaceChanged(in.SessionID)
}

// Invalidate explicitly demotes a ready artifact to absent. Any other
// state is an error: absent has nothing to invalidate and an in-flight
// generation will be stale-checked at commit anyway.
func (m *Manager) Invalidate(ctx context.Context, sessionID, artifactID, reason string) error {
	if _, ok := m.graph.Workflow().ArtifactDef(artifactID); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownArtifact, artifactID)
	}
	row, err := m.store.Get(ctx, sessionID, artifactID)
	if err != nil {
		return err
	}
	if row.State != StateReady {
		return fmt.Errorf("artifact %q is %s, only ready artifacts can be invalidated", artifactID, row.State)
	}
	if reason == "" {
		reason = "explicitly invalidated"
	}
	return m.store.SetAbsent(ctx, sessionID, artifactID, reason)
}

// InvalidateForCorrections demotes ready artifacts whose invalidate_on
// patterns match any corrected field path. Called under the session lock
// during merge commit, before triggers are re-evaluated.
func (m *Manager) InvalidateForCorrections(ctx context.Context, sessionID string, correctedPaths []string) error {
	if len(correctedPaths) == 0 {
		return nil
	}
	for _, def := range m.graph.Workflow().Artifacts {
		if len(def.InvalidateOn) == 0 {
			continue
		}
		row, err := m.store.Get(ctx, sessionID, def.ID)
		if err != nil {
			return err
		}
		if row.State != StateReady {
			continue
		}
		if !matchesAny(def.InvalidateOn, correctedPaths) {
			continue
		}
		if err := m.store.SetAbsent(ctx, sessionID, def.ID, "upstream fact corrected"); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until all in-flight generations have committed. Test helper.
func (m *Manager) Wait() { m.wg.Wait() }

// Store exposes the underlying store for read paths.
func (m *Manager) Store() *Store { return m.store }

func matchesAny(patterns, paths []string) bool {
	for _, pat := range patterns {
		for _, path := range paths {
			if ok, err := doublestar.Match(pat, path); err == nil && ok {
				return true
			}
		}
	}
	return false
}
