// Package depgraph interprets the declarative action/condition graph and
// answers feasibility queries. It is a generic interpreter: domain names
// appear only in the workflow definition, never in code.
package depgraph

import (
	"errors"
	"fmt"

	"github.com/intakehq/intake/internal/record"
	"github.com/intakehq/intake/internal/schema"
)

// ErrUnknownAction is returned when a feasibility check references an
// action id not present in the workflow definition.
var ErrUnknownAction = errors.New("unknown action")

// Predicate is a host-registered boolean check over the record, referenced
// from workflow conditions by name.
type Predicate func(*record.Record) bool

// State is the consistent snapshot a gate evaluation runs against.
// ReadyArtifacts contains only artifacts currently in the ready state; an
// artifact in error or generating counts as not ready.
type State struct {
	Record         *record.Record
	Readiness      float64
	ReadyArtifacts map[string]bool
}

// CheckResult reports feasibility plus the complete set of unmet
// conditions. HintTextKey is an opaque lookup key into external copy.
type CheckResult struct {
	Feasible    bool     `json:"feasible"`
	Missing     []string `json:"missing"`
	HintTextKey string   `json:"hint_text_key,omitempty"`
}

// Graph is the validated dependency graph for one workflow definition.
type Graph struct {
	wf         *schema.Workflow
	predicates map[string]Predicate
}

// New validates the workflow's references and artifact-requirement graph
// and returns a gate over it. Fails fast: a cyclic artifact dependency or
// an unknown predicate is a startup error, not a first-use error.
func New(wf *schema.Workflow, predicates map[string]Predicate) (*Graph, error) {
	known := make(map[string]bool, len(predicates))
	for name := range predicates {
		known[name] = true
	}
	if err := wf.Validate(known); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}
	if err := detectCycles(wf); err != nil {
		return nil, err
	}
	return &Graph{wf: wf, predicates: predicates}, nil
}

// Workflow returns the underlying definition.
func (g *Graph) Workflow() *schema.Workflow { return g.wf }

// CheckAction evaluates every condition of the action against the state
// and returns the full missing list, never just the first failure.
// Results are always computed fresh; feasibility is never cached.
func (g *Graph) CheckAction(actionID string, st State) (CheckResult, error) {
	action, ok := g.wf.Action(actionID)
	if !ok {
		return CheckResult{}, fmt.Errorf("%w: %q", ErrUnknownAction, actionID)
	}
	missing := g.Eval(action.Requires, st)
	res := CheckResult{
		Feasible: len(missing) == 0,
		Missing:  missing,
	}
	if !res.Feasible {
		res.HintTextKey = action.OnBlockedHint
	}
	return res, nil
}

// Eval returns descriptions of every unmet condition in the list.
func (g *Graph) Eval(conds []schema.Condition, st State) []string {
	var missing []string
	for _, c := range conds {
		if !g.holds(c, st) {
			missing = append(missing, c.Describe())
		}
	}
	return missing
}

// Holds reports whether all conditions in the list are currently met.
func (g *Graph) Holds(conds []schema.Condition, st State) bool {
	return len(g.Eval(conds, st)) == 0
}

func (g *Graph) holds(c schema.Condition, st State) bool {
	switch {
	case c.Readiness != nil:
		return st.Readiness >= *c.Readiness
	case c.Artifact != "":
		return st.ReadyArtifacts[c.Artifact]
	case c.Predicate != "":
		p, ok := g.predicates[c.Predicate]
		return ok && st.Record != nil && p(st.Record)
	}
	return false
}

// detectCycles walks artifact requirement edges (artifact -> required
// artifact). Actions cannot be depended on, so cycles can only form among
// artifacts.
func detectCycles(wf *schema.Workflow) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(wf.Artifacts))

	var visit func(id string, trail []string) error
	visit = func(id string, trail []string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("artifact dependency cycle: %v -> %s", trail, id)
		case done:
			return nil
		}
		state[id] = visiting
		def, ok := wf.ArtifactDef(id)
		if ok {
			for _, c := range def.Requires {
				if c.Artifact != "" {
					if err := visit(c.Artifact, append(trail, id)); err != nil {
						return err
					}
				}
			}
		}
		state[id] = done
		return nil
	}

	for _, a := range wf.Artifacts {
		if err := visit(a.ID, nil); err != nil {
			return err
		}
	}
	return nil
}
