package schema

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// weightEpsilon is the tolerance for the field-weight sum check.
const weightEpsilon = 1e-6

// DefaultMaxCards bounds the surface projection when the workflow file
// does not set max_cards.
const DefaultMaxCards = 4

// Load reads and parses a workflow definition from a YAML file. The result
// is not yet validated; callers must call Validate before use.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow %s: %w", path, err)
	}
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parsing workflow %s: %w", path, err)
	}
	if wf.MaxCards == 0 {
		wf.MaxCards = DefaultMaxCards
	}
	return &wf, nil
}

// Save writes the workflow definition to a YAML file.
func (w *Workflow) Save(path string) error {
	data, err := yaml.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshalling workflow: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing workflow to %s: %w", path, err)
	}
	return nil
}

var validFieldTypes = map[FieldType]bool{
	FieldScalar:   true,
	FieldEnum:     true,
	FieldSet:      true,
	FieldLongText: true,
}

// Validate checks the workflow definition eagerly: field weights must sum
// to 1, every condition must be well-formed, and every artifact or
// predicate reference must resolve. knownPredicates is the set of predicate
// names the host has registered. Cycle detection across artifact
// requirements is done separately by the dependency graph builder.
func (w *Workflow) Validate(knownPredicates map[string]bool) error {
	if len(w.Fields) == 0 {
		return fmt.Errorf("workflow defines no fields")
	}

	seen := make(map[string]bool, len(w.Fields))
	var sum float64
	for _, f := range w.Fields {
		if f.Path == "" {
			return fmt.Errorf("field with empty path")
		}
		if seen[f.Path] {
			return fmt.Errorf("duplicate field path %q", f.Path)
		}
		seen[f.Path] = true

		if !validFieldTypes[f.Type] {
			return fmt.Errorf("field %q: invalid type %q", f.Path, f.Type)
		}
		if f.Weight < 0 {
			return fmt.Errorf("field %q: negative weight", f.Path)
		}
		if f.Type == FieldLongText && f.TargetLength <= 0 {
			return fmt.Errorf("field %q: long_text requires a positive target_length", f.Path)
		}
		if f.Type != FieldLongText && f.Merge != "" {
			return fmt.Errorf("field %q: merge policy is only valid for long_text fields", f.Path)
		}
		if f.Merge != "" && f.Merge != MergeReplace && f.Merge != MergeAppend {
			return fmt.Errorf("field %q: invalid merge policy %q", f.Path, f.Merge)
		}
		if f.Type == FieldEnum && len(f.Values) == 0 {
			return fmt.Errorf("field %q: enum requires values", f.Path)
		}
		sum += f.Weight
	}
	if math.Abs(sum-1.0) > weightEpsilon {
		return fmt.Errorf("field weights sum to %g, want 1.0", sum)
	}

	artifactIDs := make(map[string]bool, len(w.Artifacts))
	for _, a := range w.Artifacts {
		if a.ID == "" {
			return fmt.Errorf("artifact with empty id")
		}
		if artifactIDs[a.ID] {
			return fmt.Errorf("duplicate artifact id %q", a.ID)
		}
		artifactIDs[a.ID] = true
	}

	actionIDs := make(map[string]bool, len(w.Actions))
	for _, a := range w.Actions {
		if a.ID == "" {
			return fmt.Errorf("action with empty id")
		}
		if actionIDs[a.ID] {
			return fmt.Errorf("duplicate action id %q", a.ID)
		}
		actionIDs[a.ID] = true
		for i, c := range a.Requires {
			if err := w.validateCondition(c, artifactIDs, knownPredicates); err != nil {
				return fmt.Errorf("action %q requires[%d]: %w", a.ID, i, err)
			}
		}
	}

	for _, a := range w.Artifacts {
		for i, c := range a.Requires {
			if err := w.validateCondition(c, artifactIDs, knownPredicates); err != nil {
				return fmt.Errorf("artifact %q requires[%d]: %w", a.ID, i, err)
			}
		}
		if a.Format != "" && a.Format != FormatMarkdown && a.Format != FormatJSON {
			return fmt.Errorf("artifact %q: invalid format %q", a.ID, a.Format)
		}
		for _, pat := range a.InvalidateOn {
			if !doublestar.ValidatePattern(pat) {
				return fmt.Errorf("artifact %q: invalid invalidate_on pattern %q", a.ID, pat)
			}
		}
	}

	if w.MaxCards < 0 {
		return fmt.Errorf("max_cards must be non-negative")
	}

	return nil
}

func (w *Workflow) validateCondition(c Condition, artifactIDs, knownPredicates map[string]bool) error {
	set := 0
	if c.Readiness != nil {
		set++
		if *c.Readiness < 0 || *c.Readiness > 1 {
			return fmt.Errorf("readiness threshold %g out of [0,1]", *c.Readiness)
		}
	}
	if c.Artifact != "" {
		set++
		if !artifactIDs[c.Artifact] {
			return fmt.Errorf("unknown artifact %q", c.Artifact)
		}
	}
	if c.Predicate != "" {
		set++
		if knownPredicates != nil && !knownPredicates[c.Predicate] {
			return fmt.Errorf("unknown predicate %q", c.Predicate)
		}
	}
	if set != 1 {
		return fmt.Errorf("condition must set exactly one of readiness, artifact, predicate")
	}
	return nil
}

// Describe renders a condition as a stable identifier for gate responses,
// e.g. "readiness>=0.8" or "artifact:guideline".
func (c Condition) Describe() string {
	switch {
	case c.Readiness != nil:
		return fmt.Sprintf("readiness>=%g", *c.Readiness)
	case c.Artifact != "":
		return "artifact:" + c.Artifact
	case c.Predicate != "":
		return "predicate:" + c.Predicate
	}
	return "invalid"
}

// Field returns the field definition for a path.
func (w *Workflow) Field(path string) (Field, bool) {
	for _, f := range w.Fields {
		if f.Path == path {
			return f, true
		}
	}
	return Field{}, false
}

// Action returns the action definition for an id.
func (w *Workflow) Action(id string) (Action, bool) {
	for _, a := range w.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// ArtifactDef returns the artifact definition for an id.
func (w *Workflow) ArtifactDef(id string) (Artifact, bool) {
	for _, a := range w.Artifacts {
		if a.ID == id {
			return a, true
		}
	}
	return Artifact{}, false
}

// FieldPaths returns all field paths in sorted order.
func (w *Workflow) FieldPaths() []string {
	paths := make([]string, 0, len(w.Fields))
	for _, f := range w.Fields {
		paths = append(paths, f.Path)
	}
	sort.Strings(paths)
	return paths
}
