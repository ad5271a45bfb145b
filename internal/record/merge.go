package record

import (
	"fmt"
	"sort"
	"strings"

	"github.com/intakehq/intake/internal/schema"
)

// appendSeparator joins successive long-text contributions under the
// append merge policy.
const appendSeparator = "\n\n"

// Normalize coerces a proposed value into the canonical shape for its
// field type: string for scalar, enum and long_text, []string for set.
// JSON decoding hands sets over as []any, which is accepted here. A value
// of the wrong shape is an error; the caller drops that update and keeps
// the rest of the batch.
func Normalize(f schema.Field, value any) (any, error) {
	switch f.Type {
	case schema.FieldScalar, schema.FieldLongText:
		s, ok := value.(string)
		if !ok && value != nil {
			return nil, fmt.Errorf("field %q: expected string, got %T", f.Path, value)
		}
		return s, nil
	case schema.FieldEnum:
		s, ok := value.(string)
		if !ok && value != nil {
			return nil, fmt.Errorf("field %q: expected string, got %T", f.Path, value)
		}
		if s != "" && !containsString(f.Values, s) {
			return nil, fmt.Errorf("field %q: %q is not a valid value", f.Path, s)
		}
		return s, nil
	case schema.FieldSet:
		switch v := value.(type) {
		case nil:
			return []string(nil), nil
		case []string:
			return append([]string(nil), v...), nil
		case []any:
			out := make([]string, 0, len(v))
			for _, e := range v {
				s, ok := e.(string)
				if !ok {
					return nil, fmt.Errorf("field %q: set element %T is not a string", f.Path, e)
				}
				out = append(out, s)
			}
			return out, nil
		default:
			return nil, fmt.Errorf("field %q: expected list, got %T", f.Path, value)
		}
	default:
		return nil, fmt.Errorf("field %q: unknown type %q", f.Path, f.Type)
	}
}

// IsEmpty reports whether a normalized value carries no information.
// Empty proposals never overwrite populated fields.
func IsEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []string:
		return len(v) == 0
	default:
		return false
	}
}

// Apply folds one fact into the record. Facts must be applied in log
// order (by seq); given that, Apply is deterministic regardless of how the
// log is batched. The fact's value must already be normalized.
func Apply(r *Record, f schema.Field, fact Fact) {
	if IsEmpty(fact.Value) {
		return
	}

	prev, existed := r.Fields[fact.FieldPath]

	switch f.Type {
	case schema.FieldScalar, schema.FieldEnum:
		r.Fields[fact.FieldPath] = FieldState{
			Value:      fact.Value,
			UpdatedAt:  fact.ObservedAt,
			Provenance: []string{fact.ID},
		}

	case schema.FieldSet:
		incoming := fact.Value.([]string)
		if fact.Correction || !existed {
			r.Fields[fact.FieldPath] = FieldState{
				Value:      dedupSorted(incoming),
				UpdatedAt:  fact.ObservedAt,
				Provenance: []string{fact.ID},
			}
			return
		}
		merged := dedupSorted(append(append([]string(nil), prev.Value.([]string)...), incoming...))
		r.Fields[fact.FieldPath] = FieldState{
			Value:      merged,
			UpdatedAt:  fact.ObservedAt,
			Provenance: append(append([]string(nil), prev.Provenance...), fact.ID),
		}

	case schema.FieldLongText:
		text := fact.Value.(string)
		policy := f.Merge
		if policy == "" {
			policy = schema.MergeAppend
		}
		if fact.Correction || policy == schema.MergeReplace || !existed {
			r.Fields[fact.FieldPath] = FieldState{
				Value:      text,
				UpdatedAt:  fact.ObservedAt,
				Provenance: []string{fact.ID},
			}
			return
		}
		r.Fields[fact.FieldPath] = FieldState{
			Value:      prev.Value.(string) + appendSeparator + text,
			UpdatedAt:  fact.ObservedAt,
			Provenance: append(append([]string(nil), prev.Provenance...), fact.ID),
		}
	}
}

// Replay rebuilds a record from a fact log. Facts whose field path is not
// in the workflow (a schema change removed it) are skipped. Values coming
// back from storage are re-normalized so that replay and live application
// share one code path.
func Replay(wf *schema.Workflow, facts []Fact) *Record {
	sorted := append([]Fact(nil), facts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	r := NewRecord()
	for _, fact := range sorted {
		f, ok := wf.Field(fact.FieldPath)
		if !ok {
			continue
		}
		norm, err := Normalize(f, fact.Value)
		if err != nil {
			continue
		}
		fact.Value = norm
		Apply(r, f, fact)
	}
	return r
}

func dedupSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func containsString(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
