package record

import "time"

// Fact is one immutable, timestamped update to a single field. Facts are
// only ever appended; the record is a projection over them.
type Fact struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	FieldPath    string    `json:"field_path"`
	Value        any       `json:"value"`
	Confidence   *float64  `json:"confidence,omitempty"`
	SourceTurnID string    `json:"source_turn_id"`
	Correction   bool      `json:"correction,omitempty"`
	ObservedAt   time.Time `json:"observed_at"`
	Seq          int64     `json:"seq"`
}

// FieldUpdate is a proposed change to one field, typically produced by the
// external extraction step. Updates are advisory: the merger may drop them.
type FieldUpdate struct {
	FieldPath  string   `json:"field_path"`
	Value      any      `json:"value"`
	Confidence *float64 `json:"confidence,omitempty"`
	Correction bool     `json:"correction,omitempty"`
}

// RejectedUpdate reports a proposed update that was dropped, with the
// reason. Rejections are per-update; the rest of the batch still applies.
type RejectedUpdate struct {
	FieldPath string `json:"field_path"`
	Reason    string `json:"reason"`
}

// FieldState is the current value of one field plus its provenance: the
// ids of the facts that contributed to the value.
type FieldState struct {
	Value      any       `json:"value"`
	UpdatedAt  time.Time `json:"last_updated"`
	Provenance []string  `json:"provenance"`
}

// Record is the materialized current-best-known state for a session,
// derived from the fact log and reconstructable by replay.
type Record struct {
	Fields map[string]FieldState `json:"fields"`
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{Fields: make(map[string]FieldState)}
}

// Clone returns a deep copy of the record, safe to hand out as a snapshot.
func (r *Record) Clone() *Record {
	out := &Record{Fields: make(map[string]FieldState, len(r.Fields))}
	for path, fs := range r.Fields {
		cp := fs
		if set, ok := fs.Value.([]string); ok {
			cp.Value = append([]string(nil), set...)
		}
		cp.Provenance = append([]string(nil), fs.Provenance...)
		out.Fields[path] = cp
	}
	return out
}

// Get returns the state for a field path.
func (r *Record) Get(path string) (FieldState, bool) {
	fs, ok := r.Fields[path]
	return fs, ok
}

// Has reports whether the field holds a non-empty value.
func (r *Record) Has(path string) bool {
	fs, ok := r.Fields[path]
	if !ok {
		return false
	}
	switch v := fs.Value.(type) {
	case string:
		return v != ""
	case []string:
		return len(v) > 0
	default:
		return fs.Value != nil
	}
}
