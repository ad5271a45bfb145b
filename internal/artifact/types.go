package artifact

import (
	"context"
	"errors"
	"time"

	"github.com/intakehq/intake/internal/record"
	"github.com/intakehq/intake/internal/schema"
)

// ErrUnknownArtifact is returned for artifact ids not present in the
// workflow definition.
var ErrUnknownArtifact = errors.New("unknown artifact")

// State is the lifecycle state of one (session, artifact) pair.
type State string

const (
	StateAbsent     State = "absent"
	StateGenerating State = "generating"
	StateReady      State = "ready"
	StateError      State = "error"
)

// Artifact is a derived, generated object with its own lifecycle. Content
// is only meaningful in the ready state; Reason only in error.
type Artifact struct {
	SessionID   string     `json:"session_id"`
	ID          string     `json:"artifact_id"`
	State       State      `json:"state"`
	Content     string     `json:"content,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// GenerationInput is the snapshot handed to a generator. The record is a
// clone taken under the session lock at trigger time; the generator runs
// without the lock and must not touch live session state.
type GenerationInput struct {
	SessionID string
	Def       schema.Artifact
	Record    *record.Record
	Readiness float64
}

// Generator produces artifact content. Implementations are keyed by
// opaque artifact ids through workflow configuration; the engine never
// hardcodes what any artifact contains.
type Generator interface {
	Generate(ctx context.Context, in GenerationInput) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, in GenerationInput) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, in GenerationInput) (string, error) {
	return f(ctx, in)
}
