package session

import (
	"errors"
	"time"

	"github.com/intakehq/intake/internal/record"
	"github.com/intakehq/intake/internal/surface"
)

// ErrUnknownSession is returned for session ids with no stored session.
var ErrUnknownSession = errors.New("unknown session")

// Session is the durable identity of one long-running conversation.
// Sessions are created on first interaction and never destroyed by the
// engine; retention is an external concern.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TurnResult is what a committed turn hands back to the conversational
// layer: the record snapshot, the recomputed readiness and the current
// surface projection, plus any updates that were dropped.
type TurnResult struct {
	SessionID string                  `json:"session_id"`
	Record    *record.Record          `json:"record"`
	Readiness float64                 `json:"readiness"`
	Percent   int                     `json:"percent"`
	Cards     []surface.Card          `json:"cards"`
	Rejected  []record.RejectedUpdate `json:"rejected,omitempty"`
}
