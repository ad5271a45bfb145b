// Package readiness computes the graded completeness score of a session
// record. There is no stage enum anywhere in the engine: readiness is the
// only global measure, always recomputed from the record, never stored.
package readiness

import (
	"github.com/intakehq/intake/internal/record"
	"github.com/intakehq/intake/internal/schema"
)

// Score returns the weighted readiness of a record in [0,1]. Scalar, enum
// and set fields contribute their full weight once present. Long-text
// fields contribute proportionally to length against their target, capped
// at full weight: conversational depth is continuous, not checklist-
// complete. Pure function; adding or enriching a field never lowers the
// result.
func Score(wf *schema.Workflow, r *record.Record) float64 {
	var score float64
	for _, f := range wf.Fields {
		if !r.Has(f.Path) {
			continue
		}
		if f.Type == schema.FieldLongText {
			fs, _ := r.Get(f.Path)
			text, _ := fs.Value.(string)
			frac := float64(len(text)) / float64(f.TargetLength)
			if frac > 1 {
				frac = 1
			}
			score += f.Weight * frac
			continue
		}
		score += f.Weight
	}
	if score > 1 {
		score = 1
	}
	return score
}

// Percent returns the score scaled to 0..100 for display layers.
func Percent(score float64) int {
	return int(score*100 + 0.5)
}
