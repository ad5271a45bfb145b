package readiness

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/intakehq/intake/internal/record"
	"github.com/intakehq/intake/internal/schema"
)

func testWorkflow() *schema.Workflow {
	return &schema.Workflow{
		Fields: []schema.Field{
			{Path: "patient.name", Type: schema.FieldScalar, Weight: 0.1},
			{Path: "visit.concerns", Type: schema.FieldSet, Weight: 0.2},
			{Path: "visit.details", Type: schema.FieldLongText, Weight: 0.4, TargetLength: 1000},
			{Path: "owner.phone", Type: schema.FieldScalar, Weight: 0.3},
		},
	}
}

func set(r *record.Record, path string, value any) {
	r.Fields[path] = record.FieldState{Value: value, UpdatedAt: time.Now().UTC()}
}

func TestScoreEmptyRecord(t *testing.T) {
	if got := Score(testWorkflow(), record.NewRecord()); got != 0 {
		t.Errorf("Score = %g, want 0", got)
	}
}

func TestScoreWeightedSum(t *testing.T) {
	wf := testWorkflow()
	r := record.NewRecord()
	set(r, "patient.name", "Rex")
	set(r, "visit.concerns", []string{"limping"})
	set(r, "visit.details", strings.Repeat("x", 500))

	// 0.1 + 0.2 + 0.4*(500/1000) = 0.5
	if got := Score(wf, r); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Score = %g, want 0.5", got)
	}
}

func TestScoreLongTextCapped(t *testing.T) {
	wf := testWorkflow()
	r := record.NewRecord()
	set(r, "visit.details", strings.Repeat("x", 5000))

	if got := Score(wf, r); math.Abs(got-0.4) > 1e-9 {
		t.Errorf("Score = %g, want long text capped at full weight 0.4", got)
	}
}

func TestScoreFullRecord(t *testing.T) {
	wf := testWorkflow()
	r := record.NewRecord()
	set(r, "patient.name", "Rex")
	set(r, "visit.concerns", []string{"limping"})
	set(r, "visit.details", strings.Repeat("x", 1000))
	set(r, "owner.phone", "555-0101")

	if got := Score(wf, r); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("Score = %g, want 1.0", got)
	}
}

func TestScoreMonotonic(t *testing.T) {
	wf := testWorkflow()
	r := record.NewRecord()

	prev := Score(wf, r)
	steps := []func(){
		func() { set(r, "patient.name", "Rex") },
		func() { set(r, "visit.details", strings.Repeat("x", 100)) },
		func() { set(r, "visit.details", strings.Repeat("x", 400)) },
		func() { set(r, "visit.concerns", []string{"limping"}) },
		func() { set(r, "owner.phone", "555-0101") },
	}
	for i, step := range steps {
		step()
		got := Score(wf, r)
		if got < prev {
			t.Errorf("step %d: score dropped from %g to %g", i, prev, got)
		}
		prev = got
	}
}

func TestScoreIgnoresEmptyFields(t *testing.T) {
	wf := testWorkflow()
	r := record.NewRecord()
	set(r, "patient.name", "")
	set(r, "visit.concerns", []string{})

	if got := Score(wf, r); got != 0 {
		t.Errorf("Score = %g, want 0 for empty values", got)
	}
}

func TestPercent(t *testing.T) {
	cases := []struct {
		score float64
		want  int
	}{
		{0, 0},
		{0.5, 50},
		{0.499, 50},
		{0.494, 49},
		{1, 100},
	}
	for _, tc := range cases {
		if got := Percent(tc.score); got != tc.want {
			t.Errorf("Percent(%g) = %d, want %d", tc.score, got, tc.want)
		}
	}
}
