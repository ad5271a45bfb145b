package schema

// FieldType describes how a field's values are merged and scored.
type FieldType string

const (
	FieldScalar   FieldType = "scalar"
	FieldEnum     FieldType = "enum"
	FieldSet      FieldType = "set"
	FieldLongText FieldType = "long_text"
)

// MergePolicy controls how repeated long-text submissions combine.
type MergePolicy string

const (
	MergeReplace MergePolicy = "replace"
	MergeAppend  MergePolicy = "append"
)

// Field describes one slot in the session record.
type Field struct {
	Path         string      `yaml:"path" json:"path"`
	Type         FieldType   `yaml:"type" json:"type"`
	Weight       float64     `yaml:"weight" json:"weight"`
	TargetLength int         `yaml:"target_length,omitempty" json:"target_length,omitempty"`
	Merge        MergePolicy `yaml:"merge,omitempty" json:"merge,omitempty"`
	Values       []string    `yaml:"values,omitempty" json:"values,omitempty"`
	Description  string      `yaml:"description,omitempty" json:"description,omitempty"`
}

// Condition is a single requirement on session state. Exactly one of the
// three members is set.
type Condition struct {
	Readiness *float64 `yaml:"readiness,omitempty" json:"readiness,omitempty"`
	Artifact  string   `yaml:"artifact,omitempty" json:"artifact,omitempty"`
	Predicate string   `yaml:"predicate,omitempty" json:"predicate,omitempty"`
}

// Action is a domain operation gated by conditions. Actions with an empty
// requires list are always available.
type Action struct {
	ID            string      `yaml:"id" json:"id"`
	Requires      []Condition `yaml:"requires,omitempty" json:"requires,omitempty"`
	OnBlockedHint string      `yaml:"on_blocked_hint,omitempty" json:"on_blocked_hint,omitempty"`
	Urgent        bool        `yaml:"urgent,omitempty" json:"urgent,omitempty"`
}

// Validation is the structural contract generated artifact content must pass.
type Validation struct {
	MinLength      int            `yaml:"min_length,omitempty" json:"min_length,omitempty"`
	RequiredFields []string       `yaml:"required_fields,omitempty" json:"required_fields,omitempty"`
	MinListEntries map[string]int `yaml:"min_list_entries,omitempty" json:"min_list_entries,omitempty"`
}

// ArtifactFormat selects the shape of generated artifact content.
type ArtifactFormat string

const (
	FormatMarkdown ArtifactFormat = "markdown"
	FormatJSON     ArtifactFormat = "json"
)

// Artifact describes a derived object generated once its requires hold.
// InvalidateOn holds doublestar glob patterns matched against the field
// paths of correction facts; a match demotes a ready artifact to absent.
type Artifact struct {
	ID           string         `yaml:"id" json:"id"`
	Requires     []Condition    `yaml:"requires,omitempty" json:"requires,omitempty"`
	Format       ArtifactFormat `yaml:"format,omitempty" json:"format,omitempty"`
	Prompt       string         `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Validate     Validation     `yaml:"validate,omitempty" json:"validate,omitempty"`
	InvalidateOn []string       `yaml:"invalidate_on,omitempty" json:"invalidate_on,omitempty"`
}

// Workflow is the full declarative definition the engine interprets:
// field schema, action graph and artifact lifecycle triggers. The engine
// never branches on a specific field, action or artifact name; all domain
// identifiers live here.
type Workflow struct {
	Fields    []Field    `yaml:"fields"`
	Actions   []Action   `yaml:"actions,omitempty"`
	Artifacts []Artifact `yaml:"artifacts,omitempty"`
	MaxCards  int        `yaml:"max_cards,omitempty"`
}
