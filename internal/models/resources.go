package models

// Resource represents a generic API object exactly as the API returned it.
type Resource map[string]interface{}

// Kind tags the two families of top-level resources, one per migration lane.
type Kind string

const (
	KindKnowledgeBase Kind = "knowledge-base"
	KindWorkflow      Kind = "workflow"
)

// Kinds lists every lane kind in the fixed sequential execution order.
var Kinds = []Kind{KindKnowledgeBase, KindWorkflow}

// ParseKind accepts the canonical names plus the short CLI aliases.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "kb", "knowledge", "dataset", "datasets", string(KindKnowledgeBase):
		return KindKnowledgeBase, true
	case "wf", "app", "apps", "workflows", string(KindWorkflow):
		return KindWorkflow, true
	}
	return "", false
}

// TopLevelResource is a dataset or an app as listed at its origin.
// ID is only meaningful on the origin; Name is the de-duplication key.
type TopLevelResource struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Kind        Kind     `json:"kind" yaml:"kind"`
	Mode        string   `json:"mode,omitempty" yaml:"mode,omitempty"` // apps: workflow, chat, agent-chat...
	Origin      string   `json:"origin" yaml:"origin"`
	Raw         Resource `json:"raw,omitempty" yaml:"raw,omitempty"`
}

// Document is a knowledge-base document; its segments are listed separately.
type Document struct {
	ID   string   `json:"id" yaml:"id"`
	Name string   `json:"name" yaml:"name"`
	Raw  Resource `json:"raw,omitempty" yaml:"raw,omitempty"`
}

// Segment is one chunk of a document. Metadata carries every field other
// than content and position untouched (keywords, answer, ...).
type Segment struct {
	Content  string                 `json:"content" yaml:"content"`
	Position int                    `json:"position" yaml:"position"`
	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// DocumentSnapshot is a document with its ordered segments, or the error
// that prevented reading them.
type DocumentSnapshot struct {
	Document   Document  `json:"document" yaml:"document"`
	Segments   []Segment `json:"segments" yaml:"segments"`
	FetchError string    `json:"fetch_error,omitempty" yaml:"fetch_error,omitempty"`
}

// DatasetSnapshot is everything read from the origin for one dataset.
type DatasetSnapshot struct {
	Dataset   TopLevelResource   `json:"dataset" yaml:"dataset"`
	Documents []DocumentSnapshot `json:"documents" yaml:"documents"`
}

// AppSnapshot is everything read from the origin for one app. DSL is an
// opaque YAML document; Mode and DSLVersion are read from its header when
// it has one, so backups stay self-describing.
type AppSnapshot struct {
	App             TopLevelResource `json:"app" yaml:"app"`
	DSL             string           `json:"dsl" yaml:"dsl"`
	Mode            string           `json:"mode,omitempty" yaml:"mode,omitempty"`
	DSLVersion      string           `json:"dsl_version,omitempty" yaml:"dsl_version,omitempty"`
	SecretsStripped int              `json:"secrets_stripped,omitempty" yaml:"secrets_stripped,omitempty"`
}

// ImportRequest describes one DSL import into the target.
type ImportRequest struct {
	Content     []byte
	Name        string
	Description string
	AppID       string // set to overwrite an existing target app
}
