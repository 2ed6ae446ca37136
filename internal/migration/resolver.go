package migration

import "github.com/rflorenc/dify-migration-workbench/internal/models"

// Action is what the lane does with one candidate.
type Action string

const (
	ActionCreate  Action = "create"
	ActionSkip    Action = "skip"
	ActionReuse   Action = "reuse"
	ActionMissing Action = "missing" // no match and auto-create disabled
)

// Decision is the resolver's answer for one candidate.
type Decision struct {
	Action   Action
	TargetID string
}

// Resolver matches candidates against the target by exact, case-sensitive name.
// It is used by a single lane goroutine.
type Resolver struct {
	kind         models.Kind
	byName       map[string]string
	skipExisting bool
	autoCreate   bool
}

// NewResolver indexes the target inventory. When the target holds several
// resources with the same name the first one listed wins.
func NewResolver(target []models.TopLevelResource, kind models.Kind, skipExisting, autoCreate bool) *Resolver {
	r := &Resolver{
		kind:         kind,
		byName:       make(map[string]string, len(target)),
		skipExisting: skipExisting,
		autoCreate:   autoCreate,
	}
	for _, t := range target {
		if t.Kind != "" && t.Kind != kind {
			continue
		}
		if _, dup := r.byName[t.Name]; !dup {
			r.byName[t.Name] = t.ID
		}
	}
	return r
}

// Resolve decides what to do with a candidate.
func (r *Resolver) Resolve(candidate models.TopLevelResource) Decision {
	if id, ok := r.byName[candidate.Name]; ok {
		if r.skipExisting {
			return Decision{Action: ActionSkip, TargetID: id}
		}
		return Decision{Action: ActionReuse, TargetID: id}
	}
	if !r.autoCreate {
		return Decision{Action: ActionMissing}
	}
	return Decision{Action: ActionCreate}
}

// Record registers a resource created during the run, so a later candidate
// with the same name from another source resolves to it.
func (r *Resolver) Record(name, targetID string) {
	if _, ok := r.byName[name]; !ok {
		r.byName[name] = targetID
	}
}
