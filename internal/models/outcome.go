package models

import "time"

// OutcomeStatus is the result of migrating one top-level resource.
type OutcomeStatus string

const (
	StatusCreated         OutcomeStatus = "created"
	StatusSkippedExisting OutcomeStatus = "skipped-existing"
	StatusSucceeded       OutcomeStatus = "succeeded"
	StatusPartiallyFailed OutcomeStatus = "partially-failed"
	StatusFailed          OutcomeStatus = "failed"
)

// ChildError records one child resource (document or DSL) that failed.
type ChildError struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// TransferOutcome is the per-resource entry of a migration report.
// Succeeded + Failed never exceeds Attempted.
type TransferOutcome struct {
	Resource    string        `json:"resource"`
	SourceID    string        `json:"source_id"`
	Origin      string        `json:"origin"`
	Kind        Kind          `json:"kind"`
	TargetID    string        `json:"target_id,omitempty"`
	Status      OutcomeStatus `json:"status"`
	Attempted   int           `json:"attempted"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped,omitempty"`
	FirstError  string        `json:"first_error,omitempty"`
	ChildErrors []ChildError  `json:"child_errors,omitempty"`

	// Err is the first error as a value, for errors.Is checks in-process.
	Err error `json:"-"`
	// Fatal is set when the target rejected the run's credentials, whatever
	// error was recorded first. The run stops after this resource.
	Fatal error `json:"-"`
}

// NewOutcome starts an outcome for a candidate resource.
func NewOutcome(r TopLevelResource) TransferOutcome {
	return TransferOutcome{
		Resource: r.Name,
		SourceID: r.ID,
		Origin:   r.Origin,
		Kind:     r.Kind,
	}
}

// RecordError keeps the first error seen; later ones only land in ChildErrors.
func (o *TransferOutcome) RecordError(err error) {
	if err == nil || o.Err != nil {
		return
	}
	o.Err = err
	o.FirstError = err.Error()
}

// ChildFailed counts a failed child and records its error.
func (o *TransferOutcome) ChildFailed(name string, err error) {
	o.Failed++
	o.ChildErrors = append(o.ChildErrors, ChildError{Name: name, Error: err.Error()})
	o.RecordError(err)
}

// Fail marks the whole resource failed.
func (o *TransferOutcome) Fail(err error) {
	o.Status = StatusFailed
	o.RecordError(err)
}

// Settle derives the final status from the child counters. created reports
// whether the target parent was created during this run.
func (o *TransferOutcome) Settle(created bool) {
	if o.Status == StatusFailed || o.Status == StatusSkippedExisting {
		return
	}
	switch {
	case o.Failed > 0 && o.Succeeded == 0:
		o.Status = StatusFailed
	case o.Failed > 0:
		o.Status = StatusPartiallyFailed
	case created:
		o.Status = StatusCreated
	default:
		o.Status = StatusSucceeded
	}
}

// LaneStatus is the lane-level status in a report.
type LaneStatus string

const (
	LaneCompleted LaneStatus = "completed"
	LaneFailed    LaneStatus = "failed"
	LaneNotRun    LaneStatus = "not-run"
)

// SourceError records a source whose inventory could not be read.
type SourceError struct {
	Source string `json:"source"`
	Error  string `json:"error"`
	Auth   bool   `json:"auth,omitempty"`
}

// LaneReport is the result of one lane.
type LaneReport struct {
	Kind         Kind              `json:"kind"`
	Status       LaneStatus        `json:"status"`
	State        string            `json:"state"`
	Cancelled    bool              `json:"cancelled,omitempty"`
	Outcomes     []TransferOutcome `json:"outcomes"`
	SourceErrors []SourceError     `json:"source_errors,omitempty"`
	Error        string            `json:"error,omitempty"`
	Reason       string            `json:"reason,omitempty"` // why a lane did not run
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
}

// MigrationReport aggregates every lane of one run.
type MigrationReport struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Lanes      []LaneReport `json:"lanes"`
	Fatal      string       `json:"fatal,omitempty"`
}

// Lane returns the report of the given lane, or nil.
func (r *MigrationReport) Lane(k Kind) *LaneReport {
	for i := range r.Lanes {
		if r.Lanes[i].Kind == k {
			return &r.Lanes[i]
		}
	}
	return nil
}

// Outcomes returns every outcome across lanes in lane order.
func (r *MigrationReport) Outcomes() []TransferOutcome {
	var all []TransferOutcome
	for _, l := range r.Lanes {
		all = append(all, l.Outcomes...)
	}
	return all
}

// Totals counts outcomes per status.
func (r *MigrationReport) Totals() map[OutcomeStatus]int {
	totals := make(map[OutcomeStatus]int)
	for _, o := range r.Outcomes() {
		totals[o.Status]++
	}
	return totals
}
