package sync

import (
	"fmt"
	"time"
)

// Trigger names what started a sync cycle.
type Trigger string

const (
	TriggerInterval Trigger = "interval"
	TriggerFocus    Trigger = "focus"
	TriggerManual   Trigger = "manual"
	TriggerAuth     Trigger = "auth"
	TriggerStartup  Trigger = "startup"
	// TriggerDrain runs only the queue drain step.
	TriggerDrain Trigger = "drain"
)

// Cycle steps, in execution order.
const (
	StepDrain        = "drain"
	StepBackfill     = "backfill"
	StepPullPatients = "pull_patients"
	StepDedup        = "dedup"
	StepPullCalendar = "pull_calendar"
)

// Manager states reported by GetStatus.
const (
	StateIdle    = "idle"
	StateRunning = "running"
)

type StepError struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// CycleResult summarises one sync cycle.
type CycleResult struct {
	ID          string      `json:"id"`
	Trigger     Trigger     `json:"trigger"`
	StartedAt   time.Time   `json:"startedAt"`
	CompletedAt time.Time   `json:"completedAt"`
	Pushed      int         `json:"pushed"`
	Failed      int         `json:"failed"`
	Upserted    int         `json:"upserted"`
	Deleted     int         `json:"deleted"`
	Merged      int         `json:"merged"`
	Backfilled  int         `json:"backfilled"`
	Skipped     []string    `json:"skipped,omitempty"`
	Errors      []StepError `json:"errors,omitempty"`
}

func (r *CycleResult) skip(step, reason string) {
	r.Skipped = append(r.Skipped, step+": "+reason)
}

func (r *CycleResult) fail(step string, err error) {
	r.Errors = append(r.Errors, StepError{Step: step, Error: err.Error()})
}

// LastError returns the most recent step error, or "".
func (r *CycleResult) LastError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	last := r.Errors[len(r.Errors)-1]
	return last.Step + ": " + last.Error
}

func (r CycleResult) String() string {
	return fmt.Sprintf("[%s] pushed=%d failed=%d upserted=%d deleted=%d merged=%d errors=%d",
		r.Trigger, r.Pushed, r.Failed, r.Upserted, r.Deleted, r.Merged, len(r.Errors))
}

// Status is the observable state of the engine.
type Status struct {
	State         string       `json:"state"`
	PendingCount  int          `json:"pendingCount"`
	LastError     string       `json:"lastError,omitempty"`
	LastCycleAt   *time.Time   `json:"lastCycleAt,omitempty"`
	LastSuccessAt *time.Time   `json:"lastSuccessAt,omitempty"`
	LastResult    *CycleResult `json:"lastResult,omitempty"`
}
