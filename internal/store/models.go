package store

import (
	"database/sql"
	"time"

	"homehealth-sync-service/internal/model"
)

type SyncHistory struct {
	ID              string         `db:"id"`
	StartedAt       time.Time      `db:"started_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	Trigger         string         `db:"trigger_source"`
	ItemsPushed     int            `db:"items_pushed"`
	ItemsFailed     int            `db:"items_failed"`
	RecordsUpserted int            `db:"records_upserted"`
	RecordsDeleted  int            `db:"records_deleted"`
	Status          string         `db:"status"`
	ErrorMessage    sql.NullString `db:"error_message"`
}

// Sync history statuses.
const (
	HistoryRunning   = "running"
	HistoryCompleted = "completed"
	HistoryPartial   = "partial"
)

// AppointmentFilter narrows ListAppointments. Zero fields do not filter.
// From and To are inclusive YYYY-MM-DD dates.
type AppointmentFilter struct {
	From       string
	To         string
	PatientID  string
	SyncStatus model.SyncStatus
	// Unlinked keeps only appointments without a calendar event id.
	Unlinked bool
}

func (f AppointmentFilter) match(a *model.Appointment) bool {
	if f.From != "" && a.Date < f.From {
		return false
	}
	if f.To != "" && a.Date > f.To {
		return false
	}
	if f.PatientID != "" && a.PatientID != f.PatientID {
		return false
	}
	if f.SyncStatus != "" && a.SyncStatus != f.SyncStatus {
		return false
	}
	if f.Unlinked && a.CalendarEventID != "" {
		return false
	}
	return true
}

// DayNoteFilter narrows ListDayNotes. Zero fields do not filter.
type DayNoteFilter struct {
	From       string
	To         string
	SyncStatus model.SyncStatus
	Unlinked   bool
}

func (f DayNoteFilter) match(n *model.DayNote) bool {
	if f.From != "" && n.Date < f.From {
		return false
	}
	if f.To != "" && n.Date > f.To {
		return false
	}
	if f.SyncStatus != "" && n.SyncStatus != f.SyncStatus {
		return false
	}
	if f.Unlinked && n.CalendarEventID != "" {
		return false
	}
	return true
}

// QueueFilter narrows ListQueueItems. Results are ordered by id.
type QueueFilter struct {
	Statuses   []model.QueueStatus
	EntityKind model.EntityKind
	Limit      int
}

func (f QueueFilter) match(item *model.QueueItem) bool {
	if f.EntityKind != "" && item.EntityKind != f.EntityKind {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if item.Status == s {
			return true
		}
	}
	return false
}
