package store

import (
	"context"
	"time"

	"homehealth-sync-service/internal/model"
)

// Getters return (nil, nil) when the record does not exist.
type Store interface {
	// Patients
	GetPatient(ctx context.Context, id string) (*model.Patient, error)
	ListPatients(ctx context.Context) ([]*model.Patient, error)
	PutPatient(ctx context.Context, p *model.Patient) error
	DeletePatient(ctx context.Context, id string) error

	// Appointments
	GetAppointment(ctx context.Context, id string) (*model.Appointment, error)
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]*model.Appointment, error)
	PutAppointment(ctx context.Context, a *model.Appointment) error
	DeleteAppointment(ctx context.Context, id string) error

	// Day notes
	GetDayNote(ctx context.Context, id string) (*model.DayNote, error)
	ListDayNotes(ctx context.Context, filter DayNoteFilter) ([]*model.DayNote, error)
	PutDayNote(ctx context.Context, n *model.DayNote) error
	DeleteDayNote(ctx context.Context, id string) error

	// Calendar links
	GetCalendarLink(ctx context.Context, appointmentID string) (*model.CalendarLink, error)
	GetCalendarLinkByEvent(ctx context.Context, calendarID, eventID string) (*model.CalendarLink, error)
	ListCalendarLinks(ctx context.Context, calendarID string) ([]*model.CalendarLink, error)
	PutCalendarLink(ctx context.Context, link *model.CalendarLink) error
	DeleteCalendarLink(ctx context.Context, appointmentID string) error

	// Sync queue. InsertQueueItem assigns item.ID.
	InsertQueueItem(ctx context.Context, item *model.QueueItem) error
	UpdateQueueItem(ctx context.Context, item *model.QueueItem) error
	GetQueueItem(ctx context.Context, id int64) (*model.QueueItem, error)
	ListQueueItems(ctx context.Context, filter QueueFilter) ([]*model.QueueItem, error)
	DeleteQueueItems(ctx context.Context, status model.QueueStatus, updatedBefore time.Time) (int64, error)

	// Tracked remote ids. Replaced wholesale, never partially mutated.
	GetTrackedIDs(ctx context.Context, ownerKey string, kind model.EntityKind) ([]string, error)
	ReplaceTrackedIDs(ctx context.Context, ownerKey string, kind model.EntityKind, ids []string) error

	// History
	CreateSyncHistory(ctx context.Context, history *SyncHistory) error
	UpdateSyncHistory(ctx context.Context, history *SyncHistory) error
	GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error)

	// WithTx runs fn against a transactional view of the store. Any error
	// from fn rolls back every write fn made.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// General
	Close() error
}
