package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"homehealth-sync-service/internal/model"
	"homehealth-sync-service/internal/store"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidRecord = errors.New("invalid record")
)

// Mutations is the write path for business entities. Every change marks
// the record pending and queues the matching remote write in the same
// transaction.
type Mutations struct {
	store    store.Store
	queue    *Queue
	now      func() time.Time
	onChange func()
}

func NewMutations(s store.Store, queue *Queue) *Mutations {
	return &Mutations{store: s, queue: queue, now: time.Now}
}

func (m *Mutations) changed() {
	if m.onChange != nil {
		m.onChange()
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, fmt.Sprintf(format, args...))
}

// SavePatient creates p, or updates it when a record with its id exists.
// An empty id gets a fresh one.
func (m *Mutations) SavePatient(ctx context.Context, p *model.Patient) (*model.Patient, error) {
	if strings.TrimSpace(p.FullName) == "" {
		return nil, invalid("patient full name is required")
	}
	saved := p.Clone()
	if saved.ID == "" {
		saved.ID = uuid.NewString()
	}
	if saved.Status == "" {
		saved.Status = model.PatientStatusActive
	}

	err := m.store.WithTx(ctx, func(tx store.Store) error {
		existing, err := tx.GetPatient(ctx, saved.ID)
		if err != nil {
			return err
		}
		action := m.stamp(&saved.CreatedAt, &saved.UpdatedAt, existingCreated(existing))
		if existing != nil && saved.ForOtherPtAt == "" {
			saved.ForOtherPtAt = existing.ForOtherPtAt
		}
		saved.SyncStatus = model.SyncStatusPending
		if err := tx.PutPatient(ctx, saved); err != nil {
			return err
		}
		_, err = m.queue.enqueueWith(ctx, tx, action, model.EntityPatient, model.Payload{model.PayloadEntityID: saved.ID})
		return err
	})
	if err != nil {
		return nil, err
	}
	m.changed()
	return saved, nil
}

func existingCreated(r interface{ RecordID() string }) *time.Time {
	switch v := r.(type) {
	case *model.Patient:
		if v != nil {
			return &v.CreatedAt
		}
	case *model.Appointment:
		if v != nil {
			return &v.CreatedAt
		}
	case *model.DayNote:
		if v != nil {
			return &v.CreatedAt
		}
	}
	return nil
}

// stamp sets the timestamps of a record being saved and returns the queue
// action: create when there was no previous record, update otherwise.
func (m *Mutations) stamp(created, updated *time.Time, previous *time.Time) model.Action {
	now := m.now()
	*updated = now
	if previous == nil {
		*created = now
		return model.ActionCreate
	}
	*created = *previous
	return model.ActionUpdate
}

// DeletePatient removes the patient locally and queues the row deletion.
func (m *Mutations) DeletePatient(ctx context.Context, id string) error {
	err := m.store.WithTx(ctx, func(tx store.Store) error {
		p, err := tx.GetPatient(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrNotFound
		}
		if err := tx.DeletePatient(ctx, id); err != nil {
			return err
		}
		_, err = m.queue.enqueueWith(ctx, tx, model.ActionDelete, model.EntityPatient, model.Payload{model.PayloadEntityID: id})
		return err
	})
	if err == nil {
		m.changed()
	}
	return err
}

func validateAppointment(a *model.Appointment) error {
	if a.PatientID == "" {
		return invalid("appointment patient id is required")
	}
	if _, err := time.Parse(model.DateLayout, a.Date); err != nil {
		return invalid("appointment date %q is not YYYY-MM-DD", a.Date)
	}
	if a.StartTime != "" {
		if _, err := time.Parse(model.TimeLayout, a.StartTime); err != nil {
			return invalid("appointment start time %q is not HH:MM", a.StartTime)
		}
	}
	if a.DurationMinutes < 0 {
		return invalid("appointment duration must not be negative")
	}
	return nil
}

// SaveAppointment creates or updates a. The remote event link is owned by
// the engine and survives updates.
func (m *Mutations) SaveAppointment(ctx context.Context, a *model.Appointment) (*model.Appointment, error) {
	if err := validateAppointment(a); err != nil {
		return nil, err
	}
	saved := a.Clone()
	if saved.ID == "" {
		saved.ID = uuid.NewString()
	}
	if saved.Status == "" {
		saved.Status = model.AppointmentStatusScheduled
	}

	err := m.store.WithTx(ctx, func(tx store.Store) error {
		patient, err := tx.GetPatient(ctx, saved.PatientID)
		if err != nil {
			return err
		}
		if patient == nil {
			return invalid("patient %s does not exist", saved.PatientID)
		}
		existing, err := tx.GetAppointment(ctx, saved.ID)
		if err != nil {
			return err
		}
		action := m.stamp(&saved.CreatedAt, &saved.UpdatedAt, existingCreated(existing))
		if existing != nil {
			saved.CalendarEventID = existing.CalendarEventID
		}
		saved.SyncStatus = model.SyncStatusPending
		if err := tx.PutAppointment(ctx, saved); err != nil {
			return err
		}
		_, err = m.queue.enqueueWith(ctx, tx, action, model.EntityAppointment, model.Payload{model.PayloadEntityID: saved.ID})
		return err
	})
	if err != nil {
		return nil, err
	}
	m.changed()
	return saved, nil
}

// DeleteAppointment removes the appointment and queues deletion of its
// event, if it has one.
func (m *Mutations) DeleteAppointment(ctx context.Context, id string) error {
	err := m.store.WithTx(ctx, func(tx store.Store) error {
		a, err := tx.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		if a == nil {
			return ErrNotFound
		}
		eventID, err := linkedEventID(ctx, tx, a)
		if err != nil {
			return err
		}
		if err := tx.DeleteAppointment(ctx, id); err != nil {
			return err
		}
		if eventID == "" {
			return nil
		}
		_, err = m.queue.enqueueWith(ctx, tx, model.ActionDelete, model.EntityAppointment,
			model.Payload{model.PayloadEntityID: id, model.PayloadRemoteID: eventID})
		return err
	})
	if err == nil {
		m.changed()
	}
	return err
}

// UnlinkAppointment keeps the appointment but removes its calendar event.
func (m *Mutations) UnlinkAppointment(ctx context.Context, id string) error {
	err := m.store.WithTx(ctx, func(tx store.Store) error {
		a, err := tx.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		if a == nil {
			return ErrNotFound
		}
		eventID, err := linkedEventID(ctx, tx, a)
		if err != nil {
			return err
		}
		if eventID == "" {
			return invalid("appointment %s is not linked to an event", id)
		}
		a.SyncStatus = model.SyncStatusPending
		a.UpdatedAt = m.now()
		if err := tx.PutAppointment(ctx, a); err != nil {
			return err
		}
		_, err = m.queue.enqueueWith(ctx, tx, model.ActionDelete, model.EntityCalendarLink,
			model.Payload{model.PayloadEntityID: id, model.PayloadRemoteID: eventID})
		return err
	})
	if err == nil {
		m.changed()
	}
	return err
}

func linkedEventID(ctx context.Context, tx store.Store, a *model.Appointment) (string, error) {
	if a.CalendarEventID != "" {
		return a.CalendarEventID, nil
	}
	link, err := tx.GetCalendarLink(ctx, a.ID)
	if err != nil || link == nil {
		return "", err
	}
	return link.EventID, nil
}

// SaveDayNote creates or updates the note for a day.
func (m *Mutations) SaveDayNote(ctx context.Context, n *model.DayNote) (*model.DayNote, error) {
	if _, err := time.Parse(model.DateLayout, n.Date); err != nil {
		return nil, invalid("day note date %q is not YYYY-MM-DD", n.Date)
	}
	if strings.TrimSpace(n.Text) == "" {
		return nil, invalid("day note text is required")
	}
	saved := n.Clone()
	if saved.ID == "" {
		saved.ID = uuid.NewString()
	}

	err := m.store.WithTx(ctx, func(tx store.Store) error {
		existing, err := tx.GetDayNote(ctx, saved.ID)
		if err != nil {
			return err
		}
		action := m.stamp(&saved.CreatedAt, &saved.UpdatedAt, existingCreated(existing))
		if existing != nil {
			saved.CalendarEventID = existing.CalendarEventID
		}
		saved.SyncStatus = model.SyncStatusPending
		if err := tx.PutDayNote(ctx, saved); err != nil {
			return err
		}
		_, err = m.queue.enqueueWith(ctx, tx, action, model.EntityDayNote, model.Payload{model.PayloadEntityID: saved.ID})
		return err
	})
	if err != nil {
		return nil, err
	}
	m.changed()
	return saved, nil
}

func (m *Mutations) DeleteDayNote(ctx context.Context, id string) error {
	err := m.store.WithTx(ctx, func(tx store.Store) error {
		n, err := tx.GetDayNote(ctx, id)
		if err != nil {
			return err
		}
		if n == nil {
			return ErrNotFound
		}
		if err := tx.DeleteDayNote(ctx, id); err != nil {
			return err
		}
		if n.CalendarEventID == "" {
			return nil
		}
		_, err = m.queue.enqueueWith(ctx, tx, model.ActionDelete, model.EntityDayNote,
			model.Payload{model.PayloadEntityID: id, model.PayloadRemoteID: n.CalendarEventID})
		return err
	})
	if err == nil {
		m.changed()
	}
	return err
}
