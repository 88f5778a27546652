package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homehealth-sync-service/internal/model"
	"homehealth-sync-service/internal/store"
)

func newTestMutations(s store.Store, clock *fakeClock) (*Mutations, *int) {
	m := NewMutations(s, newTestQueue(s, clock))
	m.now = clock.Now
	calls := 0
	m.onChange = func() { calls++ }
	return m, &calls
}

func TestSavePatientQueuesCreateThenUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newClock()
	s := store.NewMemoryStore()
	m, changes := newTestMutations(s, clock)

	saved, err := m.SavePatient(ctx, &model.Patient{FullName: "Mary Smith"})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, model.PatientStatusActive, saved.Status)
	assert.Equal(t, model.SyncStatusPending, saved.SyncStatus)
	assert.Equal(t, t0, saved.CreatedAt)

	clock.Advance(time.Minute)
	saved.Phone = "555-0100"
	updated, err := m.SavePatient(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, t0, updated.CreatedAt)
	assert.Equal(t, t0.Add(time.Minute), updated.UpdatedAt)

	items := queueItems(t, s, model.QueueStatusPending)
	require.Len(t, items, 2)
	assert.Equal(t, model.ActionCreate, items[0].Action)
	assert.Equal(t, model.ActionUpdate, items[1].Action)
	assert.Equal(t, saved.ID, items[1].Payload.EntityID())
	assert.Equal(t, 2, *changes)
}

func TestSavePatientKeepsForOtherPatient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryStore()
	m, _ := newTestMutations(s, newClock())
	putPatient(t, s, &model.Patient{ID: "p1", FullName: "Mary Smith", ForOtherPtAt: "Bob Baker"})

	_, err := m.SavePatient(ctx, &model.Patient{ID: "p1", FullName: "Mary Smith", Phone: "555"})
	require.NoError(t, err)
	assert.Equal(t, "Bob Baker", getPatient(t, s, "p1").ForOtherPtAt)
}

func TestMutationsRejectInvalidRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryStore()
	m, changes := newTestMutations(s, newClock())
	putPatient(t, s, &model.Patient{ID: "p1", FullName: "Mary Smith"})

	tests := []struct {
		name string
		save func() error
	}{
		{"patient without name", func() error {
			_, err := m.SavePatient(ctx, &model.Patient{FullName: "  "})
			return err
		}},
		{"appointment without patient", func() error {
			_, err := m.SaveAppointment(ctx, &model.Appointment{Date: "2026-03-12"})
			return err
		}},
		{"appointment with bad date", func() error {
			_, err := m.SaveAppointment(ctx, &model.Appointment{PatientID: "p1", Date: "03/12/2026"})
			return err
		}},
		{"appointment with bad time", func() error {
			_, err := m.SaveAppointment(ctx, &model.Appointment{PatientID: "p1", Date: "2026-03-12", StartTime: "9am"})
			return err
		}},
		{"appointment for unknown patient", func() error {
			_, err := m.SaveAppointment(ctx, &model.Appointment{PatientID: "nobody", Date: "2026-03-12"})
			return err
		}},
		{"day note without text", func() error {
			_, err := m.SaveDayNote(ctx, &model.DayNote{Date: "2026-03-12"})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.save(), ErrInvalidRecord)
		})
	}
	assert.Empty(t, queueItems(t, s))
	assert.Zero(t, *changes)
}

func TestSaveAppointmentKeepsEventLink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryStore()
	m, _ := newTestMutations(s, newClock())
	putPatient(t, s, &model.Patient{ID: "p1", FullName: "Mary Smith"})
	require.NoError(t, s.PutAppointment(ctx, &model.Appointment{
		ID: "a1", PatientID: "p1", Date: "2026-03-12", CalendarEventID: "ev1",
		SyncStatus: model.SyncStatusSynced, CreatedAt: t0, UpdatedAt: t0,
	}))

	saved, err := m.SaveAppointment(ctx, &model.Appointment{ID: "a1", PatientID: "p1", Date: "2026-03-13", StartTime: "09:30"})
	require.NoError(t, err)
	assert.Equal(t, "ev1", saved.CalendarEventID)
	assert.Equal(t, model.AppointmentStatusScheduled, saved.Status)

	items := queueItems(t, s, model.QueueStatusPending)
	require.Len(t, items, 1)
	assert.Equal(t, model.ActionUpdate, items[0].Action)
	assert.Equal(t, model.EntityAppointment, items[0].EntityKind)
}

func TestDeleteAppointment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryStore()
	m, _ := newTestMutations(s, newClock())
	putPatient(t, s, &model.Patient{ID: "p1", FullName: "Mary Smith"})
	for _, a := range []*model.Appointment{
		{ID: "linked", PatientID: "p1", Date: "2026-03-12", CalendarEventID: "ev1"},
		{ID: "local", PatientID: "p1", Date: "2026-03-12"},
	} {
		a.CreatedAt, a.UpdatedAt = t0, t0
		require.NoError(t, s.PutAppointment(ctx, a))
	}

	require.NoError(t, m.DeleteAppointment(ctx, "linked"))
	require.NoError(t, m.DeleteAppointment(ctx, "local"))
	assert.ErrorIs(t, m.DeleteAppointment(ctx, "local"), ErrNotFound)

	items := queueItems(t, s)
	require.Len(t, items, 1, "only the linked appointment has a remote event to delete")
	assert.Equal(t, model.ActionDelete, items[0].Action)
	assert.Equal(t, "linked", items[0].Payload.EntityID())
	assert.Equal(t, "ev1", items[0].Payload.RemoteID())
}

func TestUnlinkAppointment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryStore()
	m, _ := newTestMutations(s, newClock())
	putPatient(t, s, &model.Patient{ID: "p1", FullName: "Mary Smith"})
	require.NoError(t, s.PutAppointment(ctx, &model.Appointment{
		ID: "a1", PatientID: "p1", Date: "2026-03-12", SyncStatus: model.SyncStatusSynced, CreatedAt: t0, UpdatedAt: t0,
	}))

	assert.ErrorIs(t, m.UnlinkAppointment(ctx, "a1"), ErrInvalidRecord)
	assert.ErrorIs(t, m.UnlinkAppointment(ctx, "missing"), ErrNotFound)

	require.NoError(t, s.PutCalendarLink(ctx, &model.CalendarLink{AppointmentID: "a1", CalendarID: "cal", EventID: "ev9", UpdatedAt: t0}))
	require.NoError(t, m.UnlinkAppointment(ctx, "a1"))

	a, err := s.GetAppointment(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, model.SyncStatusPending, a.SyncStatus)

	items := queueItems(t, s)
	require.Len(t, items, 1)
	assert.Equal(t, model.EntityCalendarLink, items[0].EntityKind)
	assert.Equal(t, "ev9", items[0].Payload.RemoteID())
}

func TestDayNoteLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryStore()
	m, changes := newTestMutations(s, newClock())

	note, err := m.SaveDayNote(ctx, &model.DayNote{Date: "2026-03-12", Text: "Office closed"})
	require.NoError(t, err)
	require.NoError(t, m.DeleteDayNote(ctx, note.ID))

	linked := &model.DayNote{ID: "n2", Date: "2026-03-13", Text: "Team meeting", CalendarEventID: "ev2", CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, s.PutDayNote(ctx, linked))
	require.NoError(t, m.DeleteDayNote(ctx, "n2"))
	assert.ErrorIs(t, m.DeleteDayNote(ctx, "n2"), ErrNotFound)

	items := queueItems(t, s)
	require.Len(t, items, 2)
	assert.Equal(t, model.ActionCreate, items[0].Action)
	assert.Equal(t, model.ActionDelete, items[1].Action)
	assert.Equal(t, "ev2", items[1].Payload.RemoteID())
	assert.Equal(t, 3, *changes)
}

func TestDeletePatientQueuesRowDeletion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryStore()
	m, _ := newTestMutations(s, newClock())
	putPatient(t, s, &model.Patient{ID: "p1", FullName: "Mary Smith"})

	require.NoError(t, m.DeletePatient(ctx, "p1"))
	assert.Nil(t, getPatient(t, s, "p1"))
	assert.ErrorIs(t, m.DeletePatient(ctx, "p1"), ErrNotFound)

	items := queueItems(t, s)
	require.Len(t, items, 1)
	assert.Equal(t, model.ActionDelete, items[0].Action)
	assert.Equal(t, model.EntityPatient, items[0].EntityKind)
}
