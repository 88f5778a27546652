package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homehealth-sync-service/internal/model"
	"homehealth-sync-service/internal/remote"
	"homehealth-sync-service/internal/store"
)

const sheetOwner = "sheet-1"

func newTestReconciler(s store.Store, clock *fakeClock) *Reconciler {
	r := NewReconciler(s, newTestQueue(s, clock), time.UTC)
	r.now = clock.Now
	return r
}

func remotePatient(id, name string) *model.Patient {
	return &model.Patient{ID: id, FullName: name, Status: model.PatientStatusActive}
}

func TestReconcileSnapshotDeletesVanishedRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryStore()
	r := newTestReconciler(s, newClock())

	a, b, c := remotePatient("A", "Ann Able"), remotePatient("B", "Bob Baker"), remotePatient("C", "Cy Cole")
	res, err := r.ReconcileSnapshot(ctx, sheetOwner, model.EntityPatient, patientRecords(a, b, c))
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Upserted: 3}, res)

	res, err = r.ReconcileSnapshot(ctx, sheetOwner, model.EntityPatient, patientRecords(a, c))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Upserted)
	assert.Equal(t, 1, res.Deleted)

	assert.Nil(t, getPatient(t, s, "B"))
	assert.NotNil(t, getPatient(t, s, "A"))
	assert.NotNil(t, getPatient(t, s, "C"))

	tracked, err := s.GetTrackedIDs(ctx, sheetOwner, model.EntityPatient)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "C"}, tracked)
}

func TestReconcileSnapshotKeepsRecordsWithPendingWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newClock()
	s := store.NewMemoryStore()
	r := newTestReconciler(s, clock)

	a, b, c := remotePatient("A", "Ann Able"), remotePatient("B", "Bob Baker"), remotePatient("C", "Cy Cole")
	_, err := r.ReconcileSnapshot(ctx, sheetOwner, model.EntityPatient, patientRecords(a, b, c))
	require.NoError(t, err)
	mustEnqueue(t, r.queue, model.ActionUpdate, model.EntityPatient, "B")

	res, err := r.ReconcileSnapshot(ctx, sheetOwner, model.EntityPatient, patientRecords(a, c))
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)
	assert.NotNil(t, getPatient(t, s, "B"))
}

func TestReconcileSnapshotNeverDeletesOnFirstLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryStore()
	r := newTestReconciler(s, newClock())

	putPatient(t, s, &model.Patient{ID: "local-only", FullName: "Dee Dunn"})
	res, err := r.ReconcileSnapshot(ctx, sheetOwner, model.EntityPatient, patientRecords(remotePatient("A", "Ann Able")))
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)
	assert.NotNil(t, getPatient(t, s, "local-only"))
}

func TestReconcileSnapshotProtectsLocalEdits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryStore()
	r := newTestReconciler(s, newClock())

	putPatient(t, s, &model.Patient{ID: "A", FullName: "Ann Edited", SyncStatus: model.SyncStatusPending})
	putPatient(t, s, &model.Patient{ID: "B", FullName: "Bob Baker", ForOtherPtAt: "Sunrise Home"})

	res, err := r.ReconcileSnapshot(ctx, sheetOwner, model.EntityPatient, patientRecords(
		remotePatient("A", "Ann Stale"),
		&model.Patient{ID: "B", FullName: "Bob Baker", Phone: "555-0100"},
	))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)

	assert.Equal(t, "Ann Edited", getPatient(t, s, "A").FullName)
	b := getPatient(t, s, "B")
	assert.Equal(t, "555-0100", b.Phone)
	assert.Equal(t, "Sunrise Home", b.ForOtherPtAt)
	assert.Equal(t, model.SyncStatusSynced, b.SyncStatus)
	assert.Equal(t, t0, b.CreatedAt)
}

type bogusRecord struct{}

func (bogusRecord) RecordID() string { return "X" }

func TestReconcileSnapshotRollsBackOnError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryStore()
	r := newTestReconciler(s, newClock())

	_, err := r.ReconcileSnapshot(ctx, sheetOwner, model.EntityPatient, []Record{
		remotePatient("A", "Ann Able"),
		bogusRecord{},
	})
	require.Error(t, err)
	assert.Nil(t, getPatient(t, s, "A"))
}

func calendarEvent(id, title string, start time.Time, meta map[string]string) remote.Event {
	return remote.Event{ID: id, Summary: title, Start: start, End: start.Add(time.Hour), Metadata: meta}
}

func TestReconcileCalendarResolvesEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newClock()
	s := store.NewMemoryStore()
	r := newTestReconciler(s, clock)

	putPatient(t, s, &model.Patient{ID: "p-mary", FullName: "Mary Smith"})
	require.NoError(t, s.PutAppointment(ctx, &model.Appointment{
		ID: "a1", PatientID: "p-mary", Date: "2026-03-11", StartTime: "09:00",
		SyncStatus: model.SyncStatusSynced, CreatedAt: t0, UpdatedAt: t0,
	}))

	day := time.Date(2026, 3, 12, 14, 30, 0, 0, time.UTC)
	events := []remote.Event{
		// Correlated by metadata: moves a1.
		calendarEvent("e1", "Mary Smith (SOC)", day, map[string]string{remote.MetaAppointmentID: "a1", remote.MetaVisitType: "SOC"}),
		// Title matches a known patient.
		calendarEvent("e2", "mary smith - follow up", day.Add(2*time.Hour), nil),
		// Unknown patient: imported.
		calendarEvent("e3", "José Núñez (RV)", day.AddDate(0, 0, 1), map[string]string{remote.MetaPatientPhone: "555-0199"}),
		// Day note.
		{ID: "e4", Summary: "Office closed", Start: day, AllDay: true, Metadata: map[string]string{remote.MetaKind: remote.EventKindDayNote}},
		// No usable name.
		calendarEvent("e5", "  ", day, nil),
	}
	from, to := t0.AddDate(0, 0, -30), t0.AddDate(1, 0, 0)
	res, err := r.ReconcileCalendar(ctx, "cal", events, from, to)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Upserted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Imported)

	a1, err := s.GetAppointment(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-12", a1.Date)
	assert.Equal(t, "14:30", a1.StartTime)
	assert.Equal(t, "SOC", a1.VisitType)
	assert.Equal(t, "e1", a1.CalendarEventID)

	a2, err := s.GetAppointment(ctx, "evt-e2")
	require.NoError(t, err)
	require.NotNil(t, a2)
	assert.Equal(t, "p-mary", a2.PatientID)
	assert.Equal(t, model.AppointmentStatusScheduled, a2.Status)

	imported := getPatient(t, s, "pt-jose-nunez")
	require.NotNil(t, imported)
	assert.Equal(t, "José Núñez", imported.FullName)
	assert.Equal(t, "555-0199", imported.Phone)
	assert.Equal(t, model.SyncStatusPending, imported.SyncStatus)
	queued := queueItems(t, s, model.QueueStatusPending)
	require.Len(t, queued, 1)
	assert.Equal(t, model.EntityPatient, queued[0].EntityKind)
	assert.Equal(t, "pt-jose-nunez", queued[0].Payload.EntityID())

	a3, err := s.GetAppointment(ctx, "evt-e3")
	require.NoError(t, err)
	assert.Equal(t, "pt-jose-nunez", a3.PatientID)

	note, err := s.GetDayNote(ctx, "note-e4")
	require.NoError(t, err)
	require.NotNil(t, note)
	assert.Equal(t, "2026-03-12", note.Date)
	assert.Equal(t, "Office closed", note.Text)

	link, err := s.GetCalendarLinkByEvent(ctx, "cal", "e2")
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, "evt-e2", link.AppointmentID)

	// Reimporting the same events is stable.
	res, err = r.ReconcileCalendar(ctx, "cal", events, from, to)
	require.NoError(t, err)
	assert.Zero(t, res.Imported)
	assert.Len(t, queueItems(t, s, model.QueueStatusPending), 1)
}

func TestReconcileCalendarWindowedDeletion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newClock()
	s := store.NewMemoryStore()
	r := newTestReconciler(s, clock)

	putPatient(t, s, &model.Patient{ID: "p1", FullName: "Mary Smith"})
	appts := []*model.Appointment{
		{ID: "gone", Date: "2026-03-15", CalendarEventID: "e-gone", SyncStatus: model.SyncStatusSynced},
		{ID: "kept", Date: "2026-03-16", CalendarEventID: "e-kept", SyncStatus: model.SyncStatusSynced},
		{ID: "old", Date: "2025-01-01", CalendarEventID: "e-old", SyncStatus: model.SyncStatusSynced},
		{ID: "edited", Date: "2026-03-17", CalendarEventID: "e-edited", SyncStatus: model.SyncStatusPending},
		{ID: "unlinked", Date: "2026-03-18", SyncStatus: model.SyncStatusLocal},
	}
	for _, a := range appts {
		a.PatientID = "p1"
		a.CreatedAt, a.UpdatedAt = t0, t0
		require.NoError(t, s.PutAppointment(ctx, a))
		if a.CalendarEventID != "" {
			require.NoError(t, s.PutCalendarLink(ctx, &model.CalendarLink{AppointmentID: a.ID, CalendarID: "cal", EventID: a.CalendarEventID}))
		}
	}
	require.NoError(t, s.PutDayNote(ctx, &model.DayNote{ID: "n1", Date: "2026-03-15", Text: "x", CalendarEventID: "e-note", SyncStatus: model.SyncStatusSynced}))

	kept := calendarEvent("e-kept", "Mary Smith", time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC), map[string]string{remote.MetaAppointmentID: "kept"})
	res, err := r.ReconcileCalendar(ctx, "cal", []remote.Event{kept}, t0.AddDate(0, 0, -30), t0.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)

	for id, want := range map[string]bool{"gone": false, "kept": true, "old": true, "edited": true, "unlinked": true} {
		a, err := s.GetAppointment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, a != nil, id)
	}
	link, err := s.GetCalendarLink(ctx, "gone")
	require.NoError(t, err)
	assert.Nil(t, link)
	note, err := s.GetDayNote(ctx, "n1")
	require.NoError(t, err)
	assert.Nil(t, note)
}

func TestReconcileCalendarSkipsPendingAppointments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newClock()
	s := store.NewMemoryStore()
	r := newTestReconciler(s, clock)

	putPatient(t, s, &model.Patient{ID: "p1", FullName: "Mary Smith"})
	require.NoError(t, s.PutAppointment(ctx, &model.Appointment{
		ID: "a1", PatientID: "p1", Date: "2026-03-11", StartTime: "09:00", CalendarEventID: "e1",
		SyncStatus: model.SyncStatusSynced, CreatedAt: t0, UpdatedAt: t0,
	}))
	mustEnqueue(t, r.queue, model.ActionUpdate, model.EntityAppointment, "a1")

	ev := calendarEvent("e1", "Mary Smith", time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC), map[string]string{remote.MetaAppointmentID: "a1"})
	res, err := r.ReconcileCalendar(ctx, "cal", []remote.Event{ev}, t0.AddDate(0, 0, -30), t0.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)

	a1, err := s.GetAppointment(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-11", a1.Date)
}
