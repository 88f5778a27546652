package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"homehealth-sync-service/internal/identity"
	"homehealth-sync-service/internal/logger"
	"homehealth-sync-service/internal/model"
	"homehealth-sync-service/internal/remote"
	"homehealth-sync-service/internal/store"
)

// Record is a local entity identified by the id its remote system uses.
type Record interface {
	RecordID() string
}

// ReconcileResult counts what a reconciliation pass did.
type ReconcileResult struct {
	Upserted int `json:"upserted"`
	Deleted  int `json:"deleted"`
	Skipped  int `json:"skipped"`
	Imported int `json:"imported"`
}

// Reconciler merges remote snapshots into the local store.
type Reconciler struct {
	store store.Store
	queue *Queue
	loc   *time.Location
	now   func() time.Time
}

func NewReconciler(s store.Store, queue *Queue, loc *time.Location) *Reconciler {
	if loc == nil {
		loc = time.UTC
	}
	return &Reconciler{store: s, queue: queue, loc: loc, now: time.Now}
}

// ReconcileSnapshot upserts records and then deletes every local record
// that the previous snapshot of ownerKey contained, this one does not, and
// no open queue item refers to. The tracked id set is replaced with the
// ids of records. Everything happens in one transaction.
func (r *Reconciler) ReconcileSnapshot(ctx context.Context, ownerKey string, kind model.EntityKind, records []Record) (ReconcileResult, error) {
	res := ReconcileResult{Upserted: len(records)}
	err := r.store.WithTx(ctx, func(tx store.Store) error {
		pending, err := pendingEntityIDs(ctx, tx, kind)
		if err != nil {
			return err
		}
		g := newGuard(pending)

		current := make([]string, 0, len(records))
		seen := make(map[string]struct{}, len(records))
		for _, rec := range records {
			id := rec.RecordID()
			if id == "" {
				continue
			}
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				current = append(current, id)
			}
			written, err := r.upsert(ctx, tx, g, rec)
			if err != nil {
				return fmt.Errorf("upsert %s %s: %w", kind, id, err)
			}
			if !written {
				res.Skipped++
			}
		}

		previous, err := tx.GetTrackedIDs(ctx, ownerKey, kind)
		if err != nil {
			return err
		}
		for _, id := range previous {
			if _, ok := seen[id]; ok || g.isPending(id) {
				continue
			}
			deleted, err := r.deleteLocal(ctx, tx, kind, id)
			if err != nil {
				return fmt.Errorf("delete %s %s: %w", kind, id, err)
			}
			if deleted {
				res.Deleted++
			}
		}

		return tx.ReplaceTrackedIDs(ctx, ownerKey, kind, current)
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	logger.Log.Info("Reconciled snapshot",
		zap.String("owner_key", ownerKey),
		zap.String("entity_kind", string(kind)),
		zap.Int("upserted", res.Upserted),
		zap.Int("deleted", res.Deleted),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// upsert writes rec unless a local edit protects it. It reports false when
// the record was left alone.
func (r *Reconciler) upsert(ctx context.Context, tx store.Store, g guard, rec Record) (bool, error) {
	switch v := rec.(type) {
	case *model.Patient:
		return r.upsertPatient(ctx, tx, g, v)
	case *model.Appointment:
		return r.upsertAppointment(ctx, tx, g, v)
	case *model.DayNote:
		return r.upsertDayNote(ctx, tx, g, v)
	}
	return false, fmt.Errorf("unsupported record type %T", rec)
}

func (r *Reconciler) upsertPatient(ctx context.Context, tx store.Store, g guard, p *model.Patient) (bool, error) {
	existing, err := tx.GetPatient(ctx, p.ID)
	if err != nil {
		return false, err
	}
	incoming := p.Clone()
	now := r.now()
	if existing == nil {
		if g.isPending(p.ID) {
			return false, nil
		}
		incoming.CreatedAt = now
	} else {
		if g.protects(existing.ID, existing.SyncStatus) {
			return false, nil
		}
		if strings.TrimSpace(incoming.ForOtherPtAt) == "" {
			incoming.ForOtherPtAt = existing.ForOtherPtAt
		}
		if incoming.Lat == nil && incoming.Lng == nil {
			incoming.Lat, incoming.Lng = existing.Lat, existing.Lng
		}
		incoming.CreatedAt = existing.CreatedAt
		if unchanged(existing, incoming, existing.SyncStatus) {
			return true, nil
		}
	}
	incoming.SyncStatus = model.SyncStatusSynced
	incoming.UpdatedAt = now
	return true, tx.PutPatient(ctx, incoming)
}

func (r *Reconciler) upsertAppointment(ctx context.Context, tx store.Store, g guard, a *model.Appointment) (bool, error) {
	existing, err := tx.GetAppointment(ctx, a.ID)
	if err != nil {
		return false, err
	}
	incoming := a.Clone()
	now := r.now()
	if existing == nil {
		if g.isPending(a.ID) {
			return false, nil
		}
		incoming.CreatedAt = now
	} else {
		if g.protects(existing.ID, existing.SyncStatus) {
			return false, nil
		}
		incoming.CreatedAt = existing.CreatedAt
		if unchanged(existing, incoming, existing.SyncStatus) {
			return true, nil
		}
	}
	incoming.SyncStatus = model.SyncStatusSynced
	incoming.UpdatedAt = now
	return true, tx.PutAppointment(ctx, incoming)
}

func (r *Reconciler) upsertDayNote(ctx context.Context, tx store.Store, g guard, n *model.DayNote) (bool, error) {
	existing, err := tx.GetDayNote(ctx, n.ID)
	if err != nil {
		return false, err
	}
	incoming := n.Clone()
	now := r.now()
	if existing == nil {
		if g.isPending(n.ID) {
			return false, nil
		}
		incoming.CreatedAt = now
	} else {
		if g.protects(existing.ID, existing.SyncStatus) {
			return false, nil
		}
		incoming.CreatedAt = existing.CreatedAt
		if unchanged(existing, incoming, existing.SyncStatus) {
			return true, nil
		}
	}
	incoming.SyncStatus = model.SyncStatusSynced
	incoming.UpdatedAt = now
	return true, tx.PutDayNote(ctx, incoming)
}

// deleteLocal removes the record if it exists and reports whether it did.
func (r *Reconciler) deleteLocal(ctx context.Context, tx store.Store, kind model.EntityKind, id string) (bool, error) {
	switch kind {
	case model.EntityPatient:
		p, err := tx.GetPatient(ctx, id)
		if err != nil || p == nil {
			return false, err
		}
		return true, tx.DeletePatient(ctx, id)
	case model.EntityAppointment, model.EntityCalendarLink:
		a, err := tx.GetAppointment(ctx, id)
		if err != nil || a == nil {
			return false, err
		}
		if err := tx.DeleteCalendarLink(ctx, id); err != nil {
			return false, err
		}
		return true, tx.DeleteAppointment(ctx, id)
	case model.EntityDayNote:
		n, err := tx.GetDayNote(ctx, id)
		if err != nil || n == nil {
			return false, err
		}
		return true, tx.DeleteDayNote(ctx, id)
	}
	return false, fmt.Errorf("unsupported entity kind %q", kind)
}

// calendarPass holds the lookups one calendar reconciliation builds up.
type calendarPass struct {
	tx           store.Store
	calendarID   string
	appointments guard
	notes        guard
	patients     map[string]string
	notesByEvent map[string]*model.DayNote
	res          ReconcileResult
}

// ReconcileCalendar merges the events of calendarID listed for [from, to]
// into local appointments and day notes. Linked records inside the window
// whose event was not listed are deleted, unless a local edit is pending.
func (r *Reconciler) ReconcileCalendar(ctx context.Context, calendarID string, events []remote.Event, from, to time.Time) (ReconcileResult, error) {
	var res ReconcileResult
	err := r.store.WithTx(ctx, func(tx store.Store) error {
		pass, err := r.newCalendarPass(ctx, tx, calendarID)
		if err != nil {
			return err
		}

		seen := make(map[string]struct{}, len(events))
		ids := make([]string, 0, len(events))
		for _, ev := range events {
			if ev.ID == "" {
				continue
			}
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			ids = append(ids, ev.ID)

			if ev.IsDayNote() {
				err = r.pullDayNote(ctx, pass, ev)
			} else {
				err = r.pullAppointment(ctx, pass, ev)
			}
			if err != nil {
				return fmt.Errorf("event %s: %w", ev.ID, err)
			}
		}

		if err := r.deleteUnseen(ctx, pass, seen, from, to); err != nil {
			return err
		}
		res = pass.res
		return tx.ReplaceTrackedIDs(ctx, calendarID, model.EntityAppointment, ids)
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	logger.Log.Info("Reconciled calendar",
		zap.String("owner_key", calendarID),
		zap.Int("events", len(events)),
		zap.Int("upserted", res.Upserted),
		zap.Int("deleted", res.Deleted),
		zap.Int("skipped", res.Skipped),
		zap.Int("imported_patients", res.Imported))
	return res, nil
}

func (r *Reconciler) newCalendarPass(ctx context.Context, tx store.Store, calendarID string) (*calendarPass, error) {
	apptPending, err := pendingEntityIDs(ctx, tx, model.EntityAppointment, model.EntityCalendarLink)
	if err != nil {
		return nil, err
	}
	notePending, err := pendingEntityIDs(ctx, tx, model.EntityDayNote)
	if err != nil {
		return nil, err
	}

	patients, err := tx.ListPatients(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(patients))
	for _, p := range patients {
		key := nameKey(p.FullName)
		if _, taken := byName[key]; !taken && key != "" {
			byName[key] = p.ID
		}
	}

	notes, err := tx.ListDayNotes(ctx, store.DayNoteFilter{})
	if err != nil {
		return nil, err
	}
	byEvent := make(map[string]*model.DayNote, len(notes))
	for _, n := range notes {
		if n.CalendarEventID != "" {
			byEvent[n.CalendarEventID] = n
		}
	}

	return &calendarPass{
		tx:           tx,
		calendarID:   calendarID,
		appointments: newGuard(apptPending),
		notes:        newGuard(notePending),
		patients:     byName,
		notesByEvent: byEvent,
	}, nil
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Reconciler) pullAppointment(ctx context.Context, pass *calendarPass, ev remote.Event) error {
	tx := pass.tx
	var existing *model.Appointment
	if id := ev.Meta(remote.MetaAppointmentID); id != "" {
		a, err := tx.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		if a == nil && pass.appointments.isPending(id) {
			pass.res.Skipped++
			return nil
		}
		existing = a
	}
	if existing == nil {
		link, err := tx.GetCalendarLinkByEvent(ctx, pass.calendarID, ev.ID)
		if err != nil {
			return err
		}
		if link != nil {
			if existing, err = tx.GetAppointment(ctx, link.AppointmentID); err != nil {
				return err
			}
		}
	}

	now := r.now()
	var next *model.Appointment
	if existing != nil {
		if pass.appointments.protects(existing.ID, existing.SyncStatus) {
			pass.res.Skipped++
			return nil
		}
		next = existing.Clone()
		ev.ApplyToAppointment(next, r.loc)
		if pid := ev.Meta(remote.MetaPatientID); pid != "" && pid != next.PatientID {
			p, err := tx.GetPatient(ctx, pid)
			if err != nil {
				return err
			}
			if p != nil {
				next.PatientID = pid
			}
		}
		if unchanged(existing, next, existing.SyncStatus) {
			pass.res.Upserted++
			return r.link(ctx, pass, next.ID, ev.ID)
		}
	} else {
		patientID, err := r.resolvePatient(ctx, pass, ev)
		if err != nil {
			return err
		}
		if patientID == "" {
			logger.Log.Debug("Skipping event without a resolvable patient", zap.String("event_id", ev.ID), zap.String("title", ev.Summary))
			pass.res.Skipped++
			return nil
		}
		id := ev.Meta(remote.MetaAppointmentID)
		if id == "" {
			id = "evt-" + ev.ID
		}
		next = &model.Appointment{ID: id, PatientID: patientID, CreatedAt: now}
		ev.ApplyToAppointment(next, r.loc)
	}

	next.SyncStatus = model.SyncStatusSynced
	next.UpdatedAt = now
	if err := tx.PutAppointment(ctx, next); err != nil {
		return err
	}
	pass.res.Upserted++
	return r.link(ctx, pass, next.ID, ev.ID)
}

func (r *Reconciler) link(ctx context.Context, pass *calendarPass, appointmentID, eventID string) error {
	return pass.tx.PutCalendarLink(ctx, &model.CalendarLink{
		AppointmentID: appointmentID,
		CalendarID:    pass.calendarID,
		EventID:       eventID,
		UpdatedAt:     r.now(),
	})
}

// resolvePatient finds the patient an event belongs to: the patient id in
// its metadata, then an exact name match, and finally a patient imported
// under an id derived from the name. It returns "" when the event carries
// no usable name.
func (r *Reconciler) resolvePatient(ctx context.Context, pass *calendarPass, ev remote.Event) (string, error) {
	tx := pass.tx
	if pid := ev.Meta(remote.MetaPatientID); pid != "" {
		p, err := tx.GetPatient(ctx, pid)
		if err != nil {
			return "", err
		}
		if p != nil {
			return p.ID, nil
		}
	}

	name := ev.PatientName()
	if id, ok := pass.patients[nameKey(name)]; ok {
		return id, nil
	}
	slug := identity.Slug(name)
	if slug == "" {
		return "", nil
	}
	id := "pt-" + slug
	existing, err := tx.GetPatient(ctx, id)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return id, nil
	}

	now := r.now()
	p := &model.Patient{
		ID:         id,
		FullName:   strings.TrimSpace(name),
		Phone:      ev.Meta(remote.MetaPatientPhone),
		Address:    ev.Meta(remote.MetaPatientAddress),
		Status:     model.PatientStatusActive,
		SyncStatus: model.SyncStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.PutPatient(ctx, p); err != nil {
		return "", err
	}
	if _, err := r.queue.enqueueWith(ctx, tx, model.ActionCreate, model.EntityPatient, model.Payload{model.PayloadEntityID: id}); err != nil {
		return "", err
	}
	pass.patients[nameKey(name)] = id
	pass.res.Imported++
	logger.Log.Info("Imported patient from calendar", zap.String("patient_id", id), zap.String("event_id", ev.ID))
	return id, nil
}

func (r *Reconciler) pullDayNote(ctx context.Context, pass *calendarPass, ev remote.Event) error {
	tx := pass.tx
	var existing *model.DayNote
	if id := ev.Meta(remote.MetaDayNoteID); id != "" {
		n, err := tx.GetDayNote(ctx, id)
		if err != nil {
			return err
		}
		if n == nil && pass.notes.isPending(id) {
			pass.res.Skipped++
			return nil
		}
		existing = n
	}
	if existing == nil {
		existing = pass.notesByEvent[ev.ID]
	}

	now := r.now()
	var next *model.DayNote
	if existing != nil {
		if pass.notes.protects(existing.ID, existing.SyncStatus) {
			pass.res.Skipped++
			return nil
		}
		next = existing.Clone()
	} else {
		id := ev.Meta(remote.MetaDayNoteID)
		if id == "" {
			id = "note-" + ev.ID
		}
		next = &model.DayNote{ID: id, CreatedAt: now}
	}
	next.Date = ev.Start.In(r.loc).Format(model.DateLayout)
	next.Text = ev.Summary
	next.CalendarEventID = ev.ID
	pass.res.Upserted++
	if existing != nil && unchanged(existing, next, existing.SyncStatus) {
		return nil
	}
	next.SyncStatus = model.SyncStatusSynced
	next.UpdatedAt = now
	return tx.PutDayNote(ctx, next)
}

// deleteUnseen removes linked records dated inside [from, to] whose event
// was not in the listing. Records outside the window are never touched.
func (r *Reconciler) deleteUnseen(ctx context.Context, pass *calendarPass, seen map[string]struct{}, from, to time.Time) error {
	tx := pass.tx
	fromDate := from.In(r.loc).Format(model.DateLayout)
	toDate := to.In(r.loc).Format(model.DateLayout)

	appts, err := tx.ListAppointments(ctx, store.AppointmentFilter{From: fromDate, To: toDate})
	if err != nil {
		return err
	}
	for _, a := range appts {
		if a.CalendarEventID == "" {
			continue
		}
		if _, ok := seen[a.CalendarEventID]; ok || pass.appointments.protects(a.ID, a.SyncStatus) {
			continue
		}
		if err := tx.DeleteCalendarLink(ctx, a.ID); err != nil {
			return err
		}
		if err := tx.DeleteAppointment(ctx, a.ID); err != nil {
			return err
		}
		pass.res.Deleted++
	}

	notes, err := tx.ListDayNotes(ctx, store.DayNoteFilter{From: fromDate, To: toDate})
	if err != nil {
		return err
	}
	for _, n := range notes {
		if n.CalendarEventID == "" {
			continue
		}
		if _, ok := seen[n.CalendarEventID]; ok || pass.notes.protects(n.ID, n.SyncStatus) {
			continue
		}
		if err := tx.DeleteDayNote(ctx, n.ID); err != nil {
			return err
		}
		pass.res.Deleted++
	}
	return nil
}
