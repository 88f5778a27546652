package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"homehealth-sync-service/internal/config"
	"homehealth-sync-service/internal/logger"
	"homehealth-sync-service/internal/metrics"
	"homehealth-sync-service/internal/model"
	"homehealth-sync-service/internal/remote"
	"homehealth-sync-service/internal/store"
)

// Dispatcher turns one queue item into the matching remote write and
// records the resulting linkage locally.
type Dispatcher struct {
	store    store.Store
	sheets   remote.Spreadsheet
	calendar remote.Calendar
	remote   config.RemoteConfig
	loc      *time.Location
	now      func() time.Time
}

func NewDispatcher(s store.Store, sheets remote.Spreadsheet, calendar remote.Calendar, cfg config.RemoteConfig, loc *time.Location) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{
		store:    s,
		sheets:   sheets,
		calendar: calendar,
		remote:   cfg,
		loc:      loc,
		now:      time.Now,
	}
}

// Dispatch performs item against the remote systems. A create or update
// whose local record no longer exists succeeds without doing anything.
func (d *Dispatcher) Dispatch(ctx context.Context, item *model.QueueItem) error {
	id := item.Payload.EntityID()
	if id == "" {
		return fmt.Errorf("queue item %d has no %s", item.ID, model.PayloadEntityID)
	}

	switch item.EntityKind {
	case model.EntityPatient:
		if item.Action == model.ActionDelete {
			return d.deletePatient(ctx, id)
		}
		return d.upsertPatient(ctx, id)

	case model.EntityAppointment:
		if item.Action == model.ActionDelete {
			return d.deleteAppointment(ctx, id, item.Payload.RemoteID())
		}
		return d.upsertAppointment(ctx, id)

	case model.EntityCalendarLink:
		if item.Action == model.ActionDelete {
			return d.unlinkAppointment(ctx, id, item.Payload.RemoteID())
		}
		return d.upsertAppointment(ctx, id)

	case model.EntityDayNote:
		if item.Action == model.ActionDelete {
			return d.deleteEvent(ctx, item.Payload.RemoteID())
		}
		return d.upsertDayNote(ctx, id)
	}
	return fmt.Errorf("queue item %d: unsupported entity kind %q", item.ID, item.EntityKind)
}

func (d *Dispatcher) readPatientSheet(ctx context.Context) (*remote.PatientSheet, error) {
	rows, err := d.sheets.ReadRange(ctx, d.remote.SpreadsheetID, d.remote.PatientRange)
	if err != nil {
		return nil, err
	}
	return remote.NewPatientSheet(rows)
}

func (d *Dispatcher) upsertPatient(ctx context.Context, id string) error {
	p, err := d.store.GetPatient(ctx, id)
	if err != nil || p == nil {
		return err
	}

	sheet, err := d.readPatientSheet(ctx)
	if err != nil {
		return err
	}
	if sheet.Empty() {
		header := d.remote.PatientSheet + "!A1"
		if err := d.sheets.WriteRange(ctx, d.remote.SpreadsheetID, header, [][]string{sheet.Header}); err != nil {
			return err
		}
	}

	row := sheet.Encode(p)
	if idx, ok := sheet.Find(p.ID); ok {
		target := fmt.Sprintf("%s!A%d", d.remote.PatientSheet, idx+1)
		err = d.sheets.WriteRange(ctx, d.remote.SpreadsheetID, target, [][]string{row})
	} else {
		err = d.sheets.AppendRow(ctx, d.remote.SpreadsheetID, d.remote.PatientRange, row)
	}
	if err != nil {
		return err
	}

	return d.store.WithTx(ctx, func(tx store.Store) error {
		current, err := tx.GetPatient(ctx, id)
		if err != nil || current == nil || !current.UpdatedAt.Equal(p.UpdatedAt) {
			return err
		}
		current.SyncStatus = model.SyncStatusSynced
		return tx.PutPatient(ctx, current)
	})
}

func (d *Dispatcher) deletePatient(ctx context.Context, id string) error {
	sheet, err := d.readPatientSheet(ctx)
	if err != nil {
		return err
	}
	idx, ok := sheet.Find(id)
	if !ok {
		return nil
	}
	return d.sheets.BatchDeleteRows(ctx, d.remote.SpreadsheetID, d.remote.PatientSheet, []int{idx})
}

// createKey is the idempotency key of the record's create. Every write for
// the record derives its event id from it, so a retried create collides
// with the event it already made.
func createKey(kind model.EntityKind, id string) string {
	return fmt.Sprintf("%s:%s:%s", kind, model.ActionCreate, id)
}

// putEvent updates the event ev.ID when set, and otherwise creates one
// under the deterministic id for key. A vanished event is recreated and a
// create that collides is applied as an update.
func (d *Dispatcher) putEvent(ctx context.Context, ev remote.Event, key string) (remote.Event, error) {
	if ev.ID != "" {
		saved, err := d.calendar.UpdateEvent(ctx, d.remote.CalendarID, ev)
		if !remote.IsNotFound(err) {
			return saved, err
		}
		logger.Log.Info("Linked event is gone, recreating", zap.String("event_id", ev.ID))
	}

	ev.ID = remote.EventIDFor(key)
	saved, err := d.calendar.CreateEvent(ctx, d.remote.CalendarID, ev)
	if remote.IsConflict(err) {
		saved, err = d.calendar.UpdateEvent(ctx, d.remote.CalendarID, ev)
	}
	if err != nil {
		return remote.Event{}, err
	}
	if saved.ID == "" {
		saved.ID = ev.ID
	}
	return saved, nil
}

func (d *Dispatcher) upsertAppointment(ctx context.Context, id string) error {
	a, err := d.store.GetAppointment(ctx, id)
	if err != nil || a == nil {
		return err
	}
	patient, err := d.store.GetPatient(ctx, a.PatientID)
	if err != nil {
		return err
	}

	ev, err := remote.AppointmentEvent(a, patient, d.loc)
	if err != nil {
		return remote.NewError(remote.KindPermanent, "render appointment", err)
	}
	if ev.ID == "" {
		link, err := d.store.GetCalendarLink(ctx, a.ID)
		if err != nil {
			return err
		}
		if link != nil {
			ev.ID = link.EventID
		}
	}

	saved, err := d.putEvent(ctx, ev, createKey(model.EntityAppointment, a.ID))
	if err != nil {
		return err
	}

	return d.store.WithTx(ctx, func(tx store.Store) error {
		current, err := tx.GetAppointment(ctx, id)
		if err != nil || current == nil {
			return err
		}
		current.CalendarEventID = saved.ID
		if current.UpdatedAt.Equal(a.UpdatedAt) {
			current.SyncStatus = model.SyncStatusSynced
		}
		if err := tx.PutAppointment(ctx, current); err != nil {
			return err
		}
		return tx.PutCalendarLink(ctx, &model.CalendarLink{
			AppointmentID: id,
			CalendarID:    d.remote.CalendarID,
			EventID:       saved.ID,
			UpdatedAt:     d.now(),
		})
	})
}

func (d *Dispatcher) deleteEvent(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	err := d.calendar.DeleteEvent(ctx, d.remote.CalendarID, eventID)
	if remote.IsNotFound(err) {
		return nil
	}
	return err
}

func (d *Dispatcher) appointmentEventID(ctx context.Context, id, remoteID string) (string, error) {
	if remoteID != "" {
		return remoteID, nil
	}
	link, err := d.store.GetCalendarLink(ctx, id)
	if err != nil || link == nil {
		return "", err
	}
	return link.EventID, nil
}

func (d *Dispatcher) deleteAppointment(ctx context.Context, id, remoteID string) error {
	eventID, err := d.appointmentEventID(ctx, id, remoteID)
	if err != nil {
		return err
	}
	if err := d.deleteEvent(ctx, eventID); err != nil {
		return err
	}
	return d.store.DeleteCalendarLink(ctx, id)
}

// unlinkAppointment removes the remote event but keeps the appointment.
// The appointment is marked synced so backfill does not push it again.
func (d *Dispatcher) unlinkAppointment(ctx context.Context, id, remoteID string) error {
	eventID, err := d.appointmentEventID(ctx, id, remoteID)
	if err != nil {
		return err
	}
	if err := d.deleteEvent(ctx, eventID); err != nil {
		return err
	}
	return d.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.DeleteCalendarLink(ctx, id); err != nil {
			return err
		}
		a, err := tx.GetAppointment(ctx, id)
		if err != nil || a == nil {
			return err
		}
		a.CalendarEventID = ""
		a.SyncStatus = model.SyncStatusSynced
		return tx.PutAppointment(ctx, a)
	})
}

func (d *Dispatcher) upsertDayNote(ctx context.Context, id string) error {
	n, err := d.store.GetDayNote(ctx, id)
	if err != nil || n == nil {
		return err
	}
	ev, err := remote.DayNoteEvent(n, d.loc)
	if err != nil {
		return remote.NewError(remote.KindPermanent, "render day note", err)
	}
	saved, err := d.putEvent(ctx, ev, createKey(model.EntityDayNote, n.ID))
	if err != nil {
		return err
	}

	return d.store.WithTx(ctx, func(tx store.Store) error {
		current, err := tx.GetDayNote(ctx, id)
		if err != nil || current == nil {
			return err
		}
		current.CalendarEventID = saved.ID
		if current.UpdatedAt.Equal(n.UpdatedAt) {
			current.SyncStatus = model.SyncStatusSynced
		}
		return tx.PutDayNote(ctx, current)
	})
}

// Worker drains batches of queue items through a Dispatcher.
type Worker struct {
	queue      *Queue
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
}

func newWorker(queue *Queue, dispatcher *Dispatcher, m *metrics.Metrics) *Worker {
	return &Worker{queue: queue, dispatcher: dispatcher, metrics: m}
}

type batchResult struct {
	Pushed int
	Failed int
	// AuthLost is set when the batch stopped early because remote
	// credentials went away.
	AuthLost bool
}

// processBatch dispatches items one at a time. A failing item records its
// failure and the batch moves on; losing auth stops the batch and leaves
// the remaining items untouched.
func (w *Worker) processBatch(ctx context.Context, items []*model.QueueItem) batchResult {
	var res batchResult
	if len(items) == 0 {
		return res
	}
	logger.Log.Debug("Processing batch", zap.Int("size", len(items)))

	for _, item := range items {
		processing, err := w.queue.MarkProcessing(ctx, item)
		if err != nil {
			logger.Log.Error("Failed to claim queue item", zap.Int64("queue_item_id", item.ID), zap.Error(err))
			res.Failed++
			continue
		}

		err = w.dispatcher.Dispatch(ctx, processing)
		outcome, stop := w.record(ctx, processing, err)
		w.observe(item.EntityKind, outcome)
		switch outcome {
		case outcomeSynced:
			res.Pushed++
		case outcomeReleased:
		default:
			res.Failed++
		}
		if stop {
			res.AuthLost = true
			break
		}
	}
	return res
}

const (
	outcomeSynced    = "synced"
	outcomeRetry     = "retry"
	outcomeFailed    = "failed"
	outcomeAbandoned = "abandoned"
	outcomeReleased  = "released"
)

// record persists the result of one dispatch and reports the outcome and
// whether the batch should stop.
func (w *Worker) record(ctx context.Context, item *model.QueueItem, dispatchErr error) (string, bool) {
	var (
		next    *model.QueueItem
		err     error
		outcome string
		stop    bool
	)
	switch {
	case dispatchErr == nil:
		next, err = w.queue.MarkSuccess(ctx, item)
		outcome = outcomeSynced
	case remote.IsAuthUnavailable(dispatchErr):
		next, err = w.queue.Release(ctx, item)
		outcome, stop = outcomeReleased, true
	case remote.IsSchemaMismatch(dispatchErr):
		next, err = w.queue.MarkAbandoned(ctx, item, dispatchErr.Error())
		outcome = outcomeAbandoned
	default:
		next, err = w.queue.MarkFailure(ctx, item, dispatchErr.Error())
		outcome = outcomeRetry
		if next != nil && next.Status == model.QueueStatusFailed {
			outcome = outcomeFailed
		}
	}

	fields := []zap.Field{
		zap.Int64("queue_item_id", item.ID),
		zap.String("entity_kind", string(item.EntityKind)),
		zap.String("action", string(item.Action)),
		zap.String("outcome", outcome),
	}
	if dispatchErr != nil {
		logger.Log.Warn("Sync item not pushed", append(fields, zap.Error(dispatchErr))...)
	} else {
		logger.Log.Debug("Sync item pushed", fields...)
	}
	if err != nil {
		logger.Log.Error("Failed to record queue item outcome", zap.Int64("queue_item_id", item.ID), zap.Error(err))
	}
	return outcome, stop
}

func (w *Worker) observe(kind model.EntityKind, outcome string) {
	if w.metrics == nil {
		return
	}
	w.metrics.QueueProcessed.WithLabelValues(string(kind), outcome).Inc()
}
