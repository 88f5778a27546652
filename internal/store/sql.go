package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"homehealth-sync-service/internal/database"
	"homehealth-sync-service/internal/model"
)

// Both sqlite and mysql use ? placeholders and accept REPLACE INTO, so a
// single builder serves either dialect.
var builder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// SQLStore implements Store on a sqlite or mysql database.
type SQLStore struct {
	db *database.Database
	q  querier
	// inTx is set on the view handed to WithTx callbacks.
	inTx bool
}

func NewSQLStore(db *database.Database) *SQLStore {
	return &SQLStore{db: db, q: db.DB}
}

func (s *SQLStore) Close() error {
	if s.inTx || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		return fn(&SQLStore{db: s.db, q: tx, inTx: true})
	})
}

func (s *SQLStore) exec(ctx context.Context, b squirrel.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.q.ExecContext(ctx, query, args...)
}

func (s *SQLStore) query(ctx context.Context, b squirrel.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.q.QueryContext(ctx, query, args...)
}

func (s *SQLStore) queryRow(ctx context.Context, b squirrel.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.q.QueryRowContext(ctx, query, args...), nil
}

// ---------------------------------------------------------------------------
// Patients
// ---------------------------------------------------------------------------

var patientColumns = []string{
	"id", "full_name", "nicknames", "phone", "alternate_contacts", "address", "lat", "lng",
	"status", "notes", "email", "for_other_pt_at", "sync_status", "created_at", "updated_at",
}

func scanPatient(row scanner) (*model.Patient, error) {
	var (
		p          model.Patient
		nicknames  string
		alternates string
		lat, lng   sql.NullFloat64
		syncStatus string
	)
	err := row.Scan(
		&p.ID,
		&p.FullName,
		&nicknames,
		&p.Phone,
		&alternates,
		&p.Address,
		&lat,
		&lng,
		&p.Status,
		&p.Notes,
		&p.Email,
		&p.ForOtherPtAt,
		&syncStatus,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(nicknames), &p.Nicknames); err != nil {
		return nil, fmt.Errorf("patient %s nicknames: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(alternates), &p.AlternateContacts); err != nil {
		return nil, fmt.Errorf("patient %s alternate contacts: %w", p.ID, err)
	}
	if lat.Valid {
		p.Lat = &lat.Float64
	}
	if lng.Valid {
		p.Lng = &lng.Float64
	}
	p.SyncStatus = model.SyncStatus(syncStatus)
	return &p, nil
}

func (s *SQLStore) GetPatient(ctx context.Context, id string) (*model.Patient, error) {
	row, err := s.queryRow(ctx, builder.Select(patientColumns...).From("patients").Where(squirrel.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *SQLStore) ListPatients(ctx context.Context) ([]*model.Patient, error) {
	rows, err := s.query(ctx, builder.Select(patientColumns...).From("patients").OrderBy("created_at ASC", "id ASC"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []*model.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func (s *SQLStore) PutPatient(ctx context.Context, p *model.Patient) error {
	nicknames, err := json.Marshal(nonNil(p.Nicknames))
	if err != nil {
		return err
	}
	alternates, err := json.Marshal(nonNilContacts(p.AlternateContacts))
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, builder.Replace("patients").Columns(patientColumns...).Values(
		p.ID,
		p.FullName,
		string(nicknames),
		p.Phone,
		string(alternates),
		p.Address,
		nullFloat(p.Lat),
		nullFloat(p.Lng),
		p.Status,
		p.Notes,
		p.Email,
		p.ForOtherPtAt,
		string(p.SyncStatus),
		p.CreatedAt.UTC(),
		p.UpdatedAt.UTC(),
	))
	return err
}

func (s *SQLStore) DeletePatient(ctx context.Context, id string) error {
	_, err := s.exec(ctx, builder.Delete("patients").Where(squirrel.Eq{"id": id}))
	return err
}

// ---------------------------------------------------------------------------
// Appointments
// ---------------------------------------------------------------------------

var appointmentColumns = []string{
	"id", "patient_id", "visit_date", "start_time", "duration_minutes", "status", "visit_type",
	"notes", "calendar_event_id", "sync_status", "created_at", "updated_at",
}

func scanAppointment(row scanner) (*model.Appointment, error) {
	var (
		a          model.Appointment
		syncStatus string
	)
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.Date,
		&a.StartTime,
		&a.DurationMinutes,
		&a.Status,
		&a.VisitType,
		&a.Notes,
		&a.CalendarEventID,
		&syncStatus,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.SyncStatus = model.SyncStatus(syncStatus)
	return &a, nil
}

func (s *SQLStore) GetAppointment(ctx context.Context, id string) (*model.Appointment, error) {
	row, err := s.queryRow(ctx, builder.Select(appointmentColumns...).From("appointments").Where(squirrel.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	a, err := scanAppointment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *SQLStore) ListAppointments(ctx context.Context, filter AppointmentFilter) ([]*model.Appointment, error) {
	q := builder.Select(appointmentColumns...).From("appointments")
	if filter.From != "" {
		q = q.Where(squirrel.GtOrEq{"visit_date": filter.From})
	}
	if filter.To != "" {
		q = q.Where(squirrel.LtOrEq{"visit_date": filter.To})
	}
	if filter.PatientID != "" {
		q = q.Where(squirrel.Eq{"patient_id": filter.PatientID})
	}
	if filter.SyncStatus != "" {
		q = q.Where(squirrel.Eq{"sync_status": string(filter.SyncStatus)})
	}
	if filter.Unlinked {
		q = q.Where(squirrel.Eq{"calendar_event_id": ""})
	}

	rows, err := s.query(ctx, q.OrderBy("visit_date ASC", "start_time ASC", "id ASC"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appointments []*model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appointments = append(appointments, a)
	}
	return appointments, rows.Err()
}

func (s *SQLStore) PutAppointment(ctx context.Context, a *model.Appointment) error {
	_, err := s.exec(ctx, builder.Replace("appointments").Columns(appointmentColumns...).Values(
		a.ID,
		a.PatientID,
		a.Date,
		a.StartTime,
		a.DurationMinutes,
		a.Status,
		a.VisitType,
		a.Notes,
		a.CalendarEventID,
		string(a.SyncStatus),
		a.CreatedAt.UTC(),
		a.UpdatedAt.UTC(),
	))
	return err
}

func (s *SQLStore) DeleteAppointment(ctx context.Context, id string) error {
	_, err := s.exec(ctx, builder.Delete("appointments").Where(squirrel.Eq{"id": id}))
	return err
}

// ---------------------------------------------------------------------------
// Day notes
// ---------------------------------------------------------------------------

var dayNoteColumns = []string{
	"id", "note_date", "body", "calendar_event_id", "sync_status", "created_at", "updated_at",
}

func scanDayNote(row scanner) (*model.DayNote, error) {
	var (
		n          model.DayNote
		syncStatus string
	)
	if err := row.Scan(&n.ID, &n.Date, &n.Text, &n.CalendarEventID, &syncStatus, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.SyncStatus = model.SyncStatus(syncStatus)
	return &n, nil
}

func (s *SQLStore) GetDayNote(ctx context.Context, id string) (*model.DayNote, error) {
	row, err := s.queryRow(ctx, builder.Select(dayNoteColumns...).From("day_notes").Where(squirrel.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	n, err := scanDayNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

func (s *SQLStore) ListDayNotes(ctx context.Context, filter DayNoteFilter) ([]*model.DayNote, error) {
	q := builder.Select(dayNoteColumns...).From("day_notes")
	if filter.From != "" {
		q = q.Where(squirrel.GtOrEq{"note_date": filter.From})
	}
	if filter.To != "" {
		q = q.Where(squirrel.LtOrEq{"note_date": filter.To})
	}
	if filter.SyncStatus != "" {
		q = q.Where(squirrel.Eq{"sync_status": string(filter.SyncStatus)})
	}
	if filter.Unlinked {
		q = q.Where(squirrel.Eq{"calendar_event_id": ""})
	}

	rows, err := s.query(ctx, q.OrderBy("note_date ASC", "id ASC"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []*model.DayNote
	for rows.Next() {
		n, err := scanDayNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *SQLStore) PutDayNote(ctx context.Context, n *model.DayNote) error {
	_, err := s.exec(ctx, builder.Replace("day_notes").Columns(dayNoteColumns...).Values(
		n.ID, n.Date, n.Text, n.CalendarEventID, string(n.SyncStatus), n.CreatedAt.UTC(), n.UpdatedAt.UTC(),
	))
	return err
}

func (s *SQLStore) DeleteDayNote(ctx context.Context, id string) error {
	_, err := s.exec(ctx, builder.Delete("day_notes").Where(squirrel.Eq{"id": id}))
	return err
}

// ---------------------------------------------------------------------------
// Calendar links
// ---------------------------------------------------------------------------

var calendarLinkColumns = []string{"appointment_id", "calendar_id", "event_id", "updated_at"}

func scanCalendarLink(row scanner) (*model.CalendarLink, error) {
	var l model.CalendarLink
	if err := row.Scan(&l.AppointmentID, &l.CalendarID, &l.EventID, &l.UpdatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *SQLStore) getCalendarLink(ctx context.Context, where squirrel.Eq) (*model.CalendarLink, error) {
	row, err := s.queryRow(ctx, builder.Select(calendarLinkColumns...).From("calendar_links").Where(where).Limit(1))
	if err != nil {
		return nil, err
	}
	l, err := scanCalendarLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

func (s *SQLStore) GetCalendarLink(ctx context.Context, appointmentID string) (*model.CalendarLink, error) {
	return s.getCalendarLink(ctx, squirrel.Eq{"appointment_id": appointmentID})
}

func (s *SQLStore) GetCalendarLinkByEvent(ctx context.Context, calendarID, eventID string) (*model.CalendarLink, error) {
	return s.getCalendarLink(ctx, squirrel.Eq{"calendar_id": calendarID, "event_id": eventID})
}

func (s *SQLStore) ListCalendarLinks(ctx context.Context, calendarID string) ([]*model.CalendarLink, error) {
	rows, err := s.query(ctx, builder.Select(calendarLinkColumns...).From("calendar_links").
		Where(squirrel.Eq{"calendar_id": calendarID}).OrderBy("appointment_id ASC"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*model.CalendarLink
	for rows.Next() {
		l, err := scanCalendarLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *SQLStore) PutCalendarLink(ctx context.Context, link *model.CalendarLink) error {
	_, err := s.exec(ctx, builder.Replace("calendar_links").Columns(calendarLinkColumns...).Values(
		link.AppointmentID, link.CalendarID, link.EventID, link.UpdatedAt.UTC(),
	))
	return err
}

func (s *SQLStore) DeleteCalendarLink(ctx context.Context, appointmentID string) error {
	_, err := s.exec(ctx, builder.Delete("calendar_links").Where(squirrel.Eq{"appointment_id": appointmentID}))
	return err
}

// ---------------------------------------------------------------------------
// Sync queue
// ---------------------------------------------------------------------------

var queueColumns = []string{
	"id", "action", "entity_kind", "payload", "status", "retry_count", "last_error",
	"next_retry_at", "idempotency_key", "created_at", "updated_at",
}

func scanQueueItem(row scanner) (*model.QueueItem, error) {
	var (
		item        model.QueueItem
		action      string
		kind        string
		payload     string
		status      string
		nextRetryAt sql.NullTime
	)
	err := row.Scan(
		&item.ID,
		&action,
		&kind,
		&payload,
		&status,
		&item.RetryCount,
		&item.LastError,
		&nextRetryAt,
		&item.IdempotencyKey,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &item.Payload); err != nil {
		return nil, fmt.Errorf("queue item %d payload: %w", item.ID, err)
	}
	item.Action = model.Action(action)
	item.EntityKind = model.EntityKind(kind)
	item.Status = model.QueueStatus(status)
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		item.NextRetryAt = &t
	}
	return &item, nil
}

func queueValues(item *model.QueueItem) (map[string]any, error) {
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var next sql.NullTime
	if item.NextRetryAt != nil {
		next = sql.NullTime{Time: item.NextRetryAt.UTC(), Valid: true}
	}
	return map[string]any{
		"action":          string(item.Action),
		"entity_kind":     string(item.EntityKind),
		"payload":         string(payload),
		"status":          string(item.Status),
		"retry_count":     item.RetryCount,
		"last_error":      item.LastError,
		"next_retry_at":   next,
		"idempotency_key": item.IdempotencyKey,
		"created_at":      item.CreatedAt.UTC(),
		"updated_at":      item.UpdatedAt.UTC(),
	}, nil
}

func (s *SQLStore) InsertQueueItem(ctx context.Context, item *model.QueueItem) error {
	values, err := queueValues(item)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, builder.Insert("sync_queue").SetMap(values))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("queue item id: %w", err)
	}
	item.ID = id
	return nil
}

func (s *SQLStore) UpdateQueueItem(ctx context.Context, item *model.QueueItem) error {
	values, err := queueValues(item)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, builder.Update("sync_queue").SetMap(values).Where(squirrel.Eq{"id": item.ID}))
	return err
}

func (s *SQLStore) GetQueueItem(ctx context.Context, id int64) (*model.QueueItem, error) {
	row, err := s.queryRow(ctx, builder.Select(queueColumns...).From("sync_queue").Where(squirrel.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return item, err
}

func (s *SQLStore) ListQueueItems(ctx context.Context, filter QueueFilter) ([]*model.QueueItem, error) {
	q := builder.Select(queueColumns...).From("sync_queue")
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where(squirrel.Eq{"status": statuses})
	}
	if filter.EntityKind != "" {
		q = q.Where(squirrel.Eq{"entity_kind": string(filter.EntityKind)})
	}
	q = q.OrderBy("id ASC")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}

	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*model.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLStore) DeleteQueueItems(ctx context.Context, status model.QueueStatus, updatedBefore time.Time) (int64, error) {
	res, err := s.exec(ctx, builder.Delete("sync_queue").
		Where(squirrel.Eq{"status": string(status)}).
		Where(squirrel.Lt{"updated_at": updatedBefore.UTC()}))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---------------------------------------------------------------------------
// Tracked remote ids
// ---------------------------------------------------------------------------

// trackedInsertChunk keeps multi-row inserts under sqlite's variable limit.
const trackedInsertChunk = 250

func (s *SQLStore) GetTrackedIDs(ctx context.Context, ownerKey string, kind model.EntityKind) ([]string, error) {
	rows, err := s.query(ctx, builder.Select("remote_id").From("tracked_remote_ids").
		Where(squirrel.Eq{"owner_key": ownerKey, "entity_kind": string(kind)}).
		OrderBy("remote_id ASC"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) ReplaceTrackedIDs(ctx context.Context, ownerKey string, kind model.EntityKind, ids []string) error {
	return s.WithTx(ctx, func(tx Store) error {
		t := tx.(*SQLStore)
		if _, err := t.exec(ctx, builder.Delete("tracked_remote_ids").
			Where(squirrel.Eq{"owner_key": ownerKey, "entity_kind": string(kind)})); err != nil {
			return err
		}
		for start := 0; start < len(ids); start += trackedInsertChunk {
			end := min(start+trackedInsertChunk, len(ids))
			insert := builder.Replace("tracked_remote_ids").Columns("owner_key", "entity_kind", "remote_id")
			for _, id := range ids[start:end] {
				insert = insert.Values(ownerKey, string(kind), id)
			}
			if _, err := t.exec(ctx, insert); err != nil {
				return err
			}
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func (s *SQLStore) CreateSyncHistory(ctx context.Context, history *SyncHistory) error {
	_, err := s.exec(ctx, builder.Insert("sync_history").
		Columns("id", "started_at", "completed_at", "trigger_source", "items_pushed", "items_failed",
			"records_upserted", "records_deleted", "status", "error_message").
		Values(
			history.ID,
			history.StartedAt.UTC(),
			history.CompletedAt,
			history.Trigger,
			history.ItemsPushed,
			history.ItemsFailed,
			history.RecordsUpserted,
			history.RecordsDeleted,
			history.Status,
			history.ErrorMessage,
		))
	return err
}

func (s *SQLStore) UpdateSyncHistory(ctx context.Context, history *SyncHistory) error {
	_, err := s.exec(ctx, builder.Update("sync_history").
		Set("completed_at", history.CompletedAt).
		Set("items_pushed", history.ItemsPushed).
		Set("items_failed", history.ItemsFailed).
		Set("records_upserted", history.RecordsUpserted).
		Set("records_deleted", history.RecordsDeleted).
		Set("status", history.Status).
		Set("error_message", history.ErrorMessage).
		Where(squirrel.Eq{"id": history.ID}))
	return err
}

func (s *SQLStore) GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error) {
	rows, err := s.query(ctx, builder.Select("id", "started_at", "completed_at", "trigger_source", "items_pushed",
		"items_failed", "records_upserted", "records_deleted", "status", "error_message").
		From("sync_history").
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*SyncHistory
	for rows.Next() {
		var h SyncHistory
		err := rows.Scan(
			&h.ID,
			&h.StartedAt,
			&h.CompletedAt,
			&h.Trigger,
			&h.ItemsPushed,
			&h.ItemsFailed,
			&h.RecordsUpserted,
			&h.RecordsDeleted,
			&h.Status,
			&h.ErrorMessage,
		)
		if err != nil {
			return nil, err
		}
		history = append(history, &h)
	}

	return history, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilContacts(c []model.AlternateContact) []model.AlternateContact {
	if c == nil {
		return []model.AlternateContact{}
	}
	return c
}
