package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"homehealth-sync-service/internal/model"
)

type trackedKey struct {
	owner string
	kind  model.EntityKind
}

type memoryState struct {
	patients     map[string]*model.Patient
	appointments map[string]*model.Appointment
	dayNotes     map[string]*model.DayNote
	links        map[string]*model.CalendarLink
	queue        map[int64]*model.QueueItem
	tracked      map[trackedKey][]string
	history      map[string]*SyncHistory
	nextQueueID  int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		patients:     make(map[string]*model.Patient),
		appointments: make(map[string]*model.Appointment),
		dayNotes:     make(map[string]*model.DayNote),
		links:        make(map[string]*model.CalendarLink),
		queue:        make(map[int64]*model.QueueItem),
		tracked:      make(map[trackedKey][]string),
		history:      make(map[string]*SyncHistory),
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range s.patients {
		c.patients[k] = v.Clone()
	}
	for k, v := range s.appointments {
		c.appointments[k] = v.Clone()
	}
	for k, v := range s.dayNotes {
		c.dayNotes[k] = v.Clone()
	}
	for k, v := range s.links {
		l := *v
		c.links[k] = &l
	}
	for k, v := range s.queue {
		c.queue[k] = v.Clone()
	}
	for k, v := range s.tracked {
		c.tracked[k] = append([]string(nil), v...)
	}
	for k, v := range s.history {
		h := *v
		c.history[k] = &h
	}
	c.nextQueueID = s.nextQueueID
	return c
}

// MemoryStore is an in-process Store. It backs the "memory" storage type
// and stands in for the SQL store in tests.
type MemoryStore struct {
	mu    *sync.Mutex
	txMu  *sync.Mutex
	state *memoryState
	inTx  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu:    &sync.Mutex{},
		txMu:  &sync.Mutex{},
		state: newMemoryState(),
	}
}

func (m *MemoryStore) Close() error { return nil }

// lockWrite serializes a write outside a transaction with running
// transactions, so a committing snapshot cannot drop it.
func (m *MemoryStore) lockWrite() func() {
	if m.inTx {
		m.mu.Lock()
		return m.mu.Unlock
	}
	m.txMu.Lock()
	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		m.txMu.Unlock()
	}
}

// WithTx runs fn against a copy of the state and swaps it in when fn succeeds.
// Transactions are serialized against each other.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.state.clone()
	m.mu.Unlock()

	tx := &MemoryStore{mu: &sync.Mutex{}, txMu: m.txMu, state: snapshot, inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = snapshot
	m.mu.Unlock()
	return nil
}

// ---------------------------------------------------------------------------
// Patients
// ---------------------------------------------------------------------------

func (m *MemoryStore) GetPatient(_ context.Context, id string) (*model.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.patients[id].Clone(), nil
}

func (m *MemoryStore) ListPatients(_ context.Context) ([]*model.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Patient, 0, len(m.state.patients))
	for _, p := range m.state.patients {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) PutPatient(_ context.Context, p *model.Patient) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("patient id is required")
	}
	defer m.lockWrite()()
	m.state.patients[p.ID] = p.Clone()
	return nil
}

func (m *MemoryStore) DeletePatient(_ context.Context, id string) error {
	defer m.lockWrite()()
	delete(m.state.patients, id)
	return nil
}

// ---------------------------------------------------------------------------
// Appointments
// ---------------------------------------------------------------------------

func (m *MemoryStore) GetAppointment(_ context.Context, id string) (*model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.appointments[id].Clone(), nil
}

func (m *MemoryStore) ListAppointments(_ context.Context, filter AppointmentFilter) ([]*model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Appointment
	for _, a := range m.state.appointments {
		if filter.match(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) PutAppointment(_ context.Context, a *model.Appointment) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("appointment id is required")
	}
	defer m.lockWrite()()
	m.state.appointments[a.ID] = a.Clone()
	return nil
}

func (m *MemoryStore) DeleteAppointment(_ context.Context, id string) error {
	defer m.lockWrite()()
	delete(m.state.appointments, id)
	return nil
}

// ---------------------------------------------------------------------------
// Day notes
// ---------------------------------------------------------------------------

func (m *MemoryStore) GetDayNote(_ context.Context, id string) (*model.DayNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.dayNotes[id].Clone(), nil
}

func (m *MemoryStore) ListDayNotes(_ context.Context, filter DayNoteFilter) ([]*model.DayNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.DayNote
	for _, n := range m.state.dayNotes {
		if filter.match(n) {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) PutDayNote(_ context.Context, n *model.DayNote) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("day note id is required")
	}
	defer m.lockWrite()()
	m.state.dayNotes[n.ID] = n.Clone()
	return nil
}

func (m *MemoryStore) DeleteDayNote(_ context.Context, id string) error {
	defer m.lockWrite()()
	delete(m.state.dayNotes, id)
	return nil
}

// ---------------------------------------------------------------------------
// Calendar links
// ---------------------------------------------------------------------------

func (m *MemoryStore) GetCalendarLink(_ context.Context, appointmentID string) (*model.CalendarLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.state.links[appointmentID]
	if !ok {
		return nil, nil
	}
	c := *l
	return &c, nil
}

func (m *MemoryStore) GetCalendarLinkByEvent(_ context.Context, calendarID, eventID string) (*model.CalendarLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.state.links {
		if l.CalendarID == calendarID && l.EventID == eventID {
			c := *l
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListCalendarLinks(_ context.Context, calendarID string) ([]*model.CalendarLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.CalendarLink
	for _, l := range m.state.links {
		if l.CalendarID == calendarID {
			c := *l
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppointmentID < out[j].AppointmentID })
	return out, nil
}

func (m *MemoryStore) PutCalendarLink(_ context.Context, link *model.CalendarLink) error {
	if link == nil || link.AppointmentID == "" {
		return fmt.Errorf("calendar link appointment id is required")
	}
	defer m.lockWrite()()
	c := *link
	m.state.links[link.AppointmentID] = &c
	return nil
}

func (m *MemoryStore) DeleteCalendarLink(_ context.Context, appointmentID string) error {
	defer m.lockWrite()()
	delete(m.state.links, appointmentID)
	return nil
}

// ---------------------------------------------------------------------------
// Sync queue
// ---------------------------------------------------------------------------

func (m *MemoryStore) InsertQueueItem(_ context.Context, item *model.QueueItem) error {
	defer m.lockWrite()()
	m.state.nextQueueID++
	item.ID = m.state.nextQueueID
	m.state.queue[item.ID] = item.Clone()
	return nil
}

func (m *MemoryStore) UpdateQueueItem(_ context.Context, item *model.QueueItem) error {
	defer m.lockWrite()()
	if _, ok := m.state.queue[item.ID]; !ok {
		return fmt.Errorf("queue item %d not found", item.ID)
	}
	m.state.queue[item.ID] = item.Clone()
	return nil
}

func (m *MemoryStore) GetQueueItem(_ context.Context, id int64) (*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.queue[id].Clone(), nil
}

func (m *MemoryStore) ListQueueItems(_ context.Context, filter QueueFilter) ([]*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.QueueItem
	for _, item := range m.state.queue {
		if filter.match(item) {
			out = append(out, item.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) DeleteQueueItems(_ context.Context, status model.QueueStatus, updatedBefore time.Time) (int64, error) {
	defer m.lockWrite()()
	var n int64
	for id, item := range m.state.queue {
		if item.Status == status && item.UpdatedAt.Before(updatedBefore) {
			delete(m.state.queue, id)
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Tracked remote ids
// ---------------------------------------------------------------------------

func (m *MemoryStore) GetTrackedIDs(_ context.Context, ownerKey string, kind model.EntityKind) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.state.tracked[trackedKey{ownerKey, kind}]...), nil
}

func (m *MemoryStore) ReplaceTrackedIDs(_ context.Context, ownerKey string, kind model.EntityKind, ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)

	defer m.lockWrite()()
	m.state.tracked[trackedKey{ownerKey, kind}] = out
	return nil
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func (m *MemoryStore) CreateSyncHistory(_ context.Context, history *SyncHistory) error {
	defer m.lockWrite()()
	if _, ok := m.state.history[history.ID]; ok {
		return fmt.Errorf("sync history %s already exists", history.ID)
	}
	h := *history
	m.state.history[history.ID] = &h
	return nil
}

func (m *MemoryStore) UpdateSyncHistory(_ context.Context, history *SyncHistory) error {
	defer m.lockWrite()()
	h := *history
	m.state.history[history.ID] = &h
	return nil
}

func (m *MemoryStore) GetSyncHistory(_ context.Context, limit, offset int) ([]*SyncHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*SyncHistory, 0, len(m.state.history))
	for _, h := range m.state.history {
		c := *h
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
