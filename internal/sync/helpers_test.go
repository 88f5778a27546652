package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"homehealth-sync-service/internal/model"
	"homehealth-sync-service/internal/store"
)

var t0 = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(s store.Store, clock *fakeClock) *Queue {
	q := NewQueue(s, DefaultBackoff())
	q.now = clock.Now
	return q
}

func mustEnqueue(t *testing.T, q *Queue, action model.Action, kind model.EntityKind, id string) *model.QueueItem {
	t.Helper()
	item, err := q.Enqueue(context.Background(), action, kind, model.Payload{model.PayloadEntityID: id})
	require.NoError(t, err)
	return item
}

func putPatient(t *testing.T, s store.Store, p *model.Patient) {
	t.Helper()
	if p.Status == "" {
		p.Status = model.PatientStatusActive
	}
	if p.SyncStatus == "" {
		p.SyncStatus = model.SyncStatusSynced
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = t0
		p.UpdatedAt = t0
	}
	require.NoError(t, s.PutPatient(context.Background(), p))
}

func getPatient(t *testing.T, s store.Store, id string) *model.Patient {
	t.Helper()
	p, err := s.GetPatient(context.Background(), id)
	require.NoError(t, err)
	return p
}

func queueItems(t *testing.T, s store.Store, statuses ...model.QueueStatus) []*model.QueueItem {
	t.Helper()
	items, err := s.ListQueueItems(context.Background(), store.QueueFilter{Statuses: statuses})
	require.NoError(t, err)
	return items
}

func patientRecords(patients ...*model.Patient) []Record {
	out := make([]Record, len(patients))
	for i, p := range patients {
		out[i] = p
	}
	return out
}
