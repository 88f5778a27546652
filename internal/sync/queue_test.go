package sync

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homehealth-sync-service/internal/model"
	"homehealth-sync-service/internal/store"
)

func TestEnqueueRejectsUnknownValues(t *testing.T) {
	t.Parallel()

	q := newTestQueue(store.NewMemoryStore(), newClock())
	_, err := q.Enqueue(context.Background(), "upsert", model.EntityPatient, nil)
	assert.Error(t, err)
	_, err = q.Enqueue(context.Background(), model.ActionCreate, "visit", nil)
	assert.Error(t, err)
}

func TestMarkSuccessClearsRetryState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newClock()
	s := store.NewMemoryStore()
	q := newTestQueue(s, clock)

	item := mustEnqueue(t, q, model.ActionCreate, model.EntityPatient, "p1")
	item, err := q.MarkProcessing(ctx, item)
	require.NoError(t, err)
	item, err = q.MarkFailure(ctx, item, "boom")
	require.NoError(t, err)
	require.NotNil(t, item.NextRetryAt)

	item, err = q.MarkSuccess(ctx, item)
	require.NoError(t, err)

	stored, err := s.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusSynced, stored.Status)
	assert.Empty(t, stored.LastError)
	assert.Nil(t, stored.NextRetryAt)
	assert.Zero(t, stored.RetryCount)
}

func TestMarkFailureBacksOffUntilExhausted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newClock()
	q := newTestQueue(store.NewMemoryStore(), clock)

	item := mustEnqueue(t, q, model.ActionUpdate, model.EntityAppointment, "a1")
	var err error
	for attempt := 1; attempt < DefaultMaxRetries; attempt++ {
		failedAt := clock.Now()
		item, err = q.MarkFailure(ctx, item, "timeout")
		require.NoError(t, err)

		assert.Equal(t, attempt, item.RetryCount)
		assert.Equal(t, model.QueueStatusPending, item.Status)
		require.NotNil(t, item.NextRetryAt)
		assert.True(t, item.NextRetryAt.After(failedAt), "attempt %d", attempt)
		assert.False(t, item.Ready(failedAt))

		clock.Advance(time.Hour)
		assert.True(t, item.Ready(clock.Now()))
	}

	item, err = q.MarkFailure(ctx, item, "timeout")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRetries, item.RetryCount)
	assert.Equal(t, model.QueueStatusFailed, item.Status)
	assert.Nil(t, item.NextRetryAt)
	assert.Equal(t, "timeout", item.LastError)
	assert.False(t, item.Ready(clock.Now().Add(24*time.Hour)))
}

func TestMarkAbandonedSkipsRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestQueue(store.NewMemoryStore(), newClock())

	item := mustEnqueue(t, q, model.ActionCreate, model.EntityDayNote, "n1")
	item, err := q.MarkAbandoned(ctx, item, "unexpected response")
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusFailed, item.Status)
	assert.Zero(t, item.RetryCount)
	assert.Nil(t, item.NextRetryAt)
}

func TestTakeReadyBatch(t *testing.T) {
	t.Parallel()

	now := t0
	past, future := now.Add(-time.Minute), now.Add(time.Minute)
	items := []*model.QueueItem{
		{ID: 1, Status: model.QueueStatusPending},
		{ID: 2, Status: model.QueueStatusPending, NextRetryAt: &future},
		{ID: 3, Status: model.QueueStatusPending, NextRetryAt: &past},
		{ID: 4, Status: model.QueueStatusProcessing},
		{ID: 5, Status: model.QueueStatusPending, NextRetryAt: &now},
		{ID: 6, Status: model.QueueStatusFailed},
		{ID: 7, Status: model.QueueStatusPending},
	}

	tests := []struct {
		name      string
		max       int
		wantReady []int64
	}{
		{"uncapped", 10, []int64{1, 3, 5, 7}},
		{"capped", 2, []int64{1, 3}},
		{"zero", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ready, deferred := TakeReadyBatch(items, tt.max, now)
			assert.Equal(t, tt.wantReady, ids(ready))
			assert.Equal(t, []int64{2, 4, 6}, ids(deferred))
			assert.LessOrEqual(t, len(ready), tt.max)
			for _, d := range deferred {
				assert.True(t, d.Status != model.QueueStatusPending || d.NextRetryAt.After(now))
			}
		})
	}
}

func ids(items []*model.QueueItem) []int64 {
	var out []int64
	for _, item := range items {
		out = append(out, item.ID)
	}
	return out
}

func TestIdempotencyKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestQueue(store.NewMemoryStore(), newClock())

	a := mustEnqueue(t, q, model.ActionCreate, model.EntityPatient, "p1")
	b := mustEnqueue(t, q, model.ActionCreate, model.EntityPatient, "p1")
	a, err := q.MarkProcessing(ctx, a)
	require.NoError(t, err)
	b, err = q.MarkProcessing(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "patient:create:p1", a.IdempotencyKey)
	assert.Equal(t, a.IdempotencyKey, b.IdempotencyKey)

	// Frozen once assigned.
	a, err = q.MarkFailure(ctx, a, "x")
	require.NoError(t, err)
	a, err = q.MarkProcessing(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "patient:create:p1", a.IdempotencyKey)

	anon, err := q.Enqueue(ctx, model.ActionDelete, model.EntityDayNote, nil)
	require.NoError(t, err)
	anon, err = q.MarkProcessing(ctx, anon)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(anon.IdempotencyKey, "dayNote:delete:"))
	assert.Greater(t, len(anon.IdempotencyKey), len("dayNote:delete:"))
}

func TestRecoverResetsProcessingItems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryStore()
	q := newTestQueue(s, newClock())

	item := mustEnqueue(t, q, model.ActionCreate, model.EntityPatient, "p1")
	item, err := q.MarkFailure(ctx, item, "x")
	require.NoError(t, err)
	_, err = q.MarkProcessing(ctx, item)
	require.NoError(t, err)

	n, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, queueItems(t, s, model.QueueStatusProcessing))

	recovered := queueItems(t, s, model.QueueStatusPending)
	require.Len(t, recovered, 1)
	assert.Equal(t, 1, recovered[0].RetryCount)
}

func TestQueueAdministration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newClock()
	s := store.NewMemoryStore()
	q := newTestQueue(s, clock)

	done := mustEnqueue(t, q, model.ActionCreate, model.EntityPatient, "p1")
	_, err := q.MarkSuccess(ctx, done)
	require.NoError(t, err)

	failed := mustEnqueue(t, q, model.ActionCreate, model.EntityPatient, "p2")
	_, err = q.MarkAbandoned(ctx, failed, "bad")
	require.NoError(t, err)

	mustEnqueue(t, q, model.ActionCreate, model.EntityPatient, "p3")

	pending, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	n, err := q.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	pending, err = q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	clock.Advance(48 * time.Hour)
	purged, err := q.PurgeSynced(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	all, err := q.List(ctx, store.QueueFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
