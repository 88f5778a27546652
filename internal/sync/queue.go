package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"homehealth-sync-service/internal/logger"
	"homehealth-sync-service/internal/model"
	"homehealth-sync-service/internal/store"
)

var openStatuses = []model.QueueStatus{model.QueueStatusPending, model.QueueStatusProcessing}

// Queue is the durable log of remote writes waiting to be pushed.
type Queue struct {
	store    store.Store
	policy   BackoffPolicy
	now      func() time.Time
	newToken func() string
}

func NewQueue(s store.Store, policy BackoffPolicy) *Queue {
	return &Queue{
		store:    s,
		policy:   policy,
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

// Enqueue appends a pending item.
func (q *Queue) Enqueue(ctx context.Context, action model.Action, kind model.EntityKind, payload model.Payload) (*model.QueueItem, error) {
	return q.enqueueWith(ctx, q.store, action, kind, payload)
}

// enqueueWith writes through s so callers can enqueue inside a transaction.
func (q *Queue) enqueueWith(ctx context.Context, s store.Store, action model.Action, kind model.EntityKind, payload model.Payload) (*model.QueueItem, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("invalid queue action %q", action)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid queue entity kind %q", kind)
	}
	if payload == nil {
		payload = model.Payload{}
	}
	now := q.now()
	item := &model.QueueItem{
		Action:     action,
		EntityKind: kind,
		Payload:    payload,
		Status:     model.QueueStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.InsertQueueItem(ctx, item); err != nil {
		return nil, fmt.Errorf("enqueue %s %s: %w", action, kind, err)
	}
	logger.Log.Debug("Enqueued sync item",
		zap.Int64("queue_item_id", item.ID),
		zap.String("action", string(action)),
		zap.String("entity_kind", string(kind)),
		zap.String("entity_id", payload.EntityID()))
	return item, nil
}

// TakeReadyBatch splits items into those ready at now, capped at maxItems,
// and everything else. Relative order is kept within both partitions;
// ready items beyond the cap are left out of both.
func TakeReadyBatch(items []*model.QueueItem, maxItems int, now time.Time) (ready, deferred []*model.QueueItem) {
	for _, item := range items {
		if !item.Ready(now) {
			deferred = append(deferred, item)
			continue
		}
		if len(ready) < maxItems {
			ready = append(ready, item)
		}
	}
	return ready, deferred
}

// Ready loads pending items and returns up to maxItems that are due.
func (q *Queue) Ready(ctx context.Context, maxItems int) ([]*model.QueueItem, error) {
	items, err := q.store.ListQueueItems(ctx, store.QueueFilter{Statuses: []model.QueueStatus{model.QueueStatusPending}})
	if err != nil {
		return nil, err
	}
	ready, _ := TakeReadyBatch(items, maxItems, q.now())
	return ready, nil
}

// IdempotencyKey derives "{entityKind}:{action}:{dataId}". Items without an
// entity id get a process-unique token instead.
func IdempotencyKey(item *model.QueueItem, newToken func() string) string {
	dataID := item.Payload.EntityID()
	if dataID == "" {
		dataID = newToken()
	}
	return fmt.Sprintf("%s:%s:%s", item.EntityKind, item.Action, dataID)
}

// MarkProcessing moves item to processing and freezes its idempotency key.
func (q *Queue) MarkProcessing(ctx context.Context, item *model.QueueItem) (*model.QueueItem, error) {
	next := item.Clone()
	if next.IdempotencyKey == "" {
		next.IdempotencyKey = IdempotencyKey(next, q.newToken)
	}
	next.Status = model.QueueStatusProcessing
	next.UpdatedAt = q.now()
	return next, q.store.UpdateQueueItem(ctx, next)
}

// MarkSuccess marks item synced and clears its retry state.
func (q *Queue) MarkSuccess(ctx context.Context, item *model.QueueItem) (*model.QueueItem, error) {
	next := item.Clone()
	next.Status = model.QueueStatusSynced
	next.RetryCount = 0
	next.LastError = ""
	next.NextRetryAt = nil
	next.UpdatedAt = q.now()
	return next, q.store.UpdateQueueItem(ctx, next)
}

// MarkFailure records a failed attempt. The item is rescheduled with
// backoff, or fails terminally once the retry ceiling is reached.
func (q *Queue) MarkFailure(ctx context.Context, item *model.QueueItem, errMsg string) (*model.QueueItem, error) {
	now := q.now()
	next := item.Clone()
	next.RetryCount++
	next.LastError = errMsg
	next.UpdatedAt = now
	if q.policy.Exhausted(next.RetryCount) {
		next.Status = model.QueueStatusFailed
		next.NextRetryAt = nil
		logger.Log.Warn("Sync item failed permanently",
			zap.Int64("queue_item_id", next.ID),
			zap.Int("retry_count", next.RetryCount),
			zap.String("error", errMsg))
	} else {
		retryAt := now.Add(q.policy.Delay(next.RetryCount))
		next.Status = model.QueueStatusPending
		next.NextRetryAt = &retryAt
	}
	return next, q.store.UpdateQueueItem(ctx, next)
}

// MarkAbandoned fails item terminally without consuming retries, for
// errors a retry cannot fix.
func (q *Queue) MarkAbandoned(ctx context.Context, item *model.QueueItem, errMsg string) (*model.QueueItem, error) {
	next := item.Clone()
	next.Status = model.QueueStatusFailed
	next.LastError = errMsg
	next.NextRetryAt = nil
	next.UpdatedAt = q.now()
	return next, q.store.UpdateQueueItem(ctx, next)
}

// Release returns a processing item to pending without counting an attempt.
func (q *Queue) Release(ctx context.Context, item *model.QueueItem) (*model.QueueItem, error) {
	next := item.Clone()
	next.Status = model.QueueStatusPending
	next.UpdatedAt = q.now()
	return next, q.store.UpdateQueueItem(ctx, next)
}

// Recover resets items left in processing by a crash.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	items, err := q.store.ListQueueItems(ctx, store.QueueFilter{Statuses: []model.QueueStatus{model.QueueStatusProcessing}})
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		if _, err := q.Release(ctx, item); err != nil {
			return 0, fmt.Errorf("recover queue item %d: %w", item.ID, err)
		}
	}
	if len(items) > 0 {
		logger.Log.Info("Recovered interrupted sync items", zap.Int("count", len(items)))
	}
	return len(items), nil
}

// RetryFailed puts every terminally failed item back in line.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	items, err := q.store.ListQueueItems(ctx, store.QueueFilter{Statuses: []model.QueueStatus{model.QueueStatusFailed}})
	if err != nil {
		return 0, err
	}
	now := q.now()
	for _, item := range items {
		item.Status = model.QueueStatusPending
		item.RetryCount = 0
		item.LastError = ""
		item.NextRetryAt = nil
		item.UpdatedAt = now
		if err := q.store.UpdateQueueItem(ctx, item); err != nil {
			return 0, fmt.Errorf("retry queue item %d: %w", item.ID, err)
		}
	}
	return len(items), nil
}

// PurgeSynced deletes synced items last touched before olderThan ago.
// Failed items are never purged.
func (q *Queue) PurgeSynced(ctx context.Context, olderThan time.Duration) (int64, error) {
	return q.store.DeleteQueueItems(ctx, model.QueueStatusSynced, q.now().Add(-olderThan))
}

// PendingCount counts items not yet pushed.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	items, err := q.store.ListQueueItems(ctx, store.QueueFilter{Statuses: openStatuses})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (q *Queue) List(ctx context.Context, filter store.QueueFilter) ([]*model.QueueItem, error) {
	return q.store.ListQueueItems(ctx, filter)
}

// pendingEntityIDs returns the entity ids referenced by open items of the
// given kinds, read through s.
func pendingEntityIDs(ctx context.Context, s store.Store, kinds ...model.EntityKind) (map[string]struct{}, error) {
	items, err := s.ListQueueItems(ctx, store.QueueFilter{Statuses: openStatuses})
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{})
	for _, item := range items {
		for _, k := range kinds {
			if item.EntityKind == k {
				if id := item.Payload.EntityID(); id != "" {
					ids[id] = struct{}{}
				}
				break
			}
		}
	}
	return ids, nil
}
