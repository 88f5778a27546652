package model

import (
	"fmt"
	"time"
)

// Action is the kind of remote write a queue item requests.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// EntityKind names the local entity a queue item or tracked id set refers to.
type EntityKind string

const (
	EntityPatient      EntityKind = "patient"
	EntityAppointment  EntityKind = "appointment"
	EntityCalendarLink EntityKind = "calendarLink"
	EntityDayNote      EntityKind = "dayNote"
)

func (k EntityKind) Valid() bool {
	switch k {
	case EntityPatient, EntityAppointment, EntityCalendarLink, EntityDayNote:
		return true
	}
	return false
}

// QueueStatus is the state of a single queue item.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusSynced     QueueStatus = "synced"
	// QueueStatusConflict is reserved. Nothing in the engine assigns it.
	QueueStatusConflict QueueStatus = "conflict"
)

// Terminal reports whether no further automatic processing happens in this status.
func (s QueueStatus) Terminal() bool {
	return s == QueueStatusSynced || s == QueueStatusFailed
}

// Payload keys with engine-defined meaning.
const (
	PayloadEntityID = "entityId"
	PayloadRemoteID = "remoteId"
)

// Payload holds the free-form fields of a queue item.
type Payload map[string]any

// EntityID returns the subject entity's local id, or "" when absent.
func (p Payload) EntityID() string {
	return p.str(PayloadEntityID)
}

// RemoteID returns the remote correlation id, or "" when absent.
func (p Payload) RemoteID() string {
	return p.str(PayloadRemoteID)
}

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func (p Payload) clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// QueueItem is one requested remote operation.
type QueueItem struct {
	ID             int64       `json:"id"`
	Action         Action      `json:"action"`
	EntityKind     EntityKind  `json:"entityKind"`
	Payload        Payload     `json:"payload,omitempty"`
	Status         QueueStatus `json:"status"`
	RetryCount     int         `json:"retryCount"`
	LastError      string      `json:"lastError,omitempty"`
	NextRetryAt    *time.Time  `json:"nextRetryAt,omitempty"`
	IdempotencyKey string      `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Ready reports whether the item may be dispatched at now.
func (i *QueueItem) Ready(now time.Time) bool {
	if i.Status != QueueStatusPending {
		return false
	}
	return i.NextRetryAt == nil || !i.NextRetryAt.After(now)
}

// Clone returns a deep copy so callers can transition items without aliasing.
func (i *QueueItem) Clone() *QueueItem {
	if i == nil {
		return nil
	}
	c := *i
	c.Payload = i.Payload.clone()
	if i.NextRetryAt != nil {
		t := *i.NextRetryAt
		c.NextRetryAt = &t
	}
	return &c
}

func (i *QueueItem) String() string {
	return fmt.Sprintf("#%d %s %s %s (%s)", i.ID, i.Action, i.EntityKind, i.Payload.EntityID(), i.Status)
}
