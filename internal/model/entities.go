// Package model holds the entities owned by the local store and the
// queue item type shared by the sync engine.
package model

import (
	"fmt"
	"time"
)

// SyncStatus tracks whether a local record has reached its remote system.
type SyncStatus string

const (
	SyncStatusLocal   SyncStatus = "local"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusError   SyncStatus = "error"
)

// Protected reports whether the record carries unpushed local edits that
// reconciliation pulls must not overwrite.
func (s SyncStatus) Protected() bool {
	return s == SyncStatusLocal || s == SyncStatusPending
}

// Patient statuses. Active is the default a new record gets.
const (
	PatientStatusActive     = "active"
	PatientStatusOnHold     = "on-hold"
	PatientStatusDischarged = "discharged"
	PatientStatusEvaluation = "evaluation"
)

// AlternateContact is a secondary person reachable about a patient.
type AlternateContact struct {
	FirstName    string `json:"firstName"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship,omitempty"`
}

// Patient is a row of the patient directory.
type Patient struct {
	ID                string             `json:"id"`
	FullName          string             `json:"fullName"`
	Nicknames         []string           `json:"nicknames,omitempty"`
	Phone             string             `json:"phone"`
	AlternateContacts []AlternateContact `json:"alternateContacts,omitempty"`
	Address           string             `json:"address,omitempty"`
	Lat               *float64           `json:"lat,omitempty"`
	Lng               *float64           `json:"lng,omitempty"`
	Status            string             `json:"status"`
	Notes             string             `json:"notes,omitempty"`
	Email             string             `json:"email,omitempty"`
	// ForOtherPtAt is a locally-set annotation. A remote row without it
	// never clears it.
	ForOtherPtAt string     `json:"forOtherPtAt,omitempty"`
	SyncStatus   SyncStatus `json:"syncStatus"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (p *Patient) RecordID() string { return p.ID }

// Clone returns a deep copy.
func (p *Patient) Clone() *Patient {
	if p == nil {
		return nil
	}
	c := *p
	c.Nicknames = append([]string(nil), p.Nicknames...)
	c.AlternateContacts = append([]AlternateContact(nil), p.AlternateContacts...)
	if p.Lat != nil {
		v := *p.Lat
		c.Lat = &v
	}
	if p.Lng != nil {
		v := *p.Lng
		c.Lng = &v
	}
	return &c
}

// Appointment statuses.
const (
	AppointmentStatusScheduled = "scheduled"
	AppointmentStatusCompleted = "completed"
	AppointmentStatusCancelled = "cancelled"
	AppointmentStatusNoShow    = "no-show"
)

// Date and time layouts used for appointment and day note fields.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// DefaultDurationMinutes applies when neither side carries a duration.
const DefaultDurationMinutes = 60

// Appointment is a scheduled visit for a patient.
type Appointment struct {
	ID              string     `json:"id"`
	PatientID       string     `json:"patientId"`
	Date            string     `json:"date"`
	StartTime       string     `json:"startTime,omitempty"`
	DurationMinutes int        `json:"durationMinutes"`
	Status          string     `json:"status"`
	VisitType       string     `json:"visitType,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	CalendarEventID string     `json:"calendarEventId,omitempty"`
	SyncStatus      SyncStatus `json:"syncStatus"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (a *Appointment) RecordID() string { return a.ID }

func (a *Appointment) Clone() *Appointment {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// Start resolves the appointment's wall-clock start in loc.
func (a *Appointment) Start(loc *time.Location) (time.Time, error) {
	clock := a.StartTime
	if clock == "" {
		clock = "09:00"
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, a.Date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("appointment %s: invalid start %q %q: %w", a.ID, a.Date, a.StartTime, err)
	}
	return t, nil
}

// Duration returns the visit length, falling back to the default.
func (a *Appointment) Duration() time.Duration {
	if a.DurationMinutes <= 0 {
		return DefaultDurationMinutes * time.Minute
	}
	return time.Duration(a.DurationMinutes) * time.Minute
}

// DayNote is a free-text note attached to a calendar day.
type DayNote struct {
	ID              string     `json:"id"`
	Date            string     `json:"date"`
	Text            string     `json:"text"`
	CalendarEventID string     `json:"calendarEventId,omitempty"`
	SyncStatus      SyncStatus `json:"syncStatus"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (d *DayNote) RecordID() string { return d.ID }

func (d *DayNote) Clone() *DayNote {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// CalendarLink records that an appointment is mirrored by a calendar event.
type CalendarLink struct {
	AppointmentID string    `json:"appointmentId"`
	CalendarID    string    `json:"calendarId"`
	EventID       string    `json:"eventId"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
