package sync

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"homehealth-sync-service/internal/model"
)

// guard decides which local records a pull may overwrite. Writes are
// last-write-wins, so the only protection is against clobbering edits that
// have not been pushed yet: records with an open queue item and records
// whose sync status is local or pending.
type guard struct {
	pending map[string]struct{}
}

func newGuard(pending map[string]struct{}) guard {
	if pending == nil {
		pending = map[string]struct{}{}
	}
	return guard{pending: pending}
}

func (g guard) isPending(id string) bool {
	_, ok := g.pending[id]
	return ok
}

// protects reports whether a pull must leave the record alone.
func (g guard) protects(id string, status model.SyncStatus) bool {
	return g.isPending(id) || status.Protected()
}

// patientContent is the part of a patient that travels to the sheet.
type patientContent struct {
	FullName          string
	Nicknames         []string
	Phone             string
	AlternateContacts []model.AlternateContact
	Address           string
	Lat               *float64
	Lng               *float64
	Status            string
	Notes             string
	Email             string
	ForOtherPtAt      string
}

type appointmentContent struct {
	PatientID       string
	Date            string
	StartTime       string
	DurationMinutes int
	Status          string
	VisitType       string
	Notes           string
	CalendarEventID string
}

// contentHash fingerprints the synced fields of a record so reconciliation
// can skip writes that would not change anything.
func contentHash(v any) string {
	switch r := v.(type) {
	case *model.Patient:
		v = patientContent{
			FullName: r.FullName, Nicknames: r.Nicknames, Phone: r.Phone,
			AlternateContacts: r.AlternateContacts, Address: r.Address,
			Lat: r.Lat, Lng: r.Lng, Status: r.Status, Notes: r.Notes,
			Email: r.Email, ForOtherPtAt: r.ForOtherPtAt,
		}
	case *model.Appointment:
		v = appointmentContent{
			PatientID: r.PatientID, Date: r.Date, StartTime: r.StartTime,
			DurationMinutes: r.DurationMinutes, Status: r.Status,
			VisitType: r.VisitType, Notes: r.Notes, CalendarEventID: r.CalendarEventID,
		}
	case *model.DayNote:
		v = [3]string{r.Date, r.Text, r.CalendarEventID}
	}
	bytes, _ := json.Marshal(v)
	sum := sha256.Sum256(bytes)
	return fmt.Sprintf("%x", sum)
}

// unchanged reports whether the stored record already matches incoming
// and is marked synced.
func unchanged(existing, incoming any, status model.SyncStatus) bool {
	return status == model.SyncStatusSynced && contentHash(existing) == contentHash(incoming)
}
