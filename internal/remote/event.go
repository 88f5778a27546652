package remote

import (
	"crypto/sha256"
	"encoding/base32"
	"strconv"
	"strings"
	"time"

	"homehealth-sync-service/internal/model"
)

// Private metadata keys carried on calendar events.
const (
	MetaAppointmentID   = "appointmentId"
	MetaPatientID       = "patientId"
	MetaPatientName     = "patientName"
	MetaPatientPhone    = "patientPhone"
	MetaPatientAddress  = "patientAddress"
	MetaStatus          = "status"
	MetaDurationMinutes = "durationMinutes"
	MetaVisitType       = "visitType"
	MetaKind            = "kind"
	MetaDayNoteID       = "dayNoteId"
)

// Values of MetaKind.
const (
	EventKindAppointment = "appointment"
	EventKindDayNote     = "dayNote"
)

// Event is a calendar event. All-day events use the date of Start in the
// calendar's time zone and ignore End.
type Event struct {
	ID          string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Metadata    map[string]string
}

func (e Event) Meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return strings.TrimSpace(e.Metadata[key])
}

// IsDayNote reports whether the event mirrors a day note.
func (e Event) IsDayNote() bool {
	return e.Meta(MetaKind) == EventKindDayNote || e.Meta(MetaDayNoteID) != ""
}

// BuildTitle renders the event title for an appointment.
func BuildTitle(patientName, visitType string) string {
	name := strings.TrimSpace(patientName)
	if vt := strings.TrimSpace(visitType); vt != "" {
		return name + " (" + vt + ")"
	}
	return name
}

// ParseTitleName extracts the patient name from an event title: the text
// before the first " (" or " - ".
func ParseTitleName(title string) string {
	name := title
	for _, sep := range []string{" (", " - "} {
		if i := strings.Index(name, sep); i >= 0 {
			name = name[:i]
		}
	}
	return strings.TrimSpace(name)
}

var eventIDEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// EventIDFor derives a calendar event id from an idempotency key. The
// result only uses the base32hex alphabet the calendar accepts.
func EventIDFor(idempotencyKey string) string {
	sum := sha256.Sum256([]byte(idempotencyKey))
	return strings.ToLower(eventIDEncoding.EncodeToString(sum[:20]))
}

// AppointmentEvent renders a as a timed event. patient may be nil when
// the patient record is gone.
func AppointmentEvent(a *model.Appointment, patient *model.Patient, loc *time.Location) (Event, error) {
	start, err := a.Start(loc)
	if err != nil {
		return Event{}, err
	}
	ev := Event{
		ID:          a.CalendarEventID,
		Description: a.Notes,
		Start:       start,
		End:         start.Add(a.Duration()),
		Metadata: map[string]string{
			MetaKind:            EventKindAppointment,
			MetaAppointmentID:   a.ID,
			MetaPatientID:       a.PatientID,
			MetaStatus:          a.Status,
			MetaDurationMinutes: strconv.Itoa(int(a.Duration() / time.Minute)),
			MetaVisitType:       a.VisitType,
		},
	}
	if patient != nil {
		ev.Summary = BuildTitle(patient.FullName, a.VisitType)
		ev.Location = patient.Address
		ev.Metadata[MetaPatientName] = patient.FullName
		ev.Metadata[MetaPatientPhone] = patient.Phone
		ev.Metadata[MetaPatientAddress] = patient.Address
	} else {
		ev.Summary = BuildTitle(a.PatientID, a.VisitType)
	}
	return ev, nil
}

// DayNoteEvent renders n as an all-day event.
func DayNoteEvent(n *model.DayNote, loc *time.Location) (Event, error) {
	day, err := time.ParseInLocation(model.DateLayout, n.Date, loc)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:      n.CalendarEventID,
		Summary: n.Text,
		Start:   day,
		End:     day.AddDate(0, 0, 1),
		AllDay:  true,
		Metadata: map[string]string{
			MetaKind:      EventKindDayNote,
			MetaDayNoteID: n.ID,
		},
	}, nil
}

// ApplyToAppointment copies the event's schedule and metadata onto a.
func (e Event) ApplyToAppointment(a *model.Appointment, loc *time.Location) {
	start := e.Start.In(loc)
	a.Date = start.Format(model.DateLayout)
	if e.AllDay {
		a.StartTime = ""
	} else {
		a.StartTime = start.Format(model.TimeLayout)
	}

	a.DurationMinutes = model.DefaultDurationMinutes
	if v, err := strconv.Atoi(e.Meta(MetaDurationMinutes)); err == nil && v > 0 {
		a.DurationMinutes = v
	} else if !e.AllDay && e.End.After(e.Start) {
		a.DurationMinutes = int(e.End.Sub(e.Start) / time.Minute)
	}

	if st := e.Meta(MetaStatus); st != "" {
		a.Status = st
	} else if a.Status == "" {
		a.Status = model.AppointmentStatusScheduled
	}
	if vt := e.Meta(MetaVisitType); vt != "" {
		a.VisitType = vt
	}
	a.Notes = e.Description
	a.CalendarEventID = e.ID
}

// PatientName returns the patient name the event refers to: metadata
// first, then the title.
func (e Event) PatientName() string {
	if name := e.Meta(MetaPatientName); name != "" {
		return name
	}
	return ParseTitleName(e.Summary)
}
