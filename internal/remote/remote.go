// Package remote defines the contracts of the two remote systems the engine
// syncs with, plus the auth collaborator, and the codecs shared by them.
package remote

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_remote.go -package=mocks -source=remote.go Spreadsheet,Calendar,Auth

// Spreadsheet is the patient directory. Row indices are zero based and
// count the header row.
type Spreadsheet interface {
	ReadRange(ctx context.Context, spreadsheetID, rangeSpec string) ([][]string, error)
	WriteRange(ctx context.Context, spreadsheetID, rangeSpec string, rows [][]string) error
	AppendRow(ctx context.Context, spreadsheetID, rangeSpec string, row []string) error
	BatchDeleteRows(ctx context.Context, spreadsheetID, sheet string, rowIndices []int) error
}

// Calendar is the appointment directory.
type Calendar interface {
	ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]Event, error)
	// CreateEvent honours a caller-chosen ev.ID so retried creates collide
	// instead of duplicating.
	CreateEvent(ctx context.Context, calendarID string, ev Event) (Event, error)
	UpdateEvent(ctx context.Context, calendarID string, ev Event) (Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// Auth supplies bearer tokens. An empty token with a nil error means the
// user is not signed in and remote work should be skipped.
type Auth interface {
	AccessToken(ctx context.Context) (string, error)
	IsSignedIn(ctx context.Context) bool
}
