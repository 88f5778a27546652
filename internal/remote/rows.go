package remote

import (
	"strconv"
	"strings"

	"homehealth-sync-service/internal/model"
)

// Patient sheet column names, in the order a fresh header is written.
const (
	ColID                = "id"
	ColFullName          = "fullName"
	ColNicknames         = "nicknames"
	ColPhone             = "phone"
	ColAlternateContacts = "alternateContacts"
	ColAddress           = "address"
	ColLat               = "lat"
	ColLng               = "lng"
	ColStatus            = "status"
	ColNotes             = "notes"
	ColEmail             = "email"
	ColForOtherPtAt      = "forOtherPtAt"
)

var PatientColumns = []string{
	ColID, ColFullName, ColNicknames, ColPhone, ColAlternateContacts, ColAddress,
	ColLat, ColLng, ColStatus, ColNotes, ColEmail, ColForOtherPtAt,
}

// PatientSheet is a decoded patient sheet. Columns are resolved by header
// name, so column order and extra columns do not matter.
type PatientSheet struct {
	Header []string
	Rows   [][]string
	index  map[string]int
}

// NewPatientSheet indexes rows read from the sheet. An empty read yields
// an empty sheet with the default header; a header without an id column
// is a schema mismatch.
func NewPatientSheet(rows [][]string) (*PatientSheet, error) {
	if len(rows) == 0 {
		return &PatientSheet{Header: append([]string(nil), PatientColumns...), index: indexHeader(PatientColumns)}, nil
	}
	header := rows[0]
	index := indexHeader(header)
	if _, ok := index[strings.ToLower(ColID)]; !ok {
		return nil, SchemaError("patient sheet", "header %q has no %s column", header, ColID)
	}
	return &PatientSheet{Header: header, Rows: rows[1:], index: index}, nil
}

func indexHeader(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := index[key]; !dup && key != "" {
			index[key] = i
		}
	}
	return index
}

// Empty reports whether the sheet had no header row at all.
func (s *PatientSheet) Empty() bool { return s.Rows == nil }

func (s *PatientSheet) cell(row []string, column string) string {
	i, ok := s.index[strings.ToLower(column)]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Patients decodes every row that carries an id.
func (s *PatientSheet) Patients() []*model.Patient {
	var out []*model.Patient
	for _, row := range s.Rows {
		if p := s.decode(row); p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (s *PatientSheet) decode(row []string) *model.Patient {
	id := s.cell(row, ColID)
	if id == "" {
		return nil
	}
	p := &model.Patient{
		ID:                id,
		FullName:          s.cell(row, ColFullName),
		Nicknames:         splitList(s.cell(row, ColNicknames)),
		Phone:             s.cell(row, ColPhone),
		AlternateContacts: ParseAlternateContacts(s.cell(row, ColAlternateContacts)),
		Address:           s.cell(row, ColAddress),
		Lat:               parseFloat(s.cell(row, ColLat)),
		Lng:               parseFloat(s.cell(row, ColLng)),
		Status:            s.cell(row, ColStatus),
		Notes:             s.cell(row, ColNotes),
		Email:             s.cell(row, ColEmail),
		ForOtherPtAt:      s.cell(row, ColForOtherPtAt),
	}
	if p.Status == "" {
		p.Status = model.PatientStatusActive
	}
	return p
}

// Find returns the sheet row index (header is row 0) of the patient id.
func (s *PatientSheet) Find(id string) (int, bool) {
	for i, row := range s.Rows {
		if s.cell(row, ColID) == id {
			return i + 1, true
		}
	}
	return 0, false
}

// Encode lays p out in this sheet's header order. Columns the encoder
// does not know are left blank.
func (s *PatientSheet) Encode(p *model.Patient) []string {
	values := map[string]string{
		ColID:                p.ID,
		ColFullName:          p.FullName,
		ColNicknames:         strings.Join(p.Nicknames, ", "),
		ColPhone:             p.Phone,
		ColAlternateContacts: FormatAlternateContacts(p.AlternateContacts),
		ColAddress:           p.Address,
		ColLat:               formatFloat(p.Lat),
		ColLng:               formatFloat(p.Lng),
		ColStatus:            p.Status,
		ColNotes:             p.Notes,
		ColEmail:             p.Email,
		ColForOtherPtAt:      p.ForOtherPtAt,
	}
	row := make([]string, len(s.Header))
	for i, name := range s.Header {
		for col, v := range values {
			if strings.EqualFold(strings.TrimSpace(name), col) {
				row[i] = v
				break
			}
		}
	}
	return row
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
