package remote

import (
	"strings"

	"homehealth-sync-service/internal/model"
)

const (
	contactSeparator = "; "
	fieldSeparator   = "|"
)

// ParseAlternateContacts decodes "First|Phone|Relationship; ..." into
// contacts. Empty entries are skipped and the relationship is optional.
func ParseAlternateContacts(s string) []model.AlternateContact {
	var contacts []model.AlternateContact
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, fieldSeparator)
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		c := model.AlternateContact{FirstName: fields[0]}
		if len(fields) > 1 {
			c.Phone = fields[1]
		}
		if len(fields) > 2 {
			c.Relationship = strings.Join(fields[2:], fieldSeparator)
		}
		contacts = append(contacts, c)
	}
	return contacts
}

// FormatAlternateContacts is the inverse of ParseAlternateContacts. Empty
// trailing fields are dropped, so "Mary" stays "Mary".
func FormatAlternateContacts(contacts []model.AlternateContact) string {
	entries := make([]string, 0, len(contacts))
	for _, c := range contacts {
		fields := []string{c.FirstName, c.Phone, c.Relationship}
		for len(fields) > 1 && fields[len(fields)-1] == "" {
			fields = fields[:len(fields)-1]
		}
		entries = append(entries, strings.Join(fields, fieldSeparator))
	}
	return strings.Join(entries, contactSeparator)
}
