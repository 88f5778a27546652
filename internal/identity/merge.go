package identity

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"homehealth-sync-service/internal/model"
)

// MergeRecords folds duplicate into primary and returns the merged record.
// The result keeps primary's id. Neither input is modified.
func MergeRecords(primary, duplicate *model.Patient, now time.Time) *model.Patient {
	merged := primary.Clone()

	if utf8.RuneCountInString(strings.TrimSpace(duplicate.FullName)) > utf8.RuneCountInString(strings.TrimSpace(primary.FullName)) {
		merged.FullName = duplicate.FullName
	}
	merged.Nicknames = unionFold(primary.Nicknames, duplicate.Nicknames)
	merged.Phone = firstNonEmpty(primary.Phone, duplicate.Phone)
	merged.Address = firstNonEmpty(primary.Address, duplicate.Address)
	merged.Email = firstNonEmpty(primary.Email, duplicate.Email)
	merged.ForOtherPtAt = firstNonEmpty(primary.ForOtherPtAt, duplicate.ForOtherPtAt)
	if merged.Lat == nil && merged.Lng == nil && duplicate.Lat != nil && duplicate.Lng != nil {
		lat, lng := *duplicate.Lat, *duplicate.Lng
		merged.Lat, merged.Lng = &lat, &lng
	}
	merged.AlternateContacts = unionContacts(primary.AlternateContacts, duplicate.AlternateContacts)
	merged.Status = mergeStatus(primary.Status, duplicate.Status)
	merged.Notes = mergeNotes(primary.Notes, duplicate.Notes)

	if !duplicate.CreatedAt.IsZero() && (merged.CreatedAt.IsZero() || duplicate.CreatedAt.Before(merged.CreatedAt)) {
		merged.CreatedAt = duplicate.CreatedAt
	}
	merged.UpdatedAt = now
	return merged
}

// mergeStatus keeps the primary status unless the primary only carries the
// active default and the duplicate has something more specific.
func mergeStatus(primary, duplicate string) string {
	if primary != "" && primary != model.PatientStatusActive {
		return primary
	}
	if duplicate != "" && duplicate != model.PatientStatusActive {
		return duplicate
	}
	if primary == "" {
		return duplicate
	}
	return primary
}

func mergeNotes(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	case strings.Contains(a, b):
		return a
	case strings.Contains(b, a):
		return b
	default:
		return a + "\n" + b
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func unionFold(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			key := strings.ToLower(strings.TrimSpace(v))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func contactKey(c model.AlternateContact) string {
	return strings.ToLower(strings.TrimSpace(c.FirstName)) + "|" +
		strings.ToLower(strings.TrimSpace(c.Phone)) + "|" +
		strings.ToLower(strings.TrimSpace(c.Relationship))
}

func unionContacts(a, b []model.AlternateContact) []model.AlternateContact {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []model.AlternateContact
	for _, list := range [][]model.AlternateContact{a, b} {
		for _, c := range list {
			key := contactKey(c)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// MergeGroup is one canonical record plus the ids folded into it.
type MergeGroup struct {
	Canonical *model.Patient
	LoserIDs  []string
}

type canonical struct {
	record *model.Patient
	keys   map[string]struct{}
	losers []string
}

func (c *canonical) absorbKeys(p *model.Patient) {
	for _, k := range matchKeys(p) {
		c.keys[k] = struct{}{}
	}
}

func (c *canonical) matches(keys []string) bool {
	for _, k := range keys {
		if _, ok := c.keys[k]; ok {
			return true
		}
	}
	return false
}

// Plan runs the batch dedup fold over records, oldest first, and returns
// the groups that absorbed at least one duplicate. Each record is merged
// into the first canonical it duplicates; the canonical's key set grows
// with every merge so matches chain transitively.
func Plan(records []*model.Patient, now time.Time) []MergeGroup {
	sorted := make([]*model.Patient, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var canon []*canonical
	for _, rec := range sorted {
		keys := matchKeys(rec)
		var target *canonical
		for _, c := range canon {
			if c.matches(keys) {
				target = c
				break
			}
		}
		if target == nil {
			c := &canonical{record: rec.Clone(), keys: make(map[string]struct{})}
			c.absorbKeys(rec)
			canon = append(canon, c)
			continue
		}
		target.record = MergeRecords(target.record, rec, now)
		target.losers = append(target.losers, rec.ID)
		target.absorbKeys(rec)
		target.absorbKeys(target.record)
	}

	var groups []MergeGroup
	for _, c := range canon {
		if len(c.losers) == 0 {
			continue
		}
		groups = append(groups, MergeGroup{Canonical: c.record, LoserIDs: c.losers})
	}
	return groups
}
