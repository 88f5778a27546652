package identity

import (
	"strings"

	"homehealth-sync-service/internal/model"
)

// Dedup key prefixes.
const (
	KeyID          = "id:"
	KeyNamePhone   = "name_phone:"
	KeyNameAddress = "name_address:"
	KeyNamePartial = "name_partial:"
	KeyNameOnly    = "name_only:"
)

// BuildDedupKeys derives the composite keys used to spot duplicates.
// The id key is for direct lookup only; see Duplicates.
func BuildDedupKeys(p *model.Patient) []string {
	var keys []string
	if p.ID != "" {
		keys = append(keys, KeyID+p.ID)
	}

	name := NormalizeName(p.FullName)
	if name == "" {
		return keys
	}
	phone := NormalizePhone(p.Phone)
	address := NormalizeAddress(p.Address)

	if phone != "" {
		keys = append(keys, KeyNamePhone+name+"|"+phone)
	}
	if address != "" {
		keys = append(keys, KeyNameAddress+name+"|"+address)
	}
	switch {
	case phone != "" && address != "":
	case phone != "" || address != "":
		keys = append(keys, KeyNamePartial+name)
	default:
		keys = append(keys, KeyNameOnly+name)
	}
	return keys
}

// matchKeys returns the keys of p that take part in cross-record matching.
func matchKeys(p *model.Patient) []string {
	keys := BuildDedupKeys(p)
	out := keys[:0]
	for _, k := range keys {
		if !strings.HasPrefix(k, KeyID) {
			out = append(out, k)
		}
	}
	return out
}

// Duplicates reports whether a and b share any non-id dedup key.
func Duplicates(a, b *model.Patient) bool {
	set := make(map[string]struct{})
	for _, k := range matchKeys(a) {
		set[k] = struct{}{}
	}
	for _, k := range matchKeys(b) {
		if _, ok := set[k]; ok {
			return true
		}
	}
	return false
}
