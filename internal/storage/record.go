package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"contentd/internal/errs"
)

// Record is the assembled logical view of one entity instance: system
// columns plus user-visible field values, §3.7/§4.J.
type Record struct {
	ID          string
	RID         int
	User        string
	ContentHash string
	LastCached  *time.Time
	CacheTTL    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Fields      map[string]any   // dotted column id -> scalar value
	Multi       map[string][]any // field id -> ordered values (unbounded fields)
}

// contentHash hashes the user-visible fields only (system columns
// excluded), per §3.3/§3.6's content_hash contract. Deterministic
// regardless of map iteration order: encoding/json sorts map keys.
func contentHash(fields map[string]any, multi map[string][]any) (string, error) {
	payload := struct {
		Fields map[string]any   `json:"fields"`
		Multi  map[string][]any `json:"multi"`
	}{Fields: fields, Multi: multi}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", errs.StorageErr(err, false, "marshal content for hashing")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
