// Package idgen generates the 26-character sortable ids used for every
// id and user system column, per spec §3.3/§9. ULID is the concrete
// format: 128 bits, lexically sortable, monotonic within a process
// when generated through a single Generator.
package idgen

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Zero is the well-known system-actor id, §3.3: 26 zero characters.
const Zero = "00000000000000000000000000"

// Generator produces monotonic ULIDs from a single entropy source,
// guarded by a mutex since ulid.MonotonicEntropy is not safe for
// concurrent use on its own.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

// NewGenerator builds a Generator with a monotonic entropy source
// seeded from crypto/rand, the same pairing leonletto-thrum uses.
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// New returns a new 26-character sortable id for the given instant.
func (g *Generator) New(at time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(at), g.entropy)
	return id.String()
}

// NewNow returns a new id timestamped at the current instant.
func (g *Generator) NewNow() string {
	return g.New(time.Now())
}

// ToUUIDBytes reinterprets a 26-character id's 16 underlying bytes as a
// UUID-shaped byte array. Per spec §9 this is the only place such a
// conversion occurs in the codebase; no other component should decode
// or construct a UUID from an id string.
func ToUUIDBytes(id string) ([16]byte, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return [16]byte{}, err
	}
	return [16]byte(parsed), nil
}

// FromUUIDBytes is the inverse of ToUUIDBytes, for the rare case an
// external library hands back a 128-bit value that must re-enter the
// system as a sortable id string. The result is not time-sortable
// unless b was itself produced by ToUUIDBytes from a real ULID.
func FromUUIDBytes(b [16]byte) string {
	return ulid.ULID(b).String()
}
