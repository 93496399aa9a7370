package idgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducesSortableMonotonicIDs(t *testing.T) {
	g := NewGenerator()
	now := time.Now()
	a := g.New(now)
	b := g.New(now)
	assert.Len(t, a, 26)
	assert.Less(t, a, b)
}

func TestUUIDBoundaryRoundTrips(t *testing.T) {
	g := NewGenerator()
	id := g.NewNow()
	b, err := ToUUIDBytes(id)
	require.NoError(t, err)
	assert.Equal(t, id, FromUUIDBytes(b))
}

func TestZeroIsTwentySixChars(t *testing.T) {
	assert.Len(t, Zero, 26)
}
