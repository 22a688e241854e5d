package postgres

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestULIDGeneratorIsMonotonicWithinMillisecond(t *testing.T) {
	g := NewULIDGenerator()
	fixed := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	ids := make([]string, 0, 1000)
	seen := make(map[string]struct{}, 1000)
	for range 1000 {
		id := g.Generate()
		ids = append(ids, id)
		seen[id] = struct{}{}
	}

	assert.Len(t, seen, 1000)
	assert.True(t, sort.StringsAreSorted(ids))
}
