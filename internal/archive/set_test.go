// internal/archive/set_test.go
package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentSet(t *testing.T) {
	t.Run("add is idempotent", func(t *testing.T) {
		s := NewSegmentSet()
		assert.True(t, s.Add(seg(100)))
		assert.False(t, s.Add(seg(100)))
		assert.Equal(t, 1, s.Len())
	})

	t.Run("sorted orders by position", func(t *testing.T) {
		s := setOf(0x101, 5, 0xFF)
		sorted := s.Sorted()
		require.Len(t, sorted, 3)
		assert.Equal(t, seg(5), sorted[0])
		assert.Equal(t, seg(0xFF), sorted[1])
		assert.Equal(t, seg(0x101), sorted[2])
	})

	t.Run("max spans the high-field boundary", func(t *testing.T) {
		s := setOf(0xFF, 0x100)
		max, ok := s.Max()
		require.True(t, ok)
		assert.Equal(t, seg(0x100), max)
	})

	t.Run("max of an empty set reports absence", func(t *testing.T) {
		_, ok := NewSegmentSet().Max()
		assert.False(t, ok)
	})

	t.Run("count before and after are strict", func(t *testing.T) {
		s := setOf(98, 99, 100, 101, 102)
		assert.Equal(t, 2, s.CountBefore(seg(100)))
		assert.Equal(t, 2, s.CountAfter(seg(100)))
	})

	t.Run("any after", func(t *testing.T) {
		s := setOf(100, 102)
		assert.True(t, s.AnyAfter(seg(101)))
		assert.False(t, s.AnyAfter(seg(102)))
	})

	t.Run("members on a later timeline sort last", func(t *testing.T) {
		s := NewSegmentSet()
		s.Add(segOn(2, 1))
		s.Add(segOn(1, 100))
		max, ok := s.Max()
		require.True(t, ok)
		assert.Equal(t, segOn(2, 1), max)
	})
}
