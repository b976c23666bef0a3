package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingKeepsMostRecentInOrder(t *testing.T) {
	for pushed := 0; pushed <= 12; pushed++ {
		r := NewRing[int](5)
		for i := 1; i <= pushed; i++ {
			r.Push(i)
		}

		want := []int{}
		for i := pushed - 4; i <= pushed; i++ {
			if i >= 1 {
				want = append(want, i)
			}
		}
		assert.LessOrEqual(t, r.Len(), r.Cap())
		assert.Equal(t, want, r.Snapshot(), "after %d pushes", pushed)

		last, ok := r.Last()
		assert.Equal(t, pushed > 0, ok)
		if ok {
			assert.Equal(t, pushed, last)
		}
	}
}

func TestRingSnapshotIsACopy(t *testing.T) {
	r := NewRing[int](2)
	r.Push(1)
	r.Push(2)
	snap := r.Snapshot()
	snap[0] = 99
	assert.Equal(t, []int{1, 2}, r.Snapshot())
}

func TestRingMinimumCapacity(t *testing.T) {
	r := NewRing[string](0)
	r.Push("a")
	r.Push("b")
	assert.Equal(t, 1, r.Cap())
	assert.Equal(t, []string{"b"}, r.Snapshot())
}
