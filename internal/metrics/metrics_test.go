package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func from(c Counts) *Metrics {
	m := New()
	m.MergeCounts(c)
	return m
}

func TestIncrement(t *testing.T) {
	m := New()
	m.IncrementSuccess(2)
	m.IncrementWarning(1)
	m.IncrementError(3)
	m.IncrementSkip(1)
	m.Increment(Error, -5)
	m.Increment(Kind(42), 7)

	assert.Equal(t, Counts{Success: 2, Warning: 1, Error: 3, Skip: 1}, m.Snapshot())
	assert.Equal(t, "success=2 warning=1 error=3 skip=1", m.String())
}

func TestMerge_Commutative(t *testing.T) {
	a := Counts{Success: 1, Warning: 2}
	b := Counts{Error: 4, Skip: 1, Success: 3}

	ab := from(a)
	ab.Merge(from(b))
	ba := from(b)
	ba.Merge(from(a))

	assert.Equal(t, ab.Snapshot(), ba.Snapshot())
	assert.Equal(t, a.Add(b), ab.Snapshot())
}

func TestMerge_Associative(t *testing.T) {
	combos := []Counts{
		{},
		{Success: 1},
		{Warning: 2, Error: 1},
		{Success: 5, Warning: 1, Error: 2, Skip: 3},
	}
	for _, a := range combos {
		for _, b := range combos {
			for _, c := range combos {
				left := from(a)
				left.Merge(from(b))
				left.Merge(from(c))

				bc := from(b)
				bc.Merge(from(c))
				right := from(a)
				right.Merge(bc)

				assert.Equal(t, left.Snapshot(), right.Snapshot())
			}
		}
	}
}

func TestMerge_NilAndSelf(t *testing.T) {
	m := from(Counts{Success: 1, Skip: 2})
	m.Merge(nil)
	assert.Equal(t, Counts{Success: 1, Skip: 2}, m.Snapshot())

	m.Merge(m)
	assert.Equal(t, Counts{Success: 2, Skip: 4}, m.Snapshot())
}

func TestMerge_Concurrent(t *testing.T) {
	total := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			total.Merge(from(Counts{Success: 1, Error: 2}))
		}()
	}
	wg.Wait()

	assert.Equal(t, Counts{Success: 50, Error: 100}, total.Snapshot())
}

func TestCounts_IsZero(t *testing.T) {
	assert.True(t, Counts{}.IsZero())
	assert.False(t, Counts{Skip: 1}.IsZero())
}
