package async

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Own (§3, §9)
// =============================================================================

func TestOwnDropInvokesDisposeExactlyOnce(t *testing.T) {
	disposes := 0
	o := NewOwn(7, func(int) { disposes++ })
	assert.Equal(t, 7, o.Get())
	o.Drop()
	o.Drop()
	assert.Equal(t, 1, disposes)
}

// =============================================================================
// Rc (§3)
// =============================================================================

func TestRcDisposesOnlyAfterLastDrop(t *testing.T) {
	disposes := 0
	r := NewRc("res", func(string) { disposes++ })
	clone := r.Clone()

	r.Drop()
	assert.Equal(t, 0, disposes, "one outstanding reference must prevent disposal")
	clone.Drop()
	assert.Equal(t, 1, disposes)
}

func TestRcIntoOwnFailsWithOutstandingReferences(t *testing.T) {
	r := NewRc(1, nil)
	clone := r.Clone()

	_, ok := r.IntoOwn(nil)
	assert.False(t, ok, "IntoOwn must fail while clone is still live")

	clone.Drop()
	own, ok := r.IntoOwn(func(int) {})
	assert.True(t, ok)
	assert.Equal(t, 1, own.Get())
}

// =============================================================================
// Arc (§3)
// =============================================================================

func TestArcCloneAndDropAreConcurrencySafe(t *testing.T) {
	disposes := 0
	var mu sync.Mutex
	a := NewArc(42, func(int) {
		mu.Lock()
		disposes++
		mu.Unlock()
	})
	assert.Equal(t, int32(1), a.Count())

	const n = 50
	clones := make([]Arc[int], n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			clones[i] = a.Clone()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(n+1), a.Count())

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			clones[i].Drop()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), a.Count())
	assert.Equal(t, 0, disposes)

	a.Drop()
	assert.Equal(t, int32(0), a.Count())
	assert.Equal(t, 1, disposes)
}
