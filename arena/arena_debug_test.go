package arena

import (
	"sync"
	"testing"

	farm "github.com/dgryski/go-farm"
	"github.com/stretchr/testify/assert"
)

// TestPoolRefcountStress: many goroutines clone and
// release slices concurrently with fresh allocations recycling the same
// arenas, and every slice's content fingerprint (farm.Hash64, not
// load-bearing to the allocator itself) must match what was written to it
// right up until Release - proving a live Slice's bytes are never silently
// overwritten by tryReset recycling its arena out from under it.
func TestPoolRefcountStress(t *testing.T) {
	const (
		numArenas  = 4
		arenaSize  = 256
		goroutines = 32
		iterations = 200
	)
	p := NewPool(numArenas*arenaSize, arenaSize)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				s := p.Alloc(64)
				payload := make([]byte, 64)
				for j := range payload {
					payload[j] = byte(seed + i + j)
				}
				copy(s.Bytes(), payload)
				want := farm.Hash64(payload)

				clone := s.Clone()
				got := farm.Hash64(clone.Bytes())
				assert.Equal(t, want, got, "slice content changed while held")
				clone.Release()

				got2 := farm.Hash64(s.Bytes())
				assert.Equal(t, want, got2, "slice content changed before release")
				s.Release()
			}
		}(g)
	}
	wg.Wait()
}
