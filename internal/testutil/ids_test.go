package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stitch/internal/engine"
)

var _ engine.IDGenerator = (*SequentialIDGenerator)(nil)

func TestSequentialIDGenerator_Increments(t *testing.T) {
	gen := NewSequentialIDGenerator("scn")

	assert.Equal(t, int64(0), gen.Issued())
	assert.Equal(t, "scn-1", gen.Generate())
	assert.Equal(t, "scn-2", gen.Generate())
	assert.Equal(t, int64(2), gen.Issued())
}

func TestSequentialIDGenerator_DefaultPrefix(t *testing.T) {
	gen := NewSequentialIDGenerator("")
	assert.Equal(t, "exec-1", gen.Generate())
}

func TestSequentialIDGenerator_Reset(t *testing.T) {
	gen := NewSequentialIDGenerator("scn")
	gen.Generate()
	gen.Generate()

	gen.Reset()
	assert.Equal(t, int64(0), gen.Issued())
	assert.Equal(t, "scn-1", gen.Generate())
}

func TestSequentialIDGenerator_ConcurrentUnique(t *testing.T) {
	gen := NewSequentialIDGenerator("c")

	const goroutines, perGoroutine = 10, 100
	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id := gen.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, goroutines*perGoroutine)
	assert.Equal(t, int64(goroutines*perGoroutine), gen.Issued())
}
