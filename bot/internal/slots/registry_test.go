package slots

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquireRelease(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.TryAcquire(1))
	assert.False(t, r.TryAcquire(1), "second acquire while held must fail")
	assert.True(t, r.TryAcquire(2), "distinct requesters are independent")
	assert.Equal(t, 2, r.Active())

	r.Release(1)
	assert.True(t, r.TryAcquire(1), "acquire succeeds again after release")
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := NewRegistry()

	r.Release(42)
	r.Release(42)

	assert.True(t, r.TryAcquire(42))
	r.Release(42)
	r.Release(42)
	assert.Equal(t, 0, r.Active())
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	r := NewRegistry()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TryAcquire(7) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}
