package projection

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMarker_Less(t *testing.T) {
	assert.True(t, Marker{Height: 1, Stamp: 9}.Less(Marker{Height: 2, Stamp: 0}))
	assert.True(t, Marker{Height: 2, Stamp: 1}.Less(Marker{Height: 2, Stamp: 2}))
	assert.False(t, Marker{Height: 2, Stamp: 2}.Less(Marker{Height: 2, Stamp: 2}))
	assert.True(t, Marker{}.IsZero())
	assert.Equal(t, "3/4", Marker{Height: 3, Stamp: 4}.String())
}

func TestStamper_StrictlyIncreasing(t *testing.T) {
	s := NewStamper()
	frozen := time.Unix(0, 1000)
	s.now = func() time.Time { return frozen }

	var mu sync.Mutex
	seen := map[int64]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v := s.Next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)
}

func TestStamper_Observe(t *testing.T) {
	s := NewStamper()
	s.now = func() time.Time { return time.Unix(0, 10) }
	s.Observe(5000)
	assert.Equal(t, int64(5001), s.Next())
	s.Observe(10)
	assert.Equal(t, int64(5002), s.Next())
	assert.Equal(t, uint32(7), s.Mark(7).Height)
}
