package idgen

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandom_DigitsRange(t *testing.T) {
	tests := []struct {
		name   string
		digits int
		lo, hi int64
	}{
		{name: "six digits", digits: 6, lo: 100000, hi: 999999},
		{name: "one digit", digits: 1, lo: 1, hi: 9},
		{name: "clamped low", digits: 0, lo: 1, hi: 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRandom(1, tt.digits)
			for i := 0; i < 1000; i++ {
				v := r.Next()
				assert.GreaterOrEqual(t, v, tt.lo)
				assert.LessOrEqual(t, v, tt.hi)
			}
		})
	}
}

func TestRandom_SeededIsDeterministic(t *testing.T) {
	a := NewRandom(7, 6)
	b := NewRandom(7, 6)
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Next(), b.Next())
	}
}

func TestSequential(t *testing.T) {
	s := NewSequential(10)
	assert.Equal(t, int64(10), s.Next())
	assert.Equal(t, int64(11), s.Next())
	assert.Equal(t, int64(12), s.Next())
}

func TestSequential_Concurrent(t *testing.T) {
	s := NewSequential(0)
	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				v := s.Next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800, "every value should be handed out once")
}

func TestFixed_Cycles(t *testing.T) {
	f := NewFixed(3, 5)
	assert.Equal(t, []int64{3, 5, 3, 5}, []int64{f.Next(), f.Next(), f.Next(), f.Next()})
	assert.Panics(t, func() { NewFixed() })
}

func TestSnowflake_Unique(t *testing.T) {
	s, err := NewSnowflake(1)
	require.NoError(t, err)

	seen := make(map[int64]bool)
	for i := 0; i < 1000; i++ {
		v := s.Next()
		assert.False(t, seen[v], "duplicate id %d", v)
		seen[v] = true
	}

	_, err = NewSnowflake(4096)
	assert.Error(t, err, "node ids above 1023 are rejected")
}

func TestRandomName(t *testing.T) {
	r := NewRandom(1, 6)
	name := RandomName(r, 7)
	assert.Len(t, name, 7)
	for _, c := range name {
		assert.Contains(t, nameAlphabet, string(c))
	}
}
