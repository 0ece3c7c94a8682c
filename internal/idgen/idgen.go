package idgen

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/atomic"
)

// Source produces integer identifiers. Implementations are safe for
// concurrent use.
type Source interface {
	Next() int64
}

// Random draws uniformly distributed identifiers with a fixed number of
// decimal digits.
type Random struct {
	mu     sync.Mutex
	rnd    *rand.Rand
	lo, hi int64
}

// NewRandom returns a Random source of digits-digit numbers seeded with seed.
// digits is clamped to [1, 18].
func NewRandom(seed int64, digits int) *Random {
	if digits < 1 {
		digits = 1
	}
	if digits > 18 {
		digits = 18
	}
	lo := int64(1)
	for i := 1; i < digits; i++ {
		lo *= 10
	}
	return &Random{
		rnd: rand.New(rand.NewSource(seed)),
		lo:  lo,
		hi:  lo * 10,
	}
}

// Next implements Source.
func (r *Random) Next() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lo + r.rnd.Int63n(r.hi-r.lo)
}

// Intn returns a random int in [0, n) from the same stream.
func (r *Random) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Intn(n)
}

// Sequential counts up from a starting value.
type Sequential struct {
	next *atomic.Int64
}

// NewSequential returns a Sequential source whose first value is start.
func NewSequential(start int64) *Sequential {
	return &Sequential{next: atomic.NewInt64(start - 1)}
}

// Next implements Source.
func (s *Sequential) Next() int64 {
	return s.next.Inc()
}

// Fixed cycles through a list of values. Useful in tests.
type Fixed struct {
	values []int64
	pos    *atomic.Int64
}

// NewFixed returns a Fixed source over values. It panics on an empty list.
func NewFixed(values ...int64) *Fixed {
	if len(values) == 0 {
		panic("idgen: NewFixed needs at least one value")
	}
	return &Fixed{values: values, pos: atomic.NewInt64(-1)}
}

// Next implements Source.
func (f *Fixed) Next() int64 {
	i := f.pos.Inc()
	return f.values[int(i%int64(len(f.values)))]
}

// Snowflake produces time-ordered unique ids from a snowflake node.
type Snowflake struct {
	node *snowflake.Node
}

// NewSnowflake creates a Snowflake source for the given worker node id
// (0..1023).
func NewSnowflake(nodeID int64) (*Snowflake, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Snowflake{node: node}, nil
}

// Next implements Source.
func (s *Snowflake) Next() int64 {
	return s.node.Generate().Int64()
}

const nameAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomName builds an n character server name from r.
func RandomName(r *Random, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = nameAlphabet[r.Intn(len(nameAlphabet))]
	}
	return string(b)
}
