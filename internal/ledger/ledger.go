package ledger

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/atomic"
)

// Policy selects which peers receive a removed server's count.
type Policy int

const (
	// Replication splits the count across the N-1 successors of the removed
	// server, or across every remaining peer when fewer are left.
	Replication Policy = iota
	// Current splits the count across every remaining peer.
	Current
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p {
	case Replication:
		return "replication"
	case Current:
		return "current"
	default:
		return "unknown"
	}
}

// ParsePolicy parses a policy name as written in configuration.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "replication":
		return Replication, nil
	case "current":
		return Current, nil
	default:
		return 0, fmt.Errorf("unknown redistribution policy %q (expected replication or current)", s)
	}
}

// Redistribution describes how a removed server's count was handed out.
type Redistribution struct {
	From    string
	Count   int64
	Shares  map[string]int64
	Dropped int64
}

// Ledger maps server names to running request counts.
type Ledger struct {
	mu     sync.RWMutex
	counts map[string]*atomic.Int64
}

// New creates a ledger with every name registered at zero.
func New(names ...string) *Ledger {
	l := &Ledger{counts: make(map[string]*atomic.Int64, len(names))}
	for _, name := range names {
		l.counts[name] = atomic.NewInt64(0)
	}
	return l
}

// Register adds name with a zero count. It reports false if name already exists.
func (l *Ledger) Register(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.counts[name]; exists {
		return false
	}
	l.counts[name] = atomic.NewInt64(0)
	return true
}

// Increment adds one to the count of name. It reports false if name is unknown.
// Increments may run concurrently with each other.
func (l *Ledger) Increment(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c, ok := l.counts[name]
	if !ok {
		return false
	}
	c.Inc()
	return true
}

// Add adds delta to the count of name.
func (l *Ledger) Add(name string, delta int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c, ok := l.counts[name]
	if !ok {
		return false
	}
	c.Add(delta)
	return true
}

// Count returns the count of name.
func (l *Ledger) Count(name string) (int64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c, ok := l.counts[name]
	if !ok {
		return 0, false
	}
	return c.Load(), true
}

// Remove deletes name and returns its final count.
func (l *Ledger) Remove(name string) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counts[name]
	if !ok {
		return 0, false
	}
	delete(l.counts, name)
	return c.Load(), true
}

// Snapshot returns a copy of all counts.
func (l *Ledger) Snapshot() map[string]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]int64, len(l.counts))
	for name, c := range l.counts {
		out[name] = c.Load()
	}
	return out
}

// Total returns the sum of all counts.
func (l *Ledger) Total() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total int64
	for _, c := range l.counts {
		total += c.Load()
	}
	return total
}

// Len returns the number of registered servers.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.counts)
}

// Names returns the registered names, sorted.
func (l *Ledger) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.counts))
	for name := range l.counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Retire removes from and splits its count evenly across recipients, in the
// order given. The division remainder goes one unit at a time to the first
// recipients so the ledger total is unchanged. With no recipients the count is
// dropped. Unregistered or repeated recipients are skipped.
func (l *Ledger) Retire(from string, recipients []string) (Redistribution, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counts[from]
	if !ok {
		return Redistribution{From: from}, false
	}
	delete(l.counts, from)

	peers := make([]*atomic.Int64, 0, len(recipients))
	names := make([]string, 0, len(recipients))
	seen := make(map[string]bool, len(recipients))
	for _, name := range recipients {
		p, exists := l.counts[name]
		if !exists || seen[name] {
			continue
		}
		seen[name] = true
		peers = append(peers, p)
		names = append(names, name)
	}

	count := c.Load()
	r := Redistribution{
		From:   from,
		Count:  count,
		Shares: make(map[string]int64, len(names)),
	}
	if len(peers) == 0 {
		r.Dropped = count
		return r, true
	}

	share := count / int64(len(peers))
	rem := count % int64(len(peers))
	for i, p := range peers {
		delta := share
		if int64(i) < rem {
			delta++
		}
		p.Add(delta)
		r.Shares[names[i]] = delta
	}
	return r, true
}
