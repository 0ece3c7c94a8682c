package balancer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"lbring/internal/idgen"
	"lbring/internal/ledger"
	"lbring/internal/ring"
)

// Stats summarizes ring occupancy and load.
type Stats struct {
	Members       int
	Slots         int
	OccupiedSlots int
	VNodes        int
	Replication   int
	TotalRequests int64
}

// Balancer maps request ids to member servers and counts the load each
// server has received.
type Balancer struct {
	mu     sync.RWMutex
	ring   *ring.Ring
	ledger *ledger.Ledger

	seeds           idgen.Source
	requests        idgen.Source
	replication     int
	policy          ledger.Policy
	maxSeedAttempts int

	logger  *zap.Logger
	metrics *metrics

	// notifyMu is taken before mu is released so observers see membership
	// changes in the order they were applied.
	notifyMu  sync.Mutex
	observers []func(members []string)
}

// New creates a balancer with an empty ring.
func New(opts ...Option) *Balancer {
	var o options
	for _, opt := range opts {
		opt.apply(&o)
	}

	if o.replication < 2 {
		o.replication = DefaultReplication
	}
	if o.maxSeedAttempts <= 0 {
		o.maxSeedAttempts = DefaultMaxSeedAttempts
	}
	if o.seeds == nil {
		o.seeds = idgen.NewRandom(time.Now().UnixNano(), SeedDigits)
	}
	if o.requests == nil {
		o.requests = idgen.NewRandom(time.Now().UnixNano()+1, SeedDigits)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	r := ring.NewRing(o.slots, o.vnodes)
	return &Balancer{
		ring:            r,
		ledger:          ledger.New(),
		seeds:           o.seeds,
		requests:        o.requests,
		replication:     o.replication,
		policy:          o.policy,
		maxSeedAttempts: o.maxSeedAttempts,
		logger: o.logger.With(
			zap.Int("slots", r.Size()),
			zap.Int("vnodes", r.VNodes()),
		),
		metrics: newMetrics(o.scope),
	}
}

// SetOnMembershipChanged registers a callback invoked with the sorted member
// list after every successful membership change. Callbacks run synchronously
// and in order; they must not call back into the balancer.
func (b *Balancer) SetOnMembershipChanged(fn func(members []string)) {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	b.observers = append(b.observers, fn)
}

// BuildFromSet adds every name in names. Duplicates are ignored and names are
// added in sorted order so the resulting ring depends only on the set and the
// seed source. Errors of individual adds are combined; servers that were added
// successfully stay on the ring.
func (b *Balancer) BuildFromSet(names []string) error {
	unique := make(map[string]bool, len(names))
	sorted := make([]string, 0, len(names))
	for _, name := range names {
		if !unique[name] {
			unique[name] = true
			sorted = append(sorted, name)
		}
	}
	sort.Strings(sorted)

	var errs error
	changed := false

	b.mu.Lock()
	for _, name := range sorted {
		if err := b.addLocked(name); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		changed = true
	}
	if !changed {
		b.mu.Unlock()
		return errs
	}
	b.unlockAndNotify()
	return errs
}

// AddServer places K virtual nodes for name. The add is all or nothing: if the
// ring runs out of empty slots every slot placed so far is released and
// ErrCapacityExceeded is returned.
func (b *Balancer) AddServer(name string) error {
	b.mu.Lock()
	if err := b.addLocked(name); err != nil {
		b.mu.Unlock()
		return err
	}
	b.unlockAndNotify()
	return nil
}

func (b *Balancer) addLocked(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	if b.ring.HasMember(name) {
		return fmt.Errorf("%w: %s", ErrAlreadyMember, name)
	}

	seed, err := b.drawSeed()
	if err != nil {
		b.metrics.seedErrors.Inc(1)
		b.logger.Warn("failed to draw seed", zap.String("server", name), zap.Error(err))
		return fmt.Errorf("add %s: %w", name, err)
	}

	placed := make([]int, 0, b.ring.VNodes())
	for j := 0; j < b.ring.VNodes(); j++ {
		slot, ok := b.ring.Probe(ring.PlacementHash(seed, j, b.ring.Size()))
		if !ok {
			for _, s := range placed {
				b.ring.Clear(s)
			}
			b.metrics.capacityErrors.Inc(1)
			b.logger.Error("ring is full",
				zap.String("server", name),
				zap.Int("vnode", j),
				zap.Int("members", len(b.ring.Members())),
			)
			return fmt.Errorf("add %s: virtual node %d: %w", name, j, ErrCapacityExceeded)
		}
		b.ring.Place(name, slot)
		placed = append(placed, slot)
	}

	b.ring.SetSeed(name, seed)
	b.ledger.Register(name)

	b.metrics.added.Inc(1)
	b.updateGauges()
	b.logger.Info("added server",
		zap.String("server", name),
		zap.Int64("seed", seed),
		zap.Ints("slots", placed),
	)
	return nil
}

// drawSeed returns a seed whose placement sequence differs from every live
// server's.
func (b *Balancer) drawSeed() (int64, error) {
	for i := 0; i < b.maxSeedAttempts; i++ {
		seed := b.seeds.Next()
		if !b.ring.SeedInUse(seed) {
			return seed, nil
		}
	}
	return 0, fmt.Errorf("%d attempts: %w", b.maxSeedAttempts, ErrDuplicateSeed)
}

// RemoveServer clears every slot owned by name and hands its request count to
// its peers. Removing a non-member returns ErrNotFound and changes nothing.
//
// If no peer remains, the count is dropped and ErrRedistributionUnderflow is
// returned; the server is still removed.
func (b *Balancer) RemoveServer(name string) (ledger.Redistribution, error) {
	b.mu.Lock()
	if !b.ring.HasMember(name) {
		b.mu.Unlock()
		return ledger.Redistribution{From: name}, fmt.Errorf("remove %s: %w", name, ErrNotFound)
	}

	owned := b.ring.OwnerOf(name)
	for _, slot := range owned {
		b.ring.Clear(slot)
	}
	b.ring.DropSeed(name)

	recipients := b.recipients(owned)
	r, registered := b.ledger.Retire(name, recipients)
	if !registered {
		b.logger.Error("ring member missing from ledger", zap.String("server", name))
	}
	peers := b.ledger.Len()

	b.metrics.removed.Inc(1)
	b.metrics.redistributed.Inc(r.Count - r.Dropped)
	b.updateGauges()
	b.unlockAndNotify()

	b.logger.Info("removed server",
		zap.String("server", name),
		zap.Int("slots", len(owned)),
		zap.Int64("count", r.Count),
		zap.Strings("recipients", recipients),
	)
	if peers > 0 && len(recipients) < b.replication-1 && b.policy == ledger.Replication {
		b.logger.Info("fewer peers than replication requires, splitting across all peers",
			zap.String("server", name),
			zap.Int("peers", len(recipients)),
			zap.Int("replication", b.replication),
		)
	}

	if r.Dropped > 0 {
		b.metrics.underflows.Inc(1)
		b.logger.Warn("dropped load of last server",
			zap.String("server", name),
			zap.Int64("count", r.Dropped),
		)
		return r, fmt.Errorf("remove %s: %d requests: %w", name, r.Dropped, ErrRedistributionUnderflow)
	}
	return r, nil
}

// recipients picks who takes over a removed server's count. Must be called
// with the write lock held, after the server's slots were cleared.
func (b *Balancer) recipients(owned []int) []string {
	if b.policy == ledger.Current {
		return b.ring.Members()
	}

	start := 0
	if len(owned) > 0 {
		start = owned[0]
	}
	return b.ring.Successors(start, b.replication-1, "")
}

// RouteRequest returns the server owning requestID and counts the request
// against it. An empty ring yields ErrNoAvailableServer and counts nothing.
func (b *Balancer) RouteRequest(requestID int64) (string, error) {
	b.mu.RLock()
	name, ok := b.ring.Lookup(requestID)
	if ok {
		b.ledger.Increment(name)
	}
	b.mu.RUnlock()

	if !ok {
		b.metrics.routeMisses.Inc(1)
		return "", ErrNoAvailableServer
	}
	b.metrics.routed.Inc(1)
	return name, nil
}

// Route draws a request id from the request source and routes it.
func (b *Balancer) Route() (int64, string, error) {
	id := b.requests.Next()
	name, err := b.RouteRequest(id)
	return id, name, err
}

// Lookup returns the owner of requestID without counting the request.
func (b *Balancer) Lookup(requestID int64) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ring.Lookup(requestID)
}

// CurrentLedger returns a copy of the per-server request counts.
func (b *Balancer) CurrentLedger() map[string]int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ledger.Snapshot()
}

// CurrentMembers returns the member servers, sorted.
func (b *Balancer) CurrentMembers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ring.Members()
}

// IsMember reports whether name is on the ring.
func (b *Balancer) IsMember(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ring.HasMember(name)
}

// OwnerOf returns the slots held by name in ascending order.
func (b *Balancer) OwnerOf(name string) []int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ring.OwnerOf(name)
}

// Stats returns a snapshot of ring occupancy and load.
func (b *Balancer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Members:       len(b.ring.Members()),
		Slots:         b.ring.Size(),
		OccupiedSlots: b.ring.Occupied(),
		VNodes:        b.ring.VNodes(),
		Replication:   b.replication,
		TotalRequests: b.ledger.Total(),
	}
}

// updateGauges must be called with the write lock held.
func (b *Balancer) updateGauges() {
	b.metrics.members.Update(float64(b.ledger.Len()))
	b.metrics.occupiedSlots.Update(float64(b.ring.Occupied()))
}

// unlockAndNotify releases the write lock and reports the new membership to
// observers. Must be called with the write lock held.
func (b *Balancer) unlockAndNotify() {
	members := b.ring.Members()
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	b.mu.Unlock()

	for _, fn := range b.observers {
		fn(members)
	}
}
