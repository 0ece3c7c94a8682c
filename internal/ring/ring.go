package ring

import "sort"

const (
	// DefaultSlots is the number of slots on a ring built without an explicit size.
	DefaultSlots = 512
	// DefaultVNodes is the number of virtual nodes placed per server by default.
	DefaultVNodes = 20
)

// Ring is a circular array of slots, each empty or owned by one server, plus the
// seed every member server was placed with.
//
// Ring is not safe for concurrent use. Callers serialize access.
type Ring struct {
	vnodesPerNode int
	slots         []string         // "" marks an empty slot
	seeds         map[string]int64 // server name -> placement seed
	occupied      int
}

// NewRing creates an empty ring with the given number of slots and virtual
// nodes per server.
func NewRing(slots, vnodesPerNode int) *Ring {
	if slots <= 0 {
		slots = DefaultSlots
	}
	if vnodesPerNode <= 0 {
		vnodesPerNode = DefaultVNodes
	}
	return &Ring{
		vnodesPerNode: vnodesPerNode,
		slots:         make([]string, slots),
		seeds:         make(map[string]int64),
	}
}

// Size returns the number of slots.
func (r *Ring) Size() int { return len(r.slots) }

// VNodes returns the number of virtual nodes placed per server.
func (r *Ring) VNodes() int { return r.vnodesPerNode }

// Occupied returns the number of non-empty slots.
func (r *Ring) Occupied() int { return r.occupied }

// Lookup returns the server owning the first occupied slot at or clockwise
// from PrimaryHash(requestID). Returns ("", false) if every slot is empty.
func (r *Ring) Lookup(requestID int64) (string, bool) {
	if r.occupied == 0 {
		return "", false
	}

	pos := PrimaryHash(requestID, len(r.slots))
	for i := 0; i < len(r.slots); i++ {
		if name := r.slots[pos]; name != "" {
			return name, true
		}
		pos = (pos + 1) % len(r.slots)
	}
	return "", false
}

// Place stores name in slot if the slot is empty. It reports false when the
// slot is already occupied and leaves it untouched.
func (r *Ring) Place(name string, slot int) bool {
	if r.slots[slot] != "" {
		return false
	}
	r.slots[slot] = name
	r.occupied++
	return true
}

// Clear empties slot.
func (r *Ring) Clear(slot int) {
	if r.slots[slot] != "" {
		r.occupied--
	}
	r.slots[slot] = ""
}

// Probe returns the first empty slot at or clockwise from start. It reports
// false after a full revolution finds no empty slot.
func (r *Ring) Probe(start int) (int, bool) {
	pos := start % len(r.slots)
	for i := 0; i < len(r.slots); i++ {
		if r.slots[pos] == "" {
			return pos, true
		}
		pos = (pos + 1) % len(r.slots)
	}
	return 0, false
}

// OwnerOf returns the slots held by name in ascending order.
func (r *Ring) OwnerOf(name string) []int {
	owned := make([]int, 0, r.vnodesPerNode)
	for i, s := range r.slots {
		if s == name && name != "" {
			owned = append(owned, i)
		}
	}
	return owned
}

// Successors returns up to n distinct servers found walking clockwise from
// start, skipping exclude.
func (r *Ring) Successors(start, n int, exclude string) []string {
	if n <= 0 || r.occupied == 0 {
		return []string{}
	}

	seen := make(map[string]bool)
	result := make([]string, 0, n)
	for i := 0; i < len(r.slots) && len(result) < n; i++ {
		name := r.slots[(start+i)%len(r.slots)]
		if name == "" || name == exclude || seen[name] {
			continue
		}
		seen[name] = true
		result = append(result, name)
	}
	return result
}

// Slots returns a copy of the slot array.
func (r *Ring) Slots() []string {
	out := make([]string, len(r.slots))
	copy(out, r.slots)
	return out
}

// SetSeed records the placement seed of a member server.
func (r *Ring) SetSeed(name string, seed int64) {
	r.seeds[name] = seed
}

// Seed returns the placement seed of name.
func (r *Ring) Seed(name string) (int64, bool) {
	seed, ok := r.seeds[name]
	return seed, ok
}

// DropSeed forgets the seed of name.
func (r *Ring) DropSeed(name string) {
	delete(r.seeds, name)
}

// HasMember reports whether name currently has a seed on the ring.
func (r *Ring) HasMember(name string) bool {
	_, ok := r.seeds[name]
	return ok
}

// SeedInUse reports whether another member was placed with seed, or with a seed
// that yields the same placement sequence.
func (r *Ring) SeedInUse(seed int64) bool {
	key := PlacementKey(seed, len(r.slots))
	for _, s := range r.seeds {
		if s == seed || PlacementKey(s, len(r.slots)) == key {
			return true
		}
	}
	return false
}

// Members returns the names of all member servers, sorted.
func (r *Ring) Members() []string {
	names := make([]string, 0, len(r.seeds))
	for name := range r.seeds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
