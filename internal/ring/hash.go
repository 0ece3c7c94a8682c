package ring

// PrimaryHash maps a request identifier to the slot where its clockwise lookup
// starts: (x² + 2x + 17) mod size.
func PrimaryHash(x int64, size int) int {
	r := residue(x, size)
	return int((r*r + 2*r + 17) % int64(size))
}

// PlacementHash maps a server seed and virtual node index to a candidate slot:
// (seed² + j² + 2j + 25) mod size.
func PlacementHash(seed int64, vnode, size int) int {
	s := residue(seed, size)
	j := residue(int64(vnode), size)
	return int((s*s + j*j + 2*j + 25) % int64(size))
}

// PlacementKey is the seed-dependent term of PlacementHash. Two seeds with the same
// key produce the same candidate slot for every virtual node.
func PlacementKey(seed int64, size int) int {
	s := residue(seed, size)
	return int(s * s % int64(size))
}

// residue reduces x into [0, size) so the quadratic terms cannot overflow.
func residue(x int64, size int) int64 {
	m := int64(size)
	r := x % m
	if r < 0 {
		r += m
	}
	return r
}
