// Package ring implements a fixed-size consistent hashing ring with virtual nodes.
// Servers occupy slots chosen by a quadratic placement hash with linear probing,
// and requests are mapped to the first occupied slot clockwise from their own hash.
package ring
