// Package idgen provides the identifier sources the balancer draws server seeds
// and request ids from. Sources are injected so tests can fix the sequence.
package idgen
