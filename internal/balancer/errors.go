package balancer

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a server is not a ring member.
	ErrNotFound = errors.New("server not found")

	// ErrNoAvailableServer is returned when a request is routed over an empty
	// ring. It matches ErrNotFound.
	ErrNoAvailableServer = fmt.Errorf("no available server: %w", ErrNotFound)

	// ErrCapacityExceeded is returned when probing finds no empty slot for a
	// virtual node. The ring is saturated.
	ErrCapacityExceeded = errors.New("ring capacity exceeded")

	// ErrRedistributionUnderflow is returned alongside a completed removal when
	// the removed server had a nonzero count and no peer remained to take it.
	ErrRedistributionUnderflow = errors.New("no peers left to redistribute load")

	// ErrDuplicateSeed is returned when no seed distinct from the live servers'
	// seeds could be drawn.
	ErrDuplicateSeed = errors.New("could not draw a unique server seed")

	// ErrAlreadyMember is returned when adding a server that is already on the ring.
	ErrAlreadyMember = errors.New("server already a member")

	// ErrInvalidName is returned for an empty server name.
	ErrInvalidName = errors.New("invalid server name")
)
