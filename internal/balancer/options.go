package balancer

import (
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"lbring/internal/idgen"
	"lbring/internal/ledger"
)

const (
	// DefaultReplication is the replication factor N used to size redistribution.
	DefaultReplication = 3
	// DefaultMaxSeedAttempts bounds how many seeds AddServer draws before giving up.
	DefaultMaxSeedAttempts = 64
	// SeedDigits is the number of decimal digits of randomly drawn seeds and ids.
	SeedDigits = 6
)

type options struct {
	slots           int
	vnodes          int
	replication     int
	policy          ledger.Policy
	maxSeedAttempts int
	seeds           idgen.Source
	requests        idgen.Source
	logger          *zap.Logger
	scope           tally.Scope
}

// Option customizes a Balancer.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// Slots sets the number of ring slots.
func Slots(n int) Option {
	return optionFunc(func(o *options) { o.slots = n })
}

// VNodes sets the number of virtual nodes placed per server.
func VNodes(n int) Option {
	return optionFunc(func(o *options) { o.vnodes = n })
}

// Replication sets the replication factor N. A removed server's count is
// split across N-1 peers. Values below 2 fall back to DefaultReplication.
func Replication(n int) Option {
	return optionFunc(func(o *options) { o.replication = n })
}

// Policy selects how recipients of a removed server's count are chosen.
func Policy(p ledger.Policy) Option {
	return optionFunc(func(o *options) { o.policy = p })
}

// MaxSeedAttempts bounds the number of seeds drawn per AddServer.
func MaxSeedAttempts(n int) Option {
	return optionFunc(func(o *options) { o.maxSeedAttempts = n })
}

// SeedSource sets where server seeds are drawn from.
//
// Defaults to a time-seeded six digit random source.
func SeedSource(s idgen.Source) Option {
	return optionFunc(func(o *options) { o.seeds = s })
}

// RequestSource sets where Route draws request ids from.
//
// Defaults to a time-seeded six digit random source.
func RequestSource(s idgen.Source) Option {
	return optionFunc(func(o *options) { o.requests = s })
}

// Logger sets the logger. Defaults to a no-op logger.
func Logger(l *zap.Logger) Option {
	return optionFunc(func(o *options) { o.logger = l })
}

// Scope sets the metrics scope. Defaults to tally.NoopScope.
func Scope(s tally.Scope) Option {
	return optionFunc(func(o *options) { o.scope = s })
}
