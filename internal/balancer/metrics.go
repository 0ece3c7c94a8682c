package balancer

import "github.com/uber-go/tally"

type metrics struct {
	routed         tally.Counter
	routeMisses    tally.Counter
	added          tally.Counter
	removed        tally.Counter
	capacityErrors tally.Counter
	seedErrors     tally.Counter
	underflows     tally.Counter
	redistributed  tally.Counter
	members        tally.Gauge
	occupiedSlots  tally.Gauge
}

func newMetrics(scope tally.Scope) *metrics {
	if scope == nil {
		scope = tally.NoopScope
	}
	scope = scope.SubScope("balancer")
	return &metrics{
		routed:         scope.Counter("routed"),
		routeMisses:    scope.Counter("route_misses"),
		added:          scope.Counter("servers_added"),
		removed:        scope.Counter("servers_removed"),
		capacityErrors: scope.Counter("capacity_errors"),
		seedErrors:     scope.Counter("seed_errors"),
		underflows:     scope.Counter("redistribution_underflows"),
		redistributed:  scope.Counter("redistributed_requests"),
		members:        scope.Gauge("members"),
		occupiedSlots:  scope.Gauge("occupied_slots"),
	}
}
