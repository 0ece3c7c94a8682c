package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"lbring/internal/balancer"
	"lbring/internal/ledger"
)

// Default polling settings.
const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 2 * time.Second
	DefaultFailures = 1
)

// Prober checks whether a single backend is healthy.
type Prober interface {
	Probe(ctx context.Context, name string) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, name string) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, name string) error {
	return f(ctx, name)
}

// forgetter is implemented by probers that hold per-backend state.
type forgetter interface {
	Forget(name string)
}

// Evictor is the membership the poller watches. *balancer.Balancer
// satisfies it.
type Evictor interface {
	CurrentMembers() []string
	RemoveServer(name string) (ledger.Redistribution, error)
}

// Option configures a Poller.
type Option interface {
	apply(*Poller)
}

type optionFunc func(*Poller)

func (f optionFunc) apply(p *Poller) { f(p) }

// Interval sets the time between polling rounds.
func Interval(d time.Duration) Option {
	return optionFunc(func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	})
}

// Timeout bounds each individual probe.
func Timeout(d time.Duration) Option {
	return optionFunc(func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	})
}

// Failures sets how many consecutive failed probes evict a member.
func Failures(n int) Option {
	return optionFunc(func(p *Poller) {
		if n > 0 {
			p.threshold = n
		}
	})
}

// Logger sets the logger. Defaults to a no-op logger.
func Logger(l *zap.Logger) Option {
	return optionFunc(func(p *Poller) { p.logger = l })
}

// Scope sets the metrics scope. Defaults to tally.NoopScope.
func Scope(s tally.Scope) Option {
	return optionFunc(func(p *Poller) { p.scope = s })
}

// Poller periodically probes members and evicts unhealthy ones.
type Poller struct {
	mu       sync.Mutex
	failures map[string]int // name -> consecutive failed probes

	prober    Prober
	evictor   Evictor
	interval  time.Duration
	timeout   time.Duration
	threshold int

	logger *zap.Logger
	scope  tally.Scope

	probes    tally.Counter
	failed    tally.Counter
	evictions tally.Counter

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewPoller creates a poller. Call Start to begin polling.
func NewPoller(prober Prober, evictor Evictor, opts ...Option) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		failures:  make(map[string]int),
		prober:    prober,
		evictor:   evictor,
		interval:  DefaultInterval,
		timeout:   DefaultTimeout,
		threshold: DefaultFailures,
		logger:    zap.NewNop(),
		scope:     tally.NoopScope,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt.apply(p)
	}

	scope := p.scope.SubScope("health")
	p.probes = scope.Counter("probes")
	p.failed = scope.Counter("probe_failures")
	p.evictions = scope.Counter("evictions")
	return p
}

// Start launches the polling loop. Calling Start more than once has no effect.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				p.Check(p.ctx)
			}
		}
	}()
	p.logger.Info("health polling started",
		zap.Duration("interval", p.interval),
		zap.Int("failures", p.threshold),
	)
}

// Stop stops the polling loop and waits for an in-flight round to finish.
func (p *Poller) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Check runs one polling round and returns the names it evicted.
func (p *Poller) Check(ctx context.Context) []string {
	members := p.evictor.CurrentMembers()
	results := p.probeAll(ctx, members)
	if ctx.Err() != nil {
		// Interrupted round.
		return nil
	}

	current := make(map[string]bool, len(members))
	var doomed []string

	p.mu.Lock()
	for i, name := range members {
		current[name] = true
		if results[i] == nil {
			delete(p.failures, name)
			continue
		}
		p.failures[name]++
		p.logger.Debug("probe failed",
			zap.String("server", name),
			zap.Int("consecutive", p.failures[name]),
			zap.Error(results[i]),
		)
		if p.failures[name] >= p.threshold {
			doomed = append(doomed, name)
		}
	}
	for name := range p.failures {
		if !current[name] {
			delete(p.failures, name)
		}
	}
	p.mu.Unlock()

	evicted := make([]string, 0, len(doomed))
	for _, name := range doomed {
		r, err := p.evictor.RemoveServer(name)
		switch {
		case errors.Is(err, balancer.ErrNotFound):
			// Removed by someone else since the round started.
		case err != nil && !errors.Is(err, balancer.ErrRedistributionUnderflow):
			p.logger.Error("failed to evict server", zap.String("server", name), zap.Error(err))
			continue
		default:
			p.evictions.Inc(1)
			p.logger.Warn("evicted unhealthy server",
				zap.String("server", name),
				zap.Int64("requests", r.Count),
				zap.Error(err),
			)
			evicted = append(evicted, name)
		}

		p.mu.Lock()
		delete(p.failures, name)
		p.mu.Unlock()
		if f, ok := p.prober.(forgetter); ok {
			f.Forget(name)
		}
	}
	return evicted
}

// Healthy probes names and returns the ones that answered, in input order.
func (p *Poller) Healthy(ctx context.Context, names []string) []string {
	results := p.probeAll(ctx, names)
	healthy := make([]string, 0, len(names))
	for i, name := range names {
		if results[i] == nil {
			healthy = append(healthy, name)
		}
	}
	return healthy
}

// FailureCount returns the consecutive failures recorded for name.
func (p *Poller) FailureCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures[name]
}

// probeAll probes every name concurrently; results[i] belongs to names[i].
func (p *Poller) probeAll(ctx context.Context, names []string) []error {
	results := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			results[i] = p.prober.Probe(probeCtx, name)
		}(i, name)
	}
	wg.Wait()

	p.probes.Inc(int64(len(names)))
	for _, err := range results {
		if err != nil {
			p.failed.Inc(1)
		}
	}
	return results
}
