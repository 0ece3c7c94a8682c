package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lbring/internal/balancer"
	"lbring/internal/config"
	"lbring/internal/health"
	"lbring/internal/idgen"
	"lbring/internal/ledger"
	"lbring/internal/server"
)

// Options wires the balancer process for cfg.
func Options(cfg config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			NewLogger,
			NewScope,
			NewBalancer,
			NewPoller,
			NewHTTPServer,
			NewGRPCServer,
		),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Invoke(Register),
	)
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Log.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("log.level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	return zc.Build()
}

// NewScope returns the root metrics scope, closed on shutdown.
func NewScope(lc fx.Lifecycle) tally.Scope {
	scope, closer := tally.NewRootScope(tally.ScopeOptions{Prefix: "lbring"}, time.Second)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return closer.Close() },
	})
	return scope
}

// NewBalancer builds an empty balancer from the ring section.
func NewBalancer(cfg config.Config, logger *zap.Logger, scope tally.Scope) (*balancer.Balancer, error) {
	policy, err := ledger.ParsePolicy(cfg.Ring.Policy)
	if err != nil {
		return nil, err
	}
	requests, err := idgen.NewSnowflake(cfg.IDs.Node)
	if err != nil {
		return nil, err
	}
	return balancer.New(
		balancer.Slots(cfg.Ring.Slots),
		balancer.VNodes(cfg.Ring.VNodes),
		balancer.Replication(cfg.Ring.Replication),
		balancer.Policy(policy),
		balancer.SeedSource(idgen.NewRandom(time.Now().UnixNano(), balancer.SeedDigits)),
		balancer.RequestSource(requests),
		balancer.Logger(logger.Named("balancer")),
		balancer.Scope(scope),
	), nil
}

// NewPoller returns the health poller, or nil when health checking is off.
func NewPoller(lc fx.Lifecycle, cfg config.Config, b *balancer.Balancer, logger *zap.Logger, scope tally.Scope) *health.Poller {
	var prober health.Prober
	switch cfg.Health.Mode {
	case config.HealthHTTP:
		prober = health.NewHTTPProber(cfg.Health.Port, cfg.Health.Path)
	case config.HealthGRPC:
		gp := health.NewGRPCProber(cfg.Health.Port)
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return gp.Close() },
		})
		prober = gp
	default:
		return nil
	}

	return health.NewPoller(prober, b,
		health.Interval(cfg.Health.Interval),
		health.Timeout(cfg.Health.Timeout),
		health.Failures(cfg.Health.Failures),
		health.Logger(logger.Named("health")),
		health.Scope(scope),
	)
}

// NewHTTPServer builds the HTTP front end. /rep is filtered through the
// poller when health checking is on.
func NewHTTPServer(b *balancer.Balancer, p *health.Poller, logger *zap.Logger) *server.HTTPServer {
	opts := []server.Option{
		server.WithNames(idgen.NewRandom(time.Now().UnixNano(), 1)),
		server.WithLogger(logger.Named("http")),
	}
	if p != nil {
		opts = append(opts, server.WithChecker(p))
	}
	return server.NewHTTP(b, opts...)
}

// NewGRPCServer builds the gRPC health server.
func NewGRPCServer(b *balancer.Balancer, logger *zap.Logger) *server.GRPCServer {
	return server.NewGRPC(b, logger.Named("grpc"))
}

// RegisterParams are the components started by Register.
type RegisterParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Logger    *zap.Logger
	Balancer  *balancer.Balancer
	Poller    *health.Poller
	HTTP      *server.HTTPServer
	GRPC      *server.GRPCServer
}

// Register builds the initial ring and ties every server to the app lifecycle.
func Register(p RegisterParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := p.Balancer.BuildFromSet(p.Config.Servers); err != nil {
				return fmt.Errorf("failed to build ring: %w", err)
			}
			p.Logger.Info("ring built", zap.Strings("servers", p.Balancer.CurrentMembers()))
			return nil
		},
	})

	serve(p.Lifecycle, p.Logger, "http", p.Config.HTTP.Addr, p.HTTP.Start, p.HTTP.Shutdown)
	if p.Config.GRPC.Addr != "" {
		serve(p.Lifecycle, p.Logger, "grpc", p.Config.GRPC.Addr, p.GRPC.Start, p.GRPC.Shutdown)
	}

	if p.Poller != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(context.Context) error {
				p.Poller.Start()
				return nil
			},
			OnStop: func(context.Context) error {
				p.Poller.Stop()
				return nil
			},
		})
	}
}

// serve listens on addr at start and runs start in the background until stop.
func serve(lc fx.Lifecycle, logger *zap.Logger, name, addr string, start func(net.Listener) error, stop func(context.Context) error) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s for %s: %w", addr, name, err)
			}
			go func() {
				if err := start(lis); err != nil {
					logger.Error("server stopped", zap.String("server", name), zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: stop,
	})
}
