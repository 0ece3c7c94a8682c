package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"lbring/internal/balancer"
)

// ServiceName is the health service name reported alongside the default "".
const ServiceName = "lbring.Balancer"

// GRPCServer serves grpc.health.v1.Health for the balancer. The status is
// SERVING while the ring has at least one member.
type GRPCServer struct {
	srv    *grpc.Server
	health *grpchealth.Server
	logger *zap.Logger
}

// NewGRPC creates the gRPC server and subscribes it to membership changes of b.
func NewGRPC(b *balancer.Balancer, logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &GRPCServer{
		srv:    grpc.NewServer(),
		health: grpchealth.NewServer(),
		logger: logger,
	}
	healthpb.RegisterHealthServer(g.srv, g.health)

	// Enable gRPC reflection for grpcurl
	reflection.Register(g.srv)

	g.setStatus(b.CurrentMembers())
	b.SetOnMembershipChanged(g.setStatus)
	return g
}

func (g *GRPCServer) setStatus(members []string) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if len(members) > 0 {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
	g.logger.Debug("health status updated", zap.Int("members", len(members)), zap.Stringer("status", status))
}

// Start serves on lis until Shutdown is called.
func (g *GRPCServer) Start(lis net.Listener) error {
	g.logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
	if err := g.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Shutdown marks every service NOT_SERVING and stops gracefully, forcing the
// stop if ctx expires first.
func (g *GRPCServer) Shutdown(ctx context.Context) error {
	g.health.Shutdown()

	done := make(chan struct{})
	go func() {
		g.srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		g.srv.Stop()
		<-done
		return ctx.Err()
	}
}
