// Package grpc serves the standard gRPC health protocol for the auth server.
package grpc

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmitrijs2005/keeperauth/internal/logging"
)

// ServiceName is reported alongside the overall ("") status.
const ServiceName = "keeperauth.Auth"

const defaultProbeInterval = 5 * time.Second

// ProbeFunc reports whether the backing store is reachable.
type ProbeFunc func(ctx context.Context) error

// HealthServer serves grpc.health.v1 and keeps the reported status in step
// with a probe.
type HealthServer struct {
	address  string
	probe    ProbeFunc
	interval time.Duration
	health   *health.Server
	logger   logging.Logger
}

// NewHealthServer returns a HealthServer for address. The probe runs every
// five seconds unless SetProbeInterval changes it.
func NewHealthServer(address string, probe ProbeFunc, logger logging.Logger) *HealthServer {
	return &HealthServer{
		address:  address,
		probe:    probe,
		interval: defaultProbeInterval,
		health:   health.NewServer(),
		logger:   logger.With("module", "grpc_server"),
	}
}

// SetProbeInterval changes how often the probe runs. Non-positive values are ignored.
func (s *HealthServer) SetProbeInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *HealthServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is cancelled.
func (s *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)

	s.check(ctx)
	go s.watch(ctx)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}

func (s *HealthServer) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

func (s *HealthServer) check(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if s.probe != nil {
		if err := s.probe(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn(ctx, "health probe failed", "error", err)
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}
