package server

import (
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthServer is the gRPC health endpoint used by orchestration probes.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

func NewHealthServer(logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	// Reflection for grpcurl
	reflection.Register(gs)
	return &HealthServer{grpc: gs, health: hs, logger: logger}
}

// SetServing flips the overall serving status.
func (s *HealthServer) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
}

// Serve blocks until the listener fails or Stop is called.
func (s *HealthServer) Serve(lis net.Listener) error {
	s.logger.Info("grpc health serving", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
