// Package grpcapi exposes the coordinator's health over the standard gRPC
// health protocol.
package grpcapi

import (
	"net"
	"sync"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ai-stream-fusion-service/internal/observability"
	"ai-stream-fusion-service/internal/observability/metrics"
)

// ServiceName is the health service name reporting stream health.
const ServiceName = "aifusion.Coordinator"

// Server is a gRPC server carrying the health service. The overall ("")
// status follows process liveness; ServiceName follows stream health.
type Server struct {
	grpc   *grpc.Server
	health *health.Server

	mu      sync.Mutex
	serving bool
	set     bool
}

// NewServer creates the gRPC server with logging and metrics interceptors.
func NewServer(m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	g := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	h := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, h)
	h.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	h.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	return &Server{grpc: g, health: h}
}

// SetServing updates the coordinator health status. Only transitions are
// forwarded to the health server.
func (s *Server) SetServing(serving bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set && s.serving == serving {
		return
	}
	s.set = true
	s.serving = serving

	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	log.Info().Str("service", ServiceName).Str("status", status.String()).Msg("Health status changed")
}

// Serve serves on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	log.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC server")
	return s.grpc.Serve(lis)
}

// Stop marks everything not serving and stops gracefully.
func (s *Server) Stop() {
	log.Info().Msg("Shutting down gRPC server")
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
