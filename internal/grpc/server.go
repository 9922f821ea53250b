package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/weiawesome/wes-match-chat/pkg/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name the chat service reports health under.
const ServiceName = "chat.ChatService"

// ConnectionCounter reports the number of live chat connections.
type ConnectionCounter interface {
	Count() int
}

// Server exposes the standard gRPC health protocol for the chat process.
// The chat service is NOT_SERVING while it holds MaxConnections users, so
// load balancers can steer new clients elsewhere.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	counter  ConnectionCounter
	capacity int
}

// NewServer creates the gRPC server with logging interceptors.
func NewServer(counter ConnectionCounter, capacity int, logger zerolog.Logger) *Server {
	s := grpc.NewServer(
		grpc.UnaryInterceptor(log.UnaryServerInterceptor(logger)),
		grpc.StreamInterceptor(log.StreamServerInterceptor(logger)),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	srv := &Server{
		grpc:     s,
		health:   hs,
		counter:  counter,
		capacity: capacity,
	}
	srv.refresh()
	return srv
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.Serve(lis)
	return nil
}

// Serve serves on lis in the background.
func (s *Server) Serve(lis net.Listener) {
	go func() {
		l := log.L()
		l.Info().Str("address", lis.Addr().String()).Msg("chat grpc server listening")
		if err := s.grpc.Serve(lis); err != nil {
			l.Error().Err(err).Msg("grpc server error")
		}
	}()
}

// Watch refreshes the serving status every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

func (s *Server) refresh() {
	status := healthpb.HealthCheckResponse_SERVING
	if s.capacity > 0 && s.counter.Count() >= s.capacity {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// Stop marks every service as not serving and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
