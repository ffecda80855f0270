// Package grpcserver exposes the standard gRPC health service, reporting
// SERVING while the store answers pings.
package grpcserver

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is reported alongside the overall ("") status.
const ServiceName = "saldo"

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	addr     string
	lis      net.Listener
	Server   *grpc.Server
	health   *health.Server
	pinger   Pinger
	interval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds the server. A nil pinger always reports SERVING.
func New(addr string, pinger Pinger, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	return &Server{
		addr:     addr,
		Server:   s,
		health:   hs,
		pinger:   pinger,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve runs a first health check, starts the periodic checker and serves lis.
func (s *Server) Serve(lis net.Listener) error {
	s.lis = lis
	s.Refresh(context.Background())

	s.wg.Add(1)
	go s.watch()

	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.Server.Serve(lis)
}

// Refresh pings the store once and publishes the result.
func (s *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			slog.WarnContext(ctx, "Health check failed", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

func (s *Server) watch() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Refresh(context.Background())
		case <-s.stop:
			return
		}
	}
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		s.health.Shutdown()
		s.Server.GracefulStop()
		if s.lis != nil {
			_ = s.lis.Close()
		}
	})
}
