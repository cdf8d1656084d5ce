// Package grpcapi exposes the standard grpc.health.v1 service so load
// balancers can probe the IVR engine without going through the carrier
// webhooks.
package grpcapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "compliantivr.IVR"

type Dependencies struct {
	Logger *slog.Logger
	Addr   string

	// Ready is polled every CheckInterval; an error flips the status to
	// NOT_SERVING until it recovers. Nil means always ready.
	Ready         func(ctx context.Context) error
	CheckInterval time.Duration
}

type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     *slog.Logger
	addr       string
	ready      func(ctx context.Context) error
	interval   time.Duration

	mu       sync.Mutex
	lis      net.Listener
	stopPoll context.CancelFunc
	closed   bool
	done     chan struct{}
}

func NewServer(d Dependencies) *Server {
	interval := d.CheckInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		grpcServer: gs,
		health:     hs,
		logger:     d.Logger,
		addr:       d.Addr,
		ready:      d.Ready,
		interval:   interval,
		done:       make(chan struct{}),
	}
}

// Health returns the underlying health server, mostly for tests.
func (s *Server) Health() *health.Server { return s.health }

// Listen binds the configured address. Start calls it when no listener is
// bound yet.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		return s.lis.Addr(), nil
	}
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, err
	}
	s.lis = lis
	return lis.Addr(), nil
}

// Start serves until Shutdown. It blocks like http.Server.ListenAndServe.
func (s *Server) Start() error {
	if _, err := s.Listen(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.stopPoll = cancel
	lis := s.lis
	s.mu.Unlock()

	s.refresh(ctx)
	go s.poll(ctx)

	err := s.grpcServer.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

func (s *Server) poll(ctx context.Context) {
	defer close(s.done)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.refresh(ctx)
		}
	}
}

// refresh sets both the overall and the named service status from Ready.
func (s *Server) refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.ready != nil {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.ready(checkCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("readiness check failed", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Shutdown marks every service NOT_SERVING so watchers drain, then stops
// gracefully or hard-stops when ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	s.mu.Lock()
	s.closed = true
	cancel := s.stopPoll
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-s.done
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.grpcServer.Stop()
		return ctx.Err()
	}
}
