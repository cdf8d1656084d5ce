package grpcapi_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/tetrixcorps/compliantivr/internal/grpcapi"
)

func newTestServer(t *testing.T, ready func(context.Context) error) (*grpcapi.Server, healthpb.HealthClient) {
	t.Helper()
	srv := grpcapi.NewServer(grpcapi.Dependencies{
		Logger:        slog.New(slog.DiscardHandler),
		Addr:          "127.0.0.1:0",
		Ready:         ready,
		CheckInterval: 20 * time.Millisecond,
	})
	addr, err := srv.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Start() }()

	conn, err := grpc.NewClient(addr.String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, healthpb.NewHealthClient(conn)
}

// waitFor polls Check until the service reports want or the deadline passes.
func waitFor(t *testing.T, c healthpb.HealthClient, service string, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last healthpb.HealthCheckResponse_ServingStatus
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		cancel()
		if err == nil {
			last = resp.GetStatus()
			if last == want {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("service %q status = %v, want %v", service, last, want)
}

func TestHealth_ServingWhenReady(t *testing.T) {
	_, c := newTestServer(t, nil)
	waitFor(t, c, "", healthpb.HealthCheckResponse_SERVING)
	waitFor(t, c, grpcapi.ServiceName, healthpb.HealthCheckResponse_SERVING)
}

func TestHealth_FollowsReadiness(t *testing.T) {
	var down atomic.Bool
	_, c := newTestServer(t, func(context.Context) error {
		if down.Load() {
			return errors.New("db ping failed")
		}
		return nil
	})
	waitFor(t, c, grpcapi.ServiceName, healthpb.HealthCheckResponse_SERVING)

	down.Store(true)
	waitFor(t, c, grpcapi.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	down.Store(false)
	waitFor(t, c, grpcapi.ServiceName, healthpb.HealthCheckResponse_SERVING)
}

func TestHealth_ShutdownMarksNotServing(t *testing.T) {
	srv, c := newTestServer(t, nil)
	waitFor(t, c, "", healthpb.HealthCheckResponse_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	resp, err := srv.Health().Check(context.Background(), &healthpb.HealthCheckRequest{Service: grpcapi.ServiceName})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status after shutdown = %v", resp.GetStatus())
	}
}
