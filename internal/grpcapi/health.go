// Package grpcapi exposes the standard gRPC health service for the
// access-control backend.
package grpcapi

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/faredeal/accessctl/internal/accessctl/types"
)

// ServiceName is the health-check service name reported alongside the
// overall ("") status.
const ServiceName = "faredeal.accessctl.v1.AccessControl"

const defaultCheckInterval = 10 * time.Second

// Pinger is satisfied by *service.AccessControl.
type Pinger interface {
	Ping(ctx context.Context) types.PingResult
}

// HealthServer mirrors backend reachability into grpc.health.v1.
type HealthServer struct {
	grpc     *grpc.Server
	health   *health.Server
	pinger   Pinger
	logger   *zap.Logger
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

func NewHealthServer(p Pinger, logger *zap.Logger) *HealthServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	hs := &HealthServer{
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		pinger:   p,
		logger:   logger,
		interval: defaultCheckInterval,
		stop:     make(chan struct{}),
	}
	healthpb.RegisterHealthServer(hs.grpc, hs.health)
	hs.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

// Check pings the backend once and updates the reported status.
func (h *HealthServer) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if res := h.pinger.Ping(ctx); !res.Connected {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		h.logger.Warn("backend ping failed", zap.String("error", res.Error))
	}
	h.set(status)
	return status
}

// Serve runs the gRPC server on ln and refreshes health on an interval
// until Stop is called. The status stays NOT_SERVING until the first Check.
func (h *HealthServer) Serve(ln net.Listener) error {
	go h.loop()
	return h.grpc.Serve(ln)
}

// Stop marks the service NOT_SERVING and stops the server gracefully.
// Safe to call more than once.
func (h *HealthServer) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.health.Shutdown()
		h.grpc.GracefulStop()
	})
}

func (h *HealthServer) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.Check(context.Background())
		}
	}
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}
