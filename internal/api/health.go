package api

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/sebas/softphone/internal/observe"
)

// HealthService is the service name reported alongside the overall ("") status.
const HealthService = "softphone"

// HealthServer publishes readiness over the standard gRPC health protocol:
// SERVING while ready, NOT_SERVING otherwise.
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server

	mu       sync.Mutex
	cancel   func()
	listener net.Listener
}

// NewHealthServer creates a health server that follows ready.
func NewHealthServer(ready observe.Reader[bool]) *HealthServer {
	h := &HealthServer{
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
	}
	healthpb.RegisterHealthServer(h.grpcServer, h.health)

	h.set(ready.Get())
	h.cancel = ready.Subscribe(h.set)
	return h
}

func (h *HealthServer) set(ready bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(HealthService, status)
	slog.Debug("[Health] Serving status", "status", status.String())
}

// Start listens on addr and serves in the background.
func (h *HealthServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	h.Serve(ln)
	return nil
}

// Serve serves on an existing listener in the background.
func (h *HealthServer) Serve(ln net.Listener) {
	h.mu.Lock()
	h.listener = ln
	h.mu.Unlock()

	slog.Info("[Health] gRPC health server listening", "addr", ln.Addr().String())
	go func() {
		if err := h.grpcServer.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			slog.Error("[Health] gRPC server error", "error", err)
		}
	}()
}

// Stop marks every service NOT_SERVING and stops the server.
func (h *HealthServer) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	h.health.Shutdown()
	h.grpcServer.GracefulStop()
}
