package igrpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall "" status.
const ServiceName = "allies.v1.AlliesService"

const defaultProbeInterval = 10 * time.Second

// PingFunc checks a dependency the service cannot run without.
type PingFunc func(ctx context.Context) error

// HealthProbe keeps a health.Server in step with a PingFunc.
type HealthProbe struct {
	health   *health.Server
	ping     PingFunc
	interval time.Duration
	logger   *slog.Logger
}

func NewHealthProbe(ping PingFunc, logger *slog.Logger) *HealthProbe {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthProbe{
		health:   health.NewServer(),
		ping:     ping,
		interval: defaultProbeInterval,
		logger:   logger,
	}
}

func (p *HealthProbe) Server() *health.Server { return p.health }

// Check runs ping once and records the result.
func (p *HealthProbe) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if p.ping != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := p.ping(pingCtx); err != nil {
			p.logger.Warn("health probe failed", "err", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	p.health.SetServingStatus("", status)
	p.health.SetServingStatus(ServiceName, status)
	return status
}

// Run checks on every interval until ctx is done, then marks the service as
// shutting down.
func (p *HealthProbe) Run(ctx context.Context) {
	p.Check(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.health.Shutdown()
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

func StartGRPCServer(ctx context.Context, addr string, ping PingFunc, logger *slog.Logger) (*grpc.Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	probe := NewHealthProbe(ping, logger)
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, probe.Server())

	go probe.Run(ctx)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("gRPC server error", "err", err)
		}
	}()

	return srv, nil
}
