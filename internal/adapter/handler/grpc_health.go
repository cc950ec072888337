package handler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName is reported alongside the overall ("") status.
const HealthServiceName = "storefront.Storefront"

const pingTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthReporter drives a grpc health server from periodic dependency pings.
type HealthReporter struct {
	server   *health.Server
	checks   []Pinger
	interval time.Duration
	logger   *zap.Logger
}

func NewHealthReporter(server *health.Server, interval time.Duration, logger *zap.Logger, checks ...Pinger) *HealthReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthReporter{server: server, checks: checks, interval: interval, logger: logger}
}

// Check pings every dependency once and publishes the result.
func (r *HealthReporter) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for _, check := range r.checks {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := check.Ping(pingCtx)
		cancel()
		if err != nil {
			r.logger.Warn("health check failed", zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
			break
		}
	}

	r.server.SetServingStatus("", status)
	r.server.SetServingStatus(HealthServiceName, status)
	return status
}

// Run checks immediately and then on every interval until ctx is done, at
// which point all services are marked NOT_SERVING.
func (r *HealthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			r.server.Shutdown()
			return
		case <-ticker.C:
			r.Check(ctx)
		}
	}
}
