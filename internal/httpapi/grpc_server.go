package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"ascms.org/internal/obs"
)

// HealthServer implements grpc.health.v1.Health on top of the readiness probe.
type HealthServer struct {
	healthpb.UnimplementedHealthServer

	readiness ReadinessChecker
}

func NewHealthServer(r ReadinessChecker) *HealthServer {
	if r == nil {
		r = ReadyProbe{}
	}
	return &HealthServer{readiness: r}
}

// Check answers for the empty service name and for serviceName only.
func (s *HealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != serviceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	obs.SetReady(true)
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// NewGRPCServer returns a server with the health service registered.
func NewGRPCServer(r ReadinessChecker, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(logUnary))
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, NewHealthServer(r))
	return srv
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	obs.LogRequest(map[string]any{
		"ts":          start.UTC().Format(time.RFC3339Nano),
		"type":        "grpc",
		"level":       "info",
		"msg":         "rpc_complete",
		"method":      info.FullMethod,
		"code":        status.Code(err).String(),
		"duration_ms": float64(time.Since(start).Microseconds()) / 1000,
	})
	return resp, err
}
