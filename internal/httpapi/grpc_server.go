package httpapi

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"votechain.org/internal/obs"
)

// HealthServer implements grpc.health.v1.Health on top of the readiness probe.
type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer

	readiness ReadinessChecker
}

func NewHealthServer(r ReadinessChecker) *HealthServer {
	if r == nil {
		r = ReadyProbe{}
	}
	return &HealthServer{readiness: r}
}

// Check answers for the whole server ("") and for serviceName.
func (s *HealthServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != serviceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}, nil
	}
	obs.SetReady(true)
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
}
