package main

import (
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/channelz/service"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/orca"
)

// newGRPCServer serves the operational gRPC surface: health of the widget
// reloads, channelz and ORCA out-of-band load reports.
func newGRPCServer(app *App) (*grpc.Server, error) {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	)

	healthpb.RegisterHealthServer(s, app.health)

	// Register Channelz service for gRPC debugging and monitoring
	service.RegisterChannelzServiceToServer(s)

	if err := orca.Register(s, orca.ServiceOptions{
		ServerMetricsProvider: app.load.ServerMetricsProvider(),
	}); err != nil {
		return nil, err
	}

	grpc_prometheus.Register(s)
	grpc_prometheus.EnableHandlingTimeHistogram()
	return s, nil
}
