package main

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthFollowsWidgetReloads(t *testing.T) {
	t.Parallel()
	app, _ := newTestServer(t)

	s, err := newGRPCServer(app)
	require.NoError(t, err)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: healthService})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())

	app.notifier.NotifyReloadFailed("w1", errors.New("store down"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
	_, lastErr := app.notifier.status("w1")
	assert.EqualError(t, lastErr, "store down")

	app.notifier.NotifyViewDataChanged("w1", "stack")
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())
	version, lastErr := app.notifier.status("w1")
	assert.Equal(t, uint64(1), version)
	assert.NoError(t, lastErr)
}
