package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mhbvr/gallery/logging"
)

var configPath = flag.String("config", "", "Path to the config file (yaml, toml or json)")

func main() {
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}
	logging.SetupLog("GalleryServer", cfg.Verbose)
	logger := log.WithField("component", "server")

	tracez, cleanup, err := initializeTracing(cfg.Tracing.Service, cfg.Tracing.SampleRatio)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize tracing")
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()

	app, err := NewApp(ctx, cfg, reg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create app")
	}
	defer app.Close()

	grpcServer, err := newGRPCServer(app)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create gRPC server")
	}
	// go-grpc-prometheus and the Go runtime collectors live in the default
	// registry
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: SetupServer(app, reg, prometheus.Gatherers{reg, prometheus.DefaultGatherer}, tracez),
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.WithError(err).Fatal("Failed to listen")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", lis.Addr().String()).Info("gRPC server listening")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server stopped")
	}
}
