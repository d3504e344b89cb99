package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the gRPC health service name reported alongside "".
const ServiceName = "docextract.v1.Extractor"

// NewGRPCServer returns a server exposing health and reflection.
func NewGRPCServer() (*grpc.Server, *health.Server) {
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	// empty string means overall server health
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)
	return grpcServer, healthServer
}

// Servers is the pair docextractd runs side by side.
type Servers struct {
	HTTP     *http.Server
	HTTPLis  net.Listener
	GRPC     *grpc.Server
	GRPCLis  net.Listener
	Health   *health.Server
	Shutdown time.Duration
}

// Serve runs both servers until ctx is done or one fails, then stops both.
func Serve(ctx context.Context, s Servers, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if s.Shutdown <= 0 {
		s.Shutdown = 10 * time.Second
	}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http listening", "addr", s.HTTPLis.Addr().String())
		if err := s.HTTP.Serve(s.HTTPLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc listening", "addr", s.GRPCLis.Addr().String())
		return s.GRPC.Serve(s.GRPCLis)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down servers")
		if s.Health != nil {
			s.Health.Shutdown()
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Shutdown)
		defer cancel()
		err := s.HTTP.Shutdown(sctx)
		s.GRPC.GracefulStop()
		return err
	})
	return g.Wait()
}
