package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Domenick1991/bookingcore/config"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

// ServiceName is the name reported by the gRPC health service.
const ServiceName = "bookingcore.Bookings"

type Servers struct {
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	conn       *grpc.ClientConn
	logger     zerolog.Logger
}

// Run starts the gRPC health server and the HTTP server (booking API, gateway
// healthz, metrics and swagger) and blocks until ctx is canceled or a server fails.
func Run(ctx context.Context, cfg *config.Config, api http.Handler, logger zerolog.Logger) error {
	s, err := NewServers(cfg, api, logger)
	if err != nil {
		return err
	}
	defer s.conn.Close()

	lis, err := net.Listen("tcp", cfg.GRPC.Address)
	if err != nil {
		return fmt.Errorf("listen gRPC %s: %w", cfg.GRPC.Address, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().Str("address", cfg.GRPC.Address).Msg("gRPC server listening")
		return s.grpcServer.Serve(lis)
	})
	g.Go(func() error {
		s.logger.Info().Str("address", cfg.HTTP.Address).Msg("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown()
	})

	return g.Wait()
}

func NewServers(cfg *config.Config, api http.Handler, logger zerolog.Logger) (*Servers, error) {
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	conn, err := grpc.NewClient(dialTarget(cfg.GRPC.Address), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial gRPC %s: %w", cfg.GRPC.Address, err)
	}

	gateway := runtime.NewServeMux(
		runtime.WithHealthzEndpoint(healthpb.NewHealthClient(conn)),
		runtime.WithMarshalerOption(runtime.MIMEWildcard, &runtime.JSONPb{
			MarshalOptions:   protojson.MarshalOptions{UseProtoNames: true, EmitUnpopulated: true},
			UnmarshalOptions: protojson.UnmarshalOptions{DiscardUnknown: true},
		}),
	)

	handler := http.NewServeMux()
	handler.Handle("/api/", api)
	handler.Handle("/healthz", gateway)
	handler.Handle("/metrics", promhttp.Handler())

	if cfg.HTTP.SwaggerDir != "" {
		fs := http.FileServer(http.Dir(cfg.HTTP.SwaggerDir))
		handler.Handle("/swagger/", http.StripPrefix("/swagger/", fs))
		handler.Handle("/docs/", httpSwagger.Handler(httpSwagger.URL("/swagger/bookings.swagger.json")))
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Servers{
		grpcServer: grpcSrv,
		health:     healthSrv,
		httpServer: httpSrv,
		conn:       conn,
		logger:     logger,
	}, nil
}

func (s *Servers) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Servers) GRPC() *grpc.Server {
	return s.grpcServer
}

// Shutdown reports NOT_SERVING first so load balancers drain before the
// listeners close.
func (s *Servers) Shutdown() error {
	s.health.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.grpcServer.GracefulStop()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info().Msg("servers stopped")
	return nil
}

// dialTarget turns a listen address like ":8081" into something a client can dial.
func dialTarget(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
