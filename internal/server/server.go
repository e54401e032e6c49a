package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/danielpatrickdp/model-gate/internal/inference"
	"github.com/danielpatrickdp/model-gate/internal/logging"
	"github.com/danielpatrickdp/model-gate/internal/telemetry"
)

// #region options
const (
	defaultAddress  = ":5000"
	shutdownTimeout = 10 * time.Second

	// MaxBodySize caps request bodies; larger ones get 413.
	MaxBodySize = "1M"

	// HealthService is the gRPC health service name reported as SERVING.
	HealthService = "modelgate.Predictor"
)

// Options configures the serving process.
type Options struct {
	Engine      *inference.Engine // required, already loaded
	Metrics     *telemetry.Metrics
	InputDim    int    // 0 means the model's own dimensionality
	Address     string // HTTP listen address
	GRPCAddress string // gRPC health listen address, empty disables it
	Logger      *log.Logger
}

// #endregion options

// #region server
// Server exposes predict/healthz/metrics over HTTP and the standard gRPC
// health service. It only exists in the loaded state: New requires an engine.
type Server struct {
	echo     *echo.Echo
	grpc     *grpc.Server
	health   *health.Server
	engine   *inference.Engine
	metrics  *telemetry.Metrics
	inputDim int
	opts     Options
}

// New wires the handlers around an already loaded engine.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("server needs a loaded engine")
	}
	if opts.InputDim == 0 {
		opts.InputDim = opts.Engine.NumFeatures()
	}
	if opts.InputDim != opts.Engine.NumFeatures() {
		return nil, fmt.Errorf("input_dim %d does not match model n_features %d", opts.InputDim, opts.Engine.NumFeatures())
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard("serve")
	}
	if opts.Address == "" {
		opts.Address = defaultAddress
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger = opts.Logger
	e.Use(logRequests)
	e.Use(middleware.BodyLimit(MaxBodySize))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{
		echo:     e,
		grpc:     gs,
		health:   hs,
		engine:   opts.Engine,
		metrics:  opts.Metrics,
		inputDim: opts.InputDim,
		opts:     opts,
	}
	s.registerRoutes()
	return s, nil
}

// Echo exposes the HTTP application, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// ServeGRPC serves the health service on lis until Run shuts it down.
func (s *Server) ServeGRPC(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// #endregion server

// #region run
// Run starts the listeners and blocks until ctx is cancelled or one of them
// fails.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		errCh <- s.echo.Start(s.opts.Address)
	}()

	if s.opts.GRPCAddress != "" {
		lis, err := net.Listen("tcp", s.opts.GRPCAddress)
		if err != nil {
			s.shutdown()
			return fmt.Errorf("listen grpc %s: %w", s.opts.GRPCAddress, err)
		}
		go func() {
			errCh <- s.ServeGRPC(lis)
		}()
	}

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		s.shutdown()
		if isServerClosedError(err) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	}
}

func (s *Server) shutdown() error {
	s.health.Shutdown()
	s.grpc.GracefulStop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

func isServerClosedError(err error) bool {
	return err == nil ||
		errors.Is(err, http.ErrServerClosed) ||
		errors.Is(err, grpc.ErrServerStopped) ||
		errors.Is(err, net.ErrClosed)
}

// #endregion run
