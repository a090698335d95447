package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/openbuilders/loyalty-checkout/internal/health"
	"github.com/openbuilders/loyalty-checkout/internal/shop"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIHandler is a custom handler type that returns data or an error
type APIHandler func(w http.ResponseWriter, r *http.Request) (interface{}, error)

type Server struct {
	config     *Config
	shop       *shop.Service
	health     *health.Checker
	gatherer   prometheus.Gatherer
	httpServer *http.Server
	log        *slog.Logger
}

type Config struct {
	ListenAddr   string
	ListenPort   int
	MetricsPort  int
	ProbesPort   int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	ID           string
}

func NewServer(config *Config, service *shop.Service, checker *health.Checker,
	gatherer prometheus.Gatherer) *Server {

	return &Server{
		config:   config,
		shop:     service,
		health:   checker,
		gatherer: gatherer,
		log:      slog.With("pod", config.ID, "component", "web-server"),
		httpServer: &http.Server{
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}
}

// Handler returns the public API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.MethodNotAllowed(WithJSONResponse(methodNotAllowed))
	r.NotFound(WithJSONResponse(notFound))

	r.Route("/api", func(r chi.Router) {
		r.Get("/checkout", WithJSONResponse(s.MetadataHandler))
		r.Post("/checkout", WithJSONResponse(s.CreateCheckoutHandler))
		r.Get("/checkout/{reference}", WithJSONResponse(s.CheckoutStatusHandler))
		r.Get("/coupons/{account}", WithJSONResponse(s.CouponsHandler))
		r.Get("/products", WithJSONResponse(s.ProductsHandler))
	})

	return r
}

// ProbesHandler serves the liveness and readiness probes.
func (s *Server) ProbesHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", WithMethod(
		WithJSONResponse(s.HealthHandler),
		http.MethodGet,
	))
	mux.Handle("/ready", WithMethod(
		WithJSONResponse(s.ReadinessHandler),
		http.MethodGet,
	))
	return mux
}

func (s *Server) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) StartProbesAndMetrics(ctx context.Context) {
	go s.listen(ctx, "metrics", s.config.MetricsPort, s.MetricsHandler())
	go s.listen(ctx, "health probes", s.config.ProbesPort, s.ProbesHandler())
}

func (s *Server) listen(ctx context.Context, name string, port int, handler http.Handler) {
	s.log.Info("Serving "+name, "port", port)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: s.config.ReadTimeout,
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Error("HTTP listener failed", "listener", name, "error", err)
	}
}

// Start serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.StartProbesAndMetrics(ctx)

	s.httpServer.Handler = http.TimeoutHandler(s.Handler(), s.config.WriteTimeout,
		`{"error":"Timeout"}`)

	// Use ListenConfig to create a listener with context support
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.config.ListenAddr, s.config.ListenPort))
	if err != nil {
		return fmt.Errorf("error creating listener: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting server", "port", s.config.ListenPort)
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("could not start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("Server forced to shutdown", "error", err)
	}

	s.log.Info("Server exiting")
	return nil
}
