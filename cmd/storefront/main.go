// Storefront - cart, catalog and checkout core of a small online store.
// Designed for Cloud Run deployment in front of a hosted backend.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/cloudinary"
	"storefront/internal/config"
	"storefront/internal/dashboard"
	"storefront/internal/durable"
	"storefront/internal/gateway"
	"storefront/internal/handler"
	"storefront/internal/middleware"
	"storefront/internal/ready"
	"storefront/internal/sqlstore"
	"storefront/internal/supabase"
)

// sweepInterval spaces the eviction passes over idle sessions.
const sweepInterval = 10 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Initialize structured logger
	logger := initLogger()

	// Load configuration
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Info("configuration loaded",
		slog.String("store_id", cfg.StoreID),
		slog.String("environment", cfg.Environment),
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("files_backend", cfg.FilesBackend),
		slog.String("durable_backend", cfg.DurableBackend),
	)

	backend, closeBackend, err := createBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating backend: %w", err)
	}
	defer closeBackend()

	store, closeDurable, err := createDurable(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating durable store: %w", err)
	}
	defer closeDurable()

	// Requests are served at once; operations that need the backend wait
	// for this gate.
	gate := ready.NewGate("backend")
	gate.Start(ctx, logger, backend.Ping, cfg.ReadyAttempts, cfg.ReadyInterval)

	pricing := cart.Pricing{TaxRate: cfg.Store.TaxRate, ShippingFee: cfg.Store.ShippingFee}
	readyWait := time.Duration(cfg.ReadyAttempts) * cfg.ReadyInterval
	products := catalog.New(backend, logger, catalog.WithMaxAge(cfg.CatalogMaxAge))
	carts := cart.NewRegistry(cart.Deps{
		Remote:    backend,
		Products:  products,
		Pricing:   pricing,
		Ready:     gate,
		ReadyWait: readyWait,
		Logger:    logger,
	})
	checkouts := checkout.NewRegistry(checkout.Deps{
		Store:    backend,
		Files:    backend,
		Payments: backend,
		Durable:  store,
		Pricing:  pricing,
		Ready:    gate,
		Config: checkout.Config{
			StoreName:     cfg.Store.Name,
			UPIID:         cfg.Store.UPIID,
			Currency:      cfg.Store.Currency,
			ProofMaxBytes: cfg.Store.ProofMaxBytes,
			DraftTTL:      cfg.Store.DraftTTL,
			ReturnURL:     cfg.Store.ReturnURL,
			ReadyWait:     readyWait,
		},
		Logger: logger,
	}, carts)
	go carts.Run(ctx, sweepInterval, cfg.SessionIdleTTL)
	go checkouts.Run(ctx, sweepInterval, cfg.SessionIdleTTL)

	h := handler.New(handler.Deps{
		Backend:       backend,
		Catalog:       products,
		Carts:         carts,
		Checkouts:     checkouts,
		Dashboard:     dashboard.NewService(backend, store, logger),
		Ready:         gate,
		ProofMaxBytes: cfg.Store.ProofMaxBytes,
		Logger:        logger,
	})

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: recovery → logging → client → auth → handler
	// Recovery must be outermost to catch panics from logging middleware
	// Auth runs after the client header is parsed so it can attach the cart
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.Logging(logger),
		middleware.ClientSession(cfg.MinClientVersion, logger),
		middleware.Auth(backend, h.ObserveIdentity, logger),
	)(mux)

	// Create HTTP server with timeouts. No write timeout: cart event
	// streams stay open.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel for server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		stop()

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// createBackend composes the remote ports from configuration. Auth and
// payments are always hosted; the relational store and proof storage can
// be swapped.
func createBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (gateway.Backend, func(), error) {
	hosted, err := supabase.New(supabase.Config{
		URL:        cfg.Secrets.SupabaseURL,
		AnonKey:    cfg.Secrets.AnonKey,
		ServiceKey: cfg.Secrets.ServiceKey,
		JWTSecret:  cfg.Secrets.JWTSecret,
		TLSMode:    cfg.TLSMode,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {}

	var store gateway.Store = hosted
	switch cfg.StoreBackend {
	case config.BackendSupabase:
	case config.BackendMySQL:
		db, err := sqlstore.Open(ctx, sqlstore.Config{
			DSN:    cfg.Secrets.MySQLDSN,
			CAFile: cfg.Secrets.MySQLCAFile,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		store = db
		closer = func() { db.Close() }
	default:
		return nil, nil, fmt.Errorf("unsupported store backend: %s", cfg.StoreBackend)
	}

	var files gateway.Files = hosted
	switch cfg.FilesBackend {
	case config.BackendSupabase:
	case config.BackendCloudinary:
		up, err := cloudinary.New(cfg.Secrets.CloudinaryURL, cloudinary.DefaultFolder, logger)
		if err != nil {
			closer()
			return nil, nil, err
		}
		files = up
	default:
		closer()
		return nil, nil, fmt.Errorf("unsupported files backend: %s", cfg.FilesBackend)
	}

	return gateway.Compose(hosted, store, files, hosted), closer, nil
}

// createDurable returns the store for checkout progress and admin settings.
func createDurable(ctx context.Context, cfg *config.Config) (durable.Store, func(), error) {
	switch cfg.DurableBackend {
	case config.BackendMemory:
		return durable.NewMemory(), func() {}, nil
	case config.BackendRedis:
		r, err := durable.NewRedis(ctx, cfg.Secrets.RedisURL, cfg.StoreID+":")
		if err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported durable backend: %s", cfg.DurableBackend)
	}
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	if os.Getenv("ENVIRONMENT") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
