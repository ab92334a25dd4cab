// Package sqlstore is a gateway.Store over MySQL (or TiDB) for self-hosted
// deployments. Authentication, files and payments stay with other ports.
package sqlstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"

	"storefront/internal/gateway"
	"storefront/internal/model"
)

// tlsConfigName is the driver TLS profile registered for a custom CA.
const tlsConfigName = "storefront"

// Config holds the connection settings.
type Config struct {
	DSN string
	// CAFile is a PEM bundle for servers with a private CA (e.g. TiDB Cloud).
	CAFile       string
	MaxOpenConns int
}

// Store implements gateway.Store on a *sql.DB.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ gateway.Store = (*Store)(nil)

// Open connects, pings and creates missing tables.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	mc, err := driverConfig(cfg)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	s := New(db, logger)
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// New wraps an open database.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger, now: time.Now}
}

// driverConfig parses the DSN and forces the settings the store relies on.
func driverConfig(cfg Config) (*mysql.Config, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mysql DSN is required")
	}
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse mysql DSN: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	// Report matched rather than changed rows so idempotent updates still
	// count as found.
	mc.ClientFoundRows = true
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CAFile)
		}
		if err := mysql.RegisterTLSConfig(tlsConfigName, &tls.Config{RootCAs: pool, ServerName: hostOf(mc.Addr)}); err != nil {
			return nil, fmt.Errorf("register TLS config: %w", err)
		}
		mc.TLSConfig = tlsConfigName
	}
	return mc, nil
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return model.NewUpstreamError("mysql", err)
	}
	return nil
}

// ensureSchema creates the tables if they do not exist.
func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		category VARCHAR(100) NOT NULL DEFAULT '',
		image_url TEXT,
		tag VARCHAR(100),
		rating DECIMAL(3,1),
		description TEXT,
		variants JSON,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_products_active (active, created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS cart_items (
		id CHAR(36) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		variant_id VARCHAR(100) NOT NULL DEFAULT '',
		variant_index INT NOT NULL DEFAULT 0,
		quantity INT NOT NULL,
		line_no INT NOT NULL DEFAULT 0,
		INDEX idx_cart_user (user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS addresses (
		id CHAR(36) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		phone VARCHAR(32) NOT NULL,
		address TEXT NOT NULL,
		city VARCHAR(100),
		state VARCHAR(100),
		pincode VARCHAR(16) NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_addresses_user (user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id CHAR(36) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		status VARCHAR(32) NOT NULL,
		total_amount DECIMAL(12,2) NOT NULL,
		subtotal DECIMAL(12,2) NOT NULL,
		gst DECIMAL(12,2) NOT NULL,
		shipping_cost DECIMAL(12,2) NOT NULL,
		discount DECIMAL(12,2) NOT NULL DEFAULT 0,
		promo_code VARCHAR(64),
		shipping_address JSON NOT NULL,
		billing_address JSON NOT NULL,
		payment_method VARCHAR(64),
		payment_status VARCHAR(32) NOT NULL,
		payment_proof_url TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_orders_user (user_id, created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_id CHAR(36) NOT NULL,
		product_id VARCHAR(64),
		product_name VARCHAR(255) NOT NULL,
		variant_label VARCHAR(100),
		quantity INT NOT NULL,
		price DECIMAL(12,2) NOT NULL,
		INDEX idx_order_items_order (order_id)
	)`,
	`CREATE TABLE IF NOT EXISTS promo_codes (
		code VARCHAR(64) PRIMARY KEY,
		discount_percent DECIMAL(5,2) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		valid_from TIMESTAMP NULL,
		valid_through TIMESTAMP NULL
	)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		user_id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL DEFAULT '',
		phone VARCHAR(32) NOT NULL DEFAULT '',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS payment_logs (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_id CHAR(36) NOT NULL,
		stage VARCHAR(32) NOT NULL,
		status VARCHAR(32) NOT NULL,
		details JSON,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_payment_logs_order (order_id)
	)`,
}

func userID(ctx context.Context, action string) (string, error) {
	id, err := gateway.RequireUser(ctx, action)
	if err != nil {
		return "", err
	}
	return id.User.ID, nil
}

// dbError wraps a driver error as an upstream failure.
func dbError(op string, err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return model.NewUpstreamError("mysql", fmt.Errorf("%s: %w", op, err))
}
