// Package config handles loading and validation of service configuration.
// Supports both development (env vars or CONFIG_FILE) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/shopspring/decimal"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Backend choices.
const (
	BackendSupabase   = "supabase"
	BackendMySQL      = "mysql"
	BackendCloudinary = "cloudinary"
	BackendMemory     = "memory"
	BackendRedis      = "redis"
)

// Config holds all service configuration.
// Environment determines whether secrets load from env vars (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string
	StoreID    string

	// Backends per port. Auth and payments always use the hosted backend.
	StoreBackend   string
	FilesBackend   string
	DurableBackend string
	TLSMode        string // "standard" or "chrome"

	// MinClientVersion rejects Storefront-Client versions below it when set.
	MinClientVersion string

	SessionIdleTTL time.Duration
	CatalogMaxAge  time.Duration
	ReadyAttempts  int
	ReadyInterval  time.Duration

	Secrets Secrets
	Store   StoreProfile
}

// Secrets are the backend credentials. In production they are loaded from
// Secret Manager as JSON.
type Secrets struct {
	SupabaseURL   string `json:"supabase_url"`
	AnonKey       string `json:"anon_key"`
	ServiceKey    string `json:"service_key,omitempty"`
	JWTSecret     string `json:"jwt_secret,omitempty"`
	CloudinaryURL string `json:"cloudinary_url,omitempty"`
	MySQLDSN      string `json:"mysql_dsn,omitempty"`
	MySQLCAFile   string `json:"mysql_ca_file,omitempty"`
	RedisURL      string `json:"redis_url,omitempty"`
}

// StoreProfile is what the storefront charges and shows at checkout.
type StoreProfile struct {
	Name          string          `json:"name"`
	UPIID         string          `json:"upi_id"`
	Currency      string          `json:"currency"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	ShippingFee   decimal.Decimal `json:"shipping_fee"`
	ProofMaxBytes int64           `json:"proof_max_bytes"`
	DraftTTL      time.Duration   `json:"-"`
	// ReturnURL is where the payment gateway sends the shopper back.
	ReturnURL string `json:"return_url"`
}

func defaultProfile() StoreProfile {
	return StoreProfile{
		Currency:      "INR",
		TaxRate:       decimal.RequireFromString("0.18"),
		ShippingFee:   decimal.NewFromInt(50),
		ProofMaxBytes: 5 << 20,
		DraftTTL:      24 * time.Hour,
	}
}

func defaults() *Config {
	return &Config{
		Port:           "8080",
		Environment:    "development",
		LogLevel:       "info",
		StoreBackend:   BackendSupabase,
		FilesBackend:   BackendSupabase,
		DurableBackend: BackendMemory,
		TLSMode:        "standard",
		SessionIdleTTL: 2 * time.Hour,
		CatalogMaxAge:  5 * time.Minute,
		ReadyAttempts:  10,
		ReadyInterval:  200 * time.Millisecond,
		Store:          defaultProfile(),
	}
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars, with secrets from Secret Manager in production.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := defaults()
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	// StoreID required in all environments
	if cfg.StoreID == "" {
		return nil, fmt.Errorf("STORE_ID environment variable required")
	}

	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if err := cfg.loadFromSecretManager(ctx); err != nil {
			return nil, fmt.Errorf("loading backend secrets: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fileConfig mirrors the JSON/YAML layout of CONFIG_FILE. Durations are
// strings such as "24h"; amounts may be numbers or strings.
type fileConfig struct {
	Port             string  `json:"port"`
	Environment      string  `json:"environment"`
	LogLevel         string  `json:"log_level"`
	StoreID          string  `json:"store_id"`
	StoreBackend     string  `json:"store_backend"`
	FilesBackend     string  `json:"files_backend"`
	DurableBackend   string  `json:"durable_backend"`
	TLSMode          string  `json:"tls_mode"`
	MinClientVersion string  `json:"min_client_version"`
	SessionIdleTTL   string  `json:"session_idle_ttl"`
	CatalogMaxAge    string  `json:"catalog_max_age"`
	ReadyAttempts    int     `json:"ready_attempts"`
	ReadyInterval    string  `json:"ready_interval"`
	Secrets          Secrets `json:"secrets"`
	Store            struct {
		StoreProfile
		DraftTTL string `json:"draft_ttl"`
	} `json:"store"`
}

// loadFromFile reads all configuration from a JSON or YAML file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		// Normalize to JSON so both formats share one set of field tags.
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	fc := fileConfig{}
	fc.Store.StoreProfile = defaultProfile()
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := defaults()
	cfg.Port = withDefault(fc.Port, cfg.Port)
	cfg.Environment = withDefault(fc.Environment, cfg.Environment)
	cfg.LogLevel = withDefault(fc.LogLevel, cfg.LogLevel)
	cfg.StoreID = fc.StoreID
	cfg.StoreBackend = withDefault(fc.StoreBackend, cfg.StoreBackend)
	cfg.FilesBackend = withDefault(fc.FilesBackend, cfg.FilesBackend)
	cfg.DurableBackend = withDefault(fc.DurableBackend, cfg.DurableBackend)
	cfg.TLSMode = withDefault(fc.TLSMode, cfg.TLSMode)
	cfg.MinClientVersion = fc.MinClientVersion
	cfg.Secrets = fc.Secrets
	cfg.Store = fc.Store.StoreProfile
	if fc.ReadyAttempts != 0 {
		cfg.ReadyAttempts = fc.ReadyAttempts
	}

	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"session_idle_ttl", fc.SessionIdleTTL, &cfg.SessionIdleTTL},
		{"catalog_max_age", fc.CatalogMaxAge, &cfg.CatalogMaxAge},
		{"ready_interval", fc.ReadyInterval, &cfg.ReadyInterval},
		{"store.draft_ttl", fc.Store.DraftTTL, &cfg.Store.DraftTTL},
	} {
		if err := parseDuration(d.name, d.raw, d.dst); err != nil {
			return nil, err
		}
	}

	if cfg.StoreID == "" {
		return nil, fmt.Errorf("store_id is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// parseDuration leaves dst unchanged when raw is empty.
func parseDuration(name, raw string, dst *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	*dst = d
	return nil
}

// loadFromSecretManager fetches backend secrets from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{store_id}/versions/latest
// Non-empty secret fields override values from the environment.
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.StoreID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	var s Secrets
	if err := json.Unmarshal(result.Payload.Data, &s); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	c.Secrets = c.Secrets.merge(s)
	return nil
}

func (s Secrets) merge(o Secrets) Secrets {
	s.SupabaseURL = withDefault(o.SupabaseURL, s.SupabaseURL)
	s.AnonKey = withDefault(o.AnonKey, s.AnonKey)
	s.ServiceKey = withDefault(o.ServiceKey, s.ServiceKey)
	s.JWTSecret = withDefault(o.JWTSecret, s.JWTSecret)
	s.CloudinaryURL = withDefault(o.CloudinaryURL, s.CloudinaryURL)
	s.MySQLDSN = withDefault(o.MySQLDSN, s.MySQLDSN)
	s.MySQLCAFile = withDefault(o.MySQLCAFile, s.MySQLCAFile)
	s.RedisURL = withDefault(o.RedisURL, s.RedisURL)
	return s
}

// loadFromEnv reads configuration from individual environment variables.
func (c *Config) loadFromEnv() error {
	c.Port = envOrDefault("PORT", c.Port)
	c.Environment = envOrDefault("ENVIRONMENT", c.Environment)
	c.LogLevel = envOrDefault("LOG_LEVEL", c.LogLevel)
	c.GCPProject = os.Getenv("GCP_PROJECT")
	c.StoreID = os.Getenv("STORE_ID")
	c.StoreBackend = envOrDefault("STORE_BACKEND", c.StoreBackend)
	c.FilesBackend = envOrDefault("FILES_BACKEND", c.FilesBackend)
	c.DurableBackend = envOrDefault("DURABLE_BACKEND", c.DurableBackend)
	c.TLSMode = envOrDefault("UPSTREAM_TLS_MODE", c.TLSMode)
	c.MinClientVersion = os.Getenv("MIN_CLIENT_VERSION")

	c.Secrets = Secrets{
		SupabaseURL:   os.Getenv("SUPABASE_URL"),
		AnonKey:       os.Getenv("SUPABASE_ANON_KEY"),
		ServiceKey:    os.Getenv("SUPABASE_SERVICE_KEY"),
		JWTSecret:     os.Getenv("SUPABASE_JWT_SECRET"),
		CloudinaryURL: os.Getenv("CLOUDINARY_URL"),
		MySQLDSN:      os.Getenv("MYSQL_DSN"),
		MySQLCAFile:   os.Getenv("MYSQL_CA_FILE"),
		RedisURL:      os.Getenv("REDIS_URL"),
	}

	c.Store.Name = os.Getenv("STORE_NAME")
	c.Store.UPIID = os.Getenv("STORE_UPI_ID")
	c.Store.Currency = envOrDefault("STORE_CURRENCY", c.Store.Currency)
	c.Store.ReturnURL = os.Getenv("PAYMENT_RETURN_URL")

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"SESSION_IDLE_TTL", &c.SessionIdleTTL},
		{"CATALOG_MAX_AGE", &c.CatalogMaxAge},
		{"READY_INTERVAL", &c.ReadyInterval},
		{"CHECKOUT_DRAFT_TTL", &c.Store.DraftTTL},
	} {
		if err := parseDuration(d.key, os.Getenv(d.key), d.dst); err != nil {
			return err
		}
	}
	for _, a := range []struct {
		key string
		dst *decimal.Decimal
	}{
		{"TAX_RATE", &c.Store.TaxRate},
		{"SHIPPING_FEE", &c.Store.ShippingFee},
	} {
		if raw := os.Getenv(a.key); raw != "" {
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", a.key, raw, err)
			}
			*a.dst = v
		}
	}
	if raw := os.Getenv("READY_ATTEMPTS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid READY_ATTEMPTS %q: %w", raw, err)
		}
		c.ReadyAttempts = n
	}
	if raw := os.Getenv("PROOF_MAX_BYTES"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid PROOF_MAX_BYTES %q: %w", raw, err)
		}
		c.Store.ProofMaxBytes = n
	}
	return nil
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	// Auth and payments always go to the hosted backend.
	if c.Secrets.SupabaseURL == "" {
		return fmt.Errorf("supabase_url is required")
	}
	if u, err := url.Parse(c.Secrets.SupabaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid supabase_url %q", c.Secrets.SupabaseURL)
	}
	if c.Secrets.AnonKey == "" {
		return fmt.Errorf("anon_key is required")
	}

	switch c.StoreBackend {
	case BackendSupabase:
	case BackendMySQL:
		if c.Secrets.MySQLDSN == "" {
			return fmt.Errorf("mysql_dsn is required for the mysql store backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q (supabase or mysql)", c.StoreBackend)
	}

	switch c.FilesBackend {
	case BackendSupabase:
	case BackendCloudinary:
		if c.Secrets.CloudinaryURL == "" {
			return fmt.Errorf("cloudinary_url is required for the cloudinary files backend")
		}
	default:
		return fmt.Errorf("unknown files backend %q (supabase or cloudinary)", c.FilesBackend)
	}

	switch c.DurableBackend {
	case BackendMemory:
	case BackendRedis:
		if c.Secrets.RedisURL == "" {
			return fmt.Errorf("redis_url is required for the redis durable backend")
		}
	default:
		return fmt.Errorf("unknown durable backend %q (memory or redis)", c.DurableBackend)
	}

	if c.TLSMode != "standard" && c.TLSMode != "chrome" {
		return fmt.Errorf("unknown tls mode %q (standard or chrome)", c.TLSMode)
	}
	if c.MinClientVersion != "" && !semver.IsValid(c.MinClientVersion) {
		return fmt.Errorf("min_client_version %q is not a semantic version like v1.2.0", c.MinClientVersion)
	}

	if c.Store.Name == "" {
		return fmt.Errorf("store name is required")
	}
	if c.Store.UPIID == "" {
		return fmt.Errorf("store upi_id is required")
	}
	if c.Store.TaxRate.IsNegative() || c.Store.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("tax_rate must be between 0 and 1")
	}
	if c.Store.ShippingFee.IsNegative() {
		return fmt.Errorf("shipping_fee must not be negative")
	}
	if c.Store.ProofMaxBytes <= 0 {
		return fmt.Errorf("proof_max_bytes must be positive")
	}
	if c.Store.DraftTTL <= 0 {
		return fmt.Errorf("checkout draft ttl must be positive")
	}
	if c.ReadyAttempts <= 0 || c.ReadyInterval <= 0 {
		return fmt.Errorf("readiness attempts and interval must be positive")
	}
	return nil
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
