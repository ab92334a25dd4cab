// Package supabase implements every gateway port against a hosted Supabase
// project: auth (/auth/v1), PostgREST tables (/rest/v1), storage
// (/storage/v1) and edge functions (/functions/v1).
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"storefront/internal/gateway"
	"storefront/internal/model"
	"storefront/internal/transport"
)

// Table and resource names.
const (
	tableProducts    = "products"
	tableCart        = "cart"
	tableAddresses   = "addresses"
	tableOrders      = "orders"
	tableOrderItems  = "order_items"
	tablePromoCodes  = "promo_codes"
	tablePaymentLogs = "payment_logs"
	tableProfiles    = "profiles"

	defaultProofBucket      = "order_proofs"
	defaultCheckoutFunction = "phonepe-checkout"
	defaultVerifyFunction   = "phonepe-verify"
)

// PostgREST error code for a .single() lookup that matched no row.
const codeNoRows = "PGRST116"

// Config holds the project settings.
type Config struct {
	URL string
	// AnonKey is the public API key sent with every request.
	AnonKey string
	// ServiceKey authorizes admin queries across all users. Optional.
	ServiceKey string
	// JWTSecret verifies access tokens locally. Without it GetUser asks
	// the auth server.
	JWTSecret        string
	ProofBucket      string
	CheckoutFunction string
	VerifyFunction   string
	TLSMode          string
	Timeout          time.Duration
}

// Client talks to one Supabase project.
type Client struct {
	httpClient *http.Client
	baseURL    string
	anonKey    string
	serviceKey string
	bucket     string
	checkoutFn string
	verifyFn   string
	verifier   *TokenVerifier
	logger     *slog.Logger
	now        func() time.Time
}

var _ gateway.Backend = (*Client)(nil)

// New creates a client from cfg.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.AnonKey == "" {
		return nil, fmt.Errorf("supabase anon key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		httpClient: transport.NewClient(cfg.TLSMode, timeout),
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		anonKey:    cfg.AnonKey,
		serviceKey: cfg.ServiceKey,
		bucket:     orDefault(cfg.ProofBucket, defaultProofBucket),
		checkoutFn: orDefault(cfg.CheckoutFunction, defaultCheckoutFunction),
		verifyFn:   orDefault(cfg.VerifyFunction, defaultVerifyFunction),
		logger:     logger,
		now:        time.Now,
	}
	if cfg.JWTSecret != "" {
		c.verifier = NewTokenVerifier(cfg.JWTSecret)
	}
	return c, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// credential selects the bearer token of a request.
type credential int

const (
	// asUser sends the signed-in user's access token, or the anon key for guests.
	asUser credential = iota
	asAnon
	asService
)

// request describes one backend call.
type request struct {
	method string
	path   string
	query  url.Values
	body   any
	// raw is sent as-is instead of a JSON body.
	raw         io.Reader
	contentType string
	cred        credential
	token       string
	header      http.Header
}

// response is a completed call.
type response struct {
	status int
	header http.Header
	body   []byte
}

func (c *Client) do(ctx context.Context, r request) (*response, error) {
	var body io.Reader
	contentType := r.contentType
	switch {
	case r.raw != nil:
		body = r.raw
	case r.body != nil:
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer(ctx, r))
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.NewUpstreamError("supabase", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		c.logger.Debug("supabase error response",
			"method", r.method,
			"path", r.path,
			"status", resp.StatusCode,
		)
		return nil, parseErrorResponse(resp.StatusCode, respBody)
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: respBody}, nil
}

func (c *Client) bearer(ctx context.Context, r request) string {
	if r.token != "" {
		return r.token
	}
	switch r.cred {
	case asService:
		if c.serviceKey != "" {
			return c.serviceKey
		}
	case asUser:
		if id, ok := gateway.UserFrom(ctx); ok && id.AccessToken != "" {
			return id.AccessToken
		}
	}
	return c.anonKey
}

// decode unmarshals a successful response body into out.
func (r *response) decode(out any) error {
	if out == nil || len(r.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.body, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// errorBody covers the PostgREST, GoTrue and storage error shapes.
type errorBody struct {
	Code             any    `json:"code"`
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Details          string `json:"details"`
}

func (e errorBody) text() string {
	for _, s := range []string{e.Message, e.Msg, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (e errorBody) code() string {
	switch v := e.Code.(type) {
	case string:
		return v
	case float64:
		return strconv.Itoa(int(v))
	}
	return ""
}

// parseErrorResponse converts a backend error to an APIError.
func parseErrorResponse(statusCode int, body []byte) error {
	var e errorBody
	json.Unmarshal(body, &e) // Best effort parse

	if e.code() == codeNoRows {
		return model.NewNotFoundError("record")
	}
	msg := e.text()
	switch statusCode {
	case http.StatusNotFound:
		return model.NewNotFoundError("record")
	case http.StatusUnauthorized, http.StatusForbidden:
		if msg == "" {
			msg = "supabase authentication failed"
		}
		return model.NewUnauthorizedError(msg)
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		if msg == "" {
			msg = "invalid request"
		}
		return model.NewValidationError("request", msg)
	case http.StatusTooManyRequests:
		return model.NewRateLimitError("supabase")
	default:
		return model.NewUpstreamError("supabase", fmt.Errorf("status %d: %s - %s", statusCode, e.code(), msg))
	}
}

// eq builds a PostgREST equality filter value.
func eq(v string) string { return "eq." + v }

// userID returns the signed-in user for per-user tables.
func userID(ctx context.Context, action string) (string, error) {
	id, err := gateway.RequireUser(ctx, action)
	if err != nil {
		return "", err
	}
	return id.User.ID, nil
}

var (
	preferMinimal        = http.Header{"Prefer": {"return=minimal"}}
	preferRepresentation = http.Header{"Prefer": {"return=representation"}}
	singleObject         = http.Header{"Accept": {"application/vnd.pgrst.object+json"}}
)
