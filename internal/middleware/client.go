package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dunglas/httpsfv"
	"golang.org/x/mod/semver"
)

// ClientHeader identifies the calling storefront client.
const ClientHeader = "Storefront-Client"

// Client is what a storefront client declares about itself.
type Client struct {
	// Session keys the cart session, checkout controller and durable storage.
	Session string
	Mobile  bool
	// Version is the client build as a semantic version, if sent.
	Version string
}

type clientKey struct{}

// WithClient returns ctx carrying c.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

// ClientFrom returns the client stored by ClientSession.
func ClientFrom(ctx context.Context) (Client, bool) {
	c, ok := ctx.Value(clientKey{}).(Client)
	return c, ok
}

// ParseClientHeader parses an RFC 8941 dictionary such as
//
//	session="7f9c...", mobile=?1, version="v1.4.0"
//
// session is required; mobile and version are optional.
func ParseClientHeader(header string) (Client, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Client{}, errors.New("empty Storefront-Client header")
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return Client{}, fmt.Errorf("invalid Storefront-Client header: %w", err)
	}

	var c Client
	session, err := stringMember(dict, "session")
	if err != nil {
		return Client{}, err
	}
	if session == "" {
		return Client{}, errors.New("session key not found in Storefront-Client header")
	}
	c.Session = session

	if member, ok := dict.Get("mobile"); ok {
		item, ok := member.(httpsfv.Item)
		if !ok {
			return Client{}, errors.New("mobile value must be an item")
		}
		mobile, ok := item.Value.(bool)
		if !ok {
			return Client{}, errors.New("mobile value must be a boolean")
		}
		c.Mobile = mobile
	}

	version, err := stringMember(dict, "version")
	if err != nil {
		return Client{}, err
	}
	if version != "" {
		if version[0] != 'v' {
			version = "v" + version
		}
		if !semver.IsValid(version) {
			return Client{}, fmt.Errorf("version %q is not a semantic version", version)
		}
		c.Version = version
	}
	return c, nil
}

// stringMember returns "" when key is absent.
func stringMember(dict *httpsfv.Dictionary, key string) (string, error) {
	member, ok := dict.Get(key)
	if !ok {
		return "", nil
	}
	item, ok := member.(httpsfv.Item)
	if !ok {
		return "", fmt.Errorf("%s value must be an item", key)
	}
	s, ok := item.Value.(string)
	if !ok {
		return "", fmt.Errorf("%s value must be a string", key)
	}
	return strings.TrimSpace(s), nil
}

// ClientSession requires the Storefront-Client header on every request
// except health checks, and rejects clients older than minVersion when set.
// Clients that send no version are accepted.
func ClientSession(minVersion string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get(ClientHeader)
			if header == "" {
				writeError(w, http.StatusBadRequest, "CLIENT_REQUIRED",
					"Storefront-Client header is required for all requests")
				return
			}
			c, err := ParseClientHeader(header)
			if err != nil {
				logger.Warn("invalid Storefront-Client header",
					slog.String("header", header),
					slog.String("error", err.Error()))
				writeError(w, http.StatusBadRequest, "CLIENT_REQUIRED",
					"Invalid Storefront-Client header: "+err.Error())
				return
			}
			if minVersion != "" && c.Version != "" && semver.Compare(c.Version, minVersion) < 0 {
				writeError(w, http.StatusUpgradeRequired, "CLIENT_OUTDATED",
					fmt.Sprintf("client %s is older than the minimum supported %s", c.Version, minVersion))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), c)))
		})
	}
}

// isExemptPath returns true for paths that don't require the client header.
func isExemptPath(path string) bool {
	return path == "/health" || path == "/healthz"
}
