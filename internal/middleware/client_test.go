package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseClientHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    Client
		wantErr bool
	}{
		{
			name:   "session only",
			header: `session="s-123"`,
			want:   Client{Session: "s-123"},
		},
		{
			name:   "all members",
			header: `session="s-123", mobile=?1, version="v1.4.0"`,
			want:   Client{Session: "s-123", Mobile: true, Version: "v1.4.0"},
		},
		{
			name:   "version without prefix",
			header: `version="2.0.1", session="abc"`,
			want:   Client{Session: "abc", Version: "v2.0.1"},
		},
		{
			name:   "desktop flag",
			header: `session="abc", mobile=?0`,
			want:   Client{Session: "abc"},
		},
		{
			name:   "unknown members ignored",
			header: `session="abc", theme="dark"`,
			want:   Client{Session: "abc"},
		},
		{name: "empty header", header: "", wantErr: true},
		{name: "missing session", header: `mobile=?1`, wantErr: true},
		{name: "blank session", header: `session=""`, wantErr: true},
		{name: "session not a string", header: `session=42`, wantErr: true},
		{name: "mobile not a boolean", header: `session="abc", mobile="yes"`, wantErr: true},
		{name: "bad version", header: `session="abc", version="latest"`, wantErr: true},
		{name: "malformed", header: `session="unterminated`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClientHeader(tt.header)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseClientHeader(%q) = %+v, want error", tt.header, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClientHeader(%q) error: %v", tt.header, err)
			}
			if got != tt.want {
				t.Errorf("ParseClientHeader(%q) = %+v, want %+v", tt.header, got, tt.want)
			}
		})
	}
}

func TestClientSession(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var seen Client
	handler := ClientSession("v1.2.0", logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClientFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{"health exempt", "/health", "", http.StatusNoContent, ""},
		{"missing header", "/products", "", http.StatusBadRequest, "CLIENT_REQUIRED"},
		{"invalid header", "/products", `mobile=?1`, http.StatusBadRequest, "CLIENT_REQUIRED"},
		{"outdated client", "/products", `session="s1", version="v1.1.9"`, http.StatusUpgradeRequired, "CLIENT_OUTDATED"},
		{"current client", "/products", `session="s1", version="v1.2.0"`, http.StatusNoContent, ""},
		{"unversioned client", "/products", `session="s1"`, http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set(ClientHeader, tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantCode != "" && !strings.Contains(w.Body.String(), tt.wantCode) {
				t.Errorf("Body = %s, want code %s", w.Body.String(), tt.wantCode)
			}
		})
	}

	if seen.Session != "s1" {
		t.Errorf("client in context = %+v", seen)
	}
}
