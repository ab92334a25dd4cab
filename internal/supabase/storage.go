package supabase

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Upload stores a payment proof in the proof bucket and returns its public URL.
func (c *Client) Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	escaped := escapeObjectKey(key)
	r := request{
		method:      http.MethodPost,
		path:        "/storage/v1/object/" + c.bucket + "/" + escaped,
		raw:         body,
		contentType: contentType,
		header:      http.Header{"X-Upsert": {"false"}, "Cache-Control": {"max-age=3600"}},
	}
	if _, err := c.do(ctx, r); err != nil {
		return "", err
	}
	return c.PublicURL(key), nil
}

// PublicURL is the public object URL of key in the proof bucket.
func (c *Client) PublicURL(key string) string {
	return c.baseURL + "/storage/v1/object/public/" + c.bucket + "/" + escapeObjectKey(key)
}

func escapeObjectKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
