package testutil

import (
	"net/http"

	"dncproxy/pkg/requestcontext"
)

// WithClientMetadata attaches client IP and Origin to the request context,
// standing in for the metadata middleware.
func WithClientMetadata(req *http.Request, clientIP, origin string) *http.Request {
	ctx := requestcontext.WithClientMetadata(req.Context(), clientIP, req.Header.Get("User-Agent"), origin)
	return req.WithContext(ctx)
}

// WithBearer sets an Authorization bearer header.
func WithBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
