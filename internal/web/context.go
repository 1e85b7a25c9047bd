package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/skurename/internal/core"
)

// withClientIP returns the request context carrying the client address,
// which the service stores with the run history.
func withClientIP(r *http.Request) context.Context {
	return core.ContextWithClientIP(r.Context(), clientIP(r))
}
