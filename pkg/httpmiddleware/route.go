package httpmiddleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouteFinder returns the route pattern that served r, or "" when the
// request matched no route.
type RouteFinder func(r *http.Request) string

// ChiRoute reads the matched pattern from the chi routing context. It only
// sees the full pattern when called from middleware registered with
// chi.Router.Use, after the handler has run.
func ChiRoute(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}
