package httpmiddleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"
)

// MaintenanceBypassHeader lets operators reach the API during maintenance.
const MaintenanceBypassHeader = "X-Maintenance-Bypass"

// MaintenanceConfig configures the Maintenance middleware.
type MaintenanceConfig struct {
	Enabled bool
	// RetryAfter is advertised to clients. Zero omits the header.
	RetryAfter time.Duration
	// BypassToken, when set, lets requests carrying it in
	// MaintenanceBypassHeader through.
	BypassToken string
}

// Maintenance answers 503 Service Unavailable while enabled.
func Maintenance(cfg MaintenanceConfig) Middleware {
	retryAfter := ""
	if cfg.RetryAfter > 0 {
		retryAfter = strconv.Itoa(int(cfg.RetryAfter.Round(time.Second).Seconds()))
	}
	token := []byte(cfg.BypassToken)

	return func(next http.Handler) http.Handler {
		if !cfg.Enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(token) > 0 && subtle.ConstantTimeCompare([]byte(r.Header.Get(MaintenanceBypassHeader)), token) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			if retryAfter != "" {
				w.Header().Set("Retry-After", retryAfter)
			}
			writeError(w, http.StatusServiceUnavailable, "Maintenance", "service under maintenance")
		})
	}
}
