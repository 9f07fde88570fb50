package httpx

import (
	"net/http"

	"github.com/crmbus/crmbus/libs/correlation"
)

// WithCorrelationID adopts the inbound X-Correlation-Id header, or generates
// a fresh id, roots it in the request context, and echoes it on the response
// so callers can stitch logs across services.
func WithCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := correlation.WithID(r.Context(), r.Header.Get(correlation.HTTPHeader))
		ctx, id := correlation.Ensure(ctx)
		w.Header().Set(correlation.HTTPHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
