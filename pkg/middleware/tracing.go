package middleware

import (
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/tracing"
)

// Tracing opens a root span per request, keyed by the request ID, and logs
// the finished span tree at debug level. It must run inside RequestID.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.StartSpan(r.Context(), r.Method+" "+normalizePath(r.URL.Path), GetRequestID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
		span.End()
		span.Log(ctx, logger.FromContext(ctx))
	})
}
