package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracing starts a server span per request. The span is opened before chi
// has routed the request, so it is renamed to "METHOD /route/{pattern}" once
// the handler returns, keeping span names low-cardinality.
func Tracing() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		routed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			nameSpan(r)
		})
		return otelhttp.NewHandler(routed, "http.request",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}

func nameSpan(r *http.Request) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.RoutePattern() == "" {
		return
	}
	span := trace.SpanFromContext(r.Context())
	pattern := rctx.RoutePattern()
	span.SetName(r.Method + " " + pattern)
	span.SetAttributes(attribute.String("http.route", pattern))
	if provider := rctx.URLParam("provider"); provider != "" {
		span.SetAttributes(attribute.String("payment.provider", provider))
	}
	if orderID := rctx.URLParam("id"); orderID != "" {
		span.SetAttributes(attribute.String("order.id", orderID))
	}
}
