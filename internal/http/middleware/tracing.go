package middleware

import (
	"context"
	"net/http"

	"go.opencensus.io/plugin/ochttp"
	"go.opencensus.io/trace"
)

// TracingMiddleware wraps the API in an ochttp server span named after the route
func TracingMiddleware(next http.Handler) http.Handler {
	handler := &ochttp.Handler{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if span := trace.FromContext(ctx); span != nil {
				span.AddAttributes(
					trace.StringAttribute("http.method", r.Method),
					trace.StringAttribute("http.path", r.URL.Path),
				)
				if requestID := r.Header.Get("X-Request-ID"); requestID != "" {
					span.AddAttributes(trace.StringAttribute("http.request_id", requestID))
				}
			}
			next.ServeHTTP(&statusRecorder{ResponseWriter: w, ctx: ctx}, r)
		}),
		FormatSpanName: func(r *http.Request) string {
			return r.Method + " " + r.URL.Path
		},
		IsPublicEndpoint: true,
	}
	return handler
}

// statusRecorder tags the span with the response status
type statusRecorder struct {
	http.ResponseWriter
	ctx context.Context
}

func (s *statusRecorder) WriteHeader(code int) {
	if span := trace.FromContext(s.ctx); span != nil {
		span.AddAttributes(trace.Int64Attribute("http.status_code", int64(code)))
		if code >= 500 {
			span.SetStatus(trace.Status{Code: trace.StatusCodeUnknown, Message: http.StatusText(code)})
		}
	}
	s.ResponseWriter.WriteHeader(code)
}
