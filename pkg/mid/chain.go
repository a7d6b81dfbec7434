// Package mid provides http.RoundTripper middleware for outbound API calls.
package mid

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Middleware wraps an http.RoundTripper.
type Middleware func(http.RoundTripper) http.RoundTripper

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// Chain applies middlewares to a transport left-to-right (first middleware is
// outermost). A nil base means http.DefaultTransport.
func Chain(base http.RoundTripper, mw ...Middleware) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	for i := len(mw) - 1; i >= 0; i-- {
		base = mw[i](base)
	}
	return base
}

// UserAgent sets the User-Agent header on requests that lack one.
func UserAgent(ua string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if r.Header.Get("User-Agent") == "" {
				r = r.Clone(r.Context())
				r.Header.Set("User-Agent", ua)
			}
			return next.RoundTrip(r)
		})
	}
}

// Logger logs method, path, status and duration of each request at debug
// level, and transport errors at warn.
func Logger(log *slog.Logger) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(r)
			if err != nil {
				log.Warn("api request failed",
					"method", r.Method,
					"path", r.URL.EscapedPath(),
					"duration", time.Since(start),
					"err", err,
				)
				return nil, err
			}
			log.Debug("api request",
				"method", r.Method,
				"path", r.URL.EscapedPath(),
				"status", resp.StatusCode,
				"duration", time.Since(start),
			)
			return resp, nil
		})
	}
}

// OTel returns middleware that creates OpenTelemetry client spans and injects
// trace context into outgoing headers.
func OTel() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return otelhttp.NewTransport(next)
	}
}
