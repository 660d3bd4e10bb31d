// Package httpclient builds the outbound HTTP clients used for platform calls.
// Each client is rate limited per platform, traced with otelhttp and bounded by a timeout.
package httpclient

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// Options configures one platform client.
type Options struct {
	// Name labels outbound spans, e.g. "youtube" or "twitch".
	Name string
	// RPS caps request rate; zero disables limiting.
	RPS float64
	// Burst defaults to 1 when RPS is set.
	Burst int
	// Timeout bounds a whole request; zero means no timeout.
	Timeout time.Duration
	// Base is the underlying transport; http.DefaultTransport when nil.
	Base http.RoundTripper
}

// New returns a client wired per opts.
func New(opts Options) *http.Client {
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}
	rt := base
	if opts.RPS > 0 {
		rt = NewLimitedTransport(rt, opts.RPS, opts.Burst)
	}
	name := opts.Name
	rt = otelhttp.NewTransport(rt, otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
		if name == "" {
			return "HTTP " + r.Method
		}
		return name + " " + r.Method + " " + r.URL.Path
	}))
	return &http.Client{Transport: rt, Timeout: opts.Timeout}
}

// LimitedTransport waits on a token bucket before each request.
type LimitedTransport struct {
	Base    http.RoundTripper
	Limiter *rate.Limiter
}

// NewLimitedTransport wraps base with an rps/burst limiter.
func NewLimitedTransport(base http.RoundTripper, rps float64, burst int) *LimitedTransport {
	if burst < 1 {
		burst = 1
	}
	return &LimitedTransport{Base: base, Limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (t *LimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.Limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.Base.RoundTrip(req)
}
