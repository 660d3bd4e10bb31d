package testutil

import (
	"net/http"
	"strings"
)

// RewriteTransport sends every request to Host (an httptest server URL) while
// keeping the original path and query, so clients with hard-coded platform URLs
// can be pointed at a mock.
type RewriteTransport struct {
	Transport http.RoundTripper
	Host      string
}

func (t *RewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = "http"
	host := strings.TrimPrefix(t.Host, "http://")
	host = strings.TrimPrefix(host, "https://")
	req.URL.Host = host
	req.Host = host
	base := t.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// RewriteClient returns an http.Client whose requests all land on host.
func RewriteClient(host string) *http.Client {
	return &http.Client{Transport: &RewriteTransport{Host: host}}
}
