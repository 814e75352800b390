package salesforce

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	sfhttp "github.com/natserract/salesforce/pkg/http"
)

// newTestClient starts a TLS test server and returns a client whose
// instance points at it, so every API URL resolves to the handler.
func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewTLSServer(handler)
	t.Cleanup(ts.Close)

	host := strings.TrimPrefix(ts.URL, "https://")
	c := &Client{
		httpClient: sfhttp.NewClientWithHTTPClient(ts.Client(), zap.NewNop()),
		logger:     zap.NewNop(),
		session: &Session{
			ID:       "00Dsession!token",
			Instance: host,
			Version:  DefaultAPIVersion,
			AuthType: AuthTypeDirect,
		},
	}
	c.rebuildURLs()
	return c, ts
}

// rewriteTransport redirects every outgoing request to the test server,
// keeping the original path and query. Used for login flows whose URLs are
// fixed *.salesforce.com hosts.
type rewriteTransport struct {
	target *httptest.Server
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	targetHost := strings.TrimPrefix(rt.target.URL, "https://")
	req.URL.Scheme = "https"
	req.URL.Host = targetHost
	return rt.target.Client().Transport.RoundTrip(req)
}

func newRewriteHTTPClient(ts *httptest.Server) *sfhttp.Client {
	return sfhttp.NewClientWithHTTPClient(
		&http.Client{Transport: &rewriteTransport{target: ts}}, zap.NewNop())
}
