package salesforce

import (
	"net/url"
	"strings"
)

// AuthType identifies which login flow produced a session.
type AuthType string

const (
	AuthTypePassword  AuthType = "password"
	AuthTypeIPFilter  AuthType = "ipfilter"
	AuthTypeJWTBearer AuthType = "jwt-bearer"
	AuthTypeDirect    AuthType = "direct"
)

// Session is the result of a successful login: the session id used for
// bearer authentication and the instance host all API URLs are built from.
// A Session is immutable; expiry is signaled server-side by a 401, at which
// point callers (or the client's automatic refresh) must log in again.
type Session struct {
	ID       string
	Instance string
	Version  string
	AuthType AuthType
}

// instanceFromServerURL extracts the instance host from the serverUrl
// element of a SOAP login response, dropping the scheme, the path and the
// "-api" marker.
func instanceFromServerURL(serverURL string) string {
	host := strings.TrimPrefix(serverURL, "http://")
	host = strings.TrimPrefix(host, "https://")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	return strings.ReplaceAll(host, "-api", "")
}

// instanceFromInstanceURL extracts the instance host from a full instance
// URL (as returned by the OAuth endpoints), keeping a non-default port.
func instanceFromInstanceURL(instanceURL string) string {
	u, err := url.Parse(instanceURL)
	if err != nil || u.Host == "" {
		return strings.TrimPrefix(strings.TrimPrefix(instanceURL, "http://"), "https://")
	}
	host := u.Hostname()
	if port := u.Port(); port != "" && port != "443" {
		host += ":" + port
	}
	return host
}
