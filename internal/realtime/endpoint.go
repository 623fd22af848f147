package realtime

import (
	"fmt"
	"net/url"
)

// EndpointPath is the realtime endpoint relative to the server base URL.
const EndpointPath = "/api/ws"

// EndpointURL derives ws(s)://host/api/ws?token=<token> from the http(s)
// server base URL. The token is query-escaped.
func EndpointURL(base *url.URL, token string) (string, error) {
	if base == nil {
		return "", fmt.Errorf("realtime: server url is required")
	}
	if token == "" {
		return "", fmt.Errorf("realtime: token is required")
	}

	u := *base
	switch base.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("realtime: unsupported server scheme %q", base.Scheme)
	}
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	u = *u.JoinPath(EndpointPath)
	u.RawQuery = url.Values{"token": []string{token}}.Encode()
	return u.String(), nil
}
