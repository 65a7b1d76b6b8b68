package connection

import (
	"net/url"
	"strconv"
	"strings"
)

// ParseEndpoint validates a duplex endpoint of the form
// scheme://host[:port][/path] where scheme is ws or wss.
// The path and query are left untouched.
func ParseEndpoint(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &InvalidEndpointError{Endpoint: raw, Reason: "empty endpoint"}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, &InvalidEndpointError{Endpoint: raw, Reason: "parse failed", Err: err}
	}

	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "":
		return nil, &InvalidEndpointError{Endpoint: raw, Reason: "missing scheme"}
	default:
		return nil, &InvalidEndpointError{Endpoint: raw, Reason: "unsupported scheme " + strconv.Quote(u.Scheme)}
	}

	if u.Hostname() == "" {
		return nil, &InvalidEndpointError{Endpoint: raw, Reason: "missing host"}
	}

	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return nil, &InvalidEndpointError{Endpoint: raw, Reason: "port out of range", Err: err}
		}
	}

	// Fragments are not allowed in WebSocket URIs (RFC 6455 3).
	if u.Fragment != "" || strings.Contains(raw, "#") {
		return nil, &InvalidEndpointError{Endpoint: raw, Reason: "fragment not allowed"}
	}

	return u, nil
}
