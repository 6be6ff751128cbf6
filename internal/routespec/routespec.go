// Package routespec parses the two tokens of one config-file line: the
// route specifier ("b1.b2...bk.*") and the absolute "http://" server
// URL it is bound to.
package routespec

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// routePattern matches a route specifier of at most 20 bits, each
// followed by a dot, terminated by a bare "*".
var routePattern = regexp.MustCompile(`^([01]\.){0,20}\*$`)

// ParseRoute parses a route specifier into its bit-prefix string,
// matched against the high-order bits of a sharding key. The empty
// prefix ("*") matches every key.
func ParseRoute(spec string) (string, error) {
	if !routePattern.MatchString(spec) {
		return "", fmt.Errorf("routespec: invalid route specifier %q", spec)
	}
	bits := strings.TrimSuffix(spec, "*")
	bits = strings.ReplaceAll(bits, ".", "")
	return bits, nil
}

// ServerURL is the normalized string form of an upstream server's
// absolute http:// URL, used as a map key throughout the routing plane.
type ServerURL string

// ParseServerURL parses and normalizes an absolute "http://" URL. Any
// other scheme, or a URL missing a host, is a parse error.
func ParseServerURL(raw string) (ServerURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("routespec: invalid server URL %q: %w", raw, err)
	}
	if u.Scheme != "http" {
		return "", fmt.Errorf("routespec: server URL %q must use scheme http", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("routespec: server URL %q is missing a host", raw)
	}
	return ServerURL(u.String()), nil
}

// Route pairs a parsed bit prefix with its owning server URL.
type Route struct {
	Prefix string
	URL    ServerURL
}

// ParseLine parses one non-blank config-file line, split on whitespace
// into exactly two tokens: the route specifier and the server URL. A
// line with fewer or more tokens is an error.
func ParseLine(line string) (Route, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return Route{}, fmt.Errorf("routespec: expected route and URL, got %d fields", len(fields))
	}
	prefix, err := ParseRoute(fields[0])
	if err != nil {
		return Route{}, err
	}
	u, err := ParseServerURL(fields[1])
	if err != nil {
		return Route{}, err
	}
	return Route{Prefix: prefix, URL: u}, nil
}
