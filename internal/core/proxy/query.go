package proxy

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/keyrelay/keyrelay/internal/core"
)

var endpointPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidEndpoint reports whether endpoint is a single safe path segment.
func ValidEndpoint(endpoint string) bool {
	return endpointPattern.MatchString(endpoint)
}

// ParseQuery decodes a raw query string keeping the order parameters were
// sent in, which url.Values does not.
func ParseQuery(rawQuery string) ([]core.QueryParam, error) {
	params := []core.QueryParam{}
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, fmt.Errorf("invalid query parameter %q: %w", rawKey, err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %q: %w", key, err)
		}
		params = append(params, core.QueryParam{Key: key, Value: value})
	}
	return params, nil
}

// EncodeQuery is the ordered inverse of ParseQuery.
func EncodeQuery(params []core.QueryParam) string {
	var b strings.Builder
	for i, param := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(param.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(param.Value))
	}
	return b.String()
}

// FirstValue returns the first value sent for key.
func FirstValue(params []core.QueryParam, key string) (string, bool) {
	for _, param := range params {
		if param.Key == key {
			return param.Value, true
		}
	}
	return "", false
}

// without drops every parameter named in names, preserving order.
func without(params []core.QueryParam, names []string) []core.QueryParam {
	out := make([]core.QueryParam, 0, len(params))
outer:
	for _, param := range params {
		for _, name := range names {
			if param.Key == name {
				continue outer
			}
		}
		out = append(out, param)
	}
	return out
}

// BuildTarget returns base/name/endpoint?params.
func BuildTarget(base, name, endpoint string, params []core.QueryParam) string {
	target := strings.TrimRight(base, "/") + "/" + url.PathEscape(name) + "/" + endpoint
	if query := EncodeQuery(params); query != "" {
		target += "?" + query
	}
	return target
}
