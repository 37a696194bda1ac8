// Package export holds helpers shared by the metric exporters.
package export

import (
	"sort"
	"strings"
)

// SanitizeName maps a dotted meter name to a metric name made of
// [a-zA-Z0-9_:] characters, e.g. "http.server.requests" to
// "http_server_requests".
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// WithUnit appends "_<unit>" unless name already ends with it.
func WithUnit(name, unit string) string {
	if unit == "" {
		return name
	}
	unit = SanitizeName(unit)
	if strings.HasSuffix(name, "_"+unit) {
		return name
	}
	return name + "_" + unit
}

// SortedKeys returns the keys of tags in ascending order.
func SortedKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
