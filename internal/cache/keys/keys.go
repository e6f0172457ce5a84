// Package keys builds deterministic result cache keys.
package keys

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/pcstream/internal/geom"
)

// Hierarchy keys a built tree by protocol, resource, depth range and box:
//
//	greyhound:public.pa.points:0-7:b=<bounds>:h=<xxhash64>
//
// The bounds segment is truncated for readability; the hash covers the full
// text so distinct boxes never collide on truncation.
func Hierarchy(protocol, table, column string, lodMin, lodMax int, box geom.Box) string {
	res := Resource(table, column)
	bounds := boundsText(box)
	full := fmt.Sprintf("%s|%s|%d|%d|%s", protocol, res, lodMin, lodMax, bounds)

	const maxBoundsLen = 120
	safe := sanitize(bounds)
	if len(safe) > maxBoundsLen {
		safe = safe[:maxBoundsLen]
	}
	return fmt.Sprintf("%s:%s:%d-%d:b=%s:h=%016x",
		sanitize(protocol), res, lodMin, lodMax, safe, xxhash.Sum64String(full))
}

// Resource is the sanitized table.column segment every key of a resource
// carries.
func Resource(table, column string) string {
	return sanitize(strings.TrimSpace(table) + "." + strings.TrimSpace(column))
}

// ResourcePattern is a glob matching every key of a resource, whatever the
// protocol. It works both as a redis MATCH pattern and with path.Match.
func ResourcePattern(table, column string) string {
	return "*:" + Resource(table, column) + ":*"
}

func boundsText(b geom.Box) string {
	vs := b.Slice()
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, "_")
}

// sanitize keeps [A-Za-z0-9._-]; other runes become '-', whitespace '_',
// and runs of either collapse.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == '.' || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
