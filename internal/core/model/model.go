// Package model defines request values shared by the HTTP handlers.
package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/pcstream/internal/catalog"
)

// ErrBadResource is returned for resource names that are not
// schema.table.column.
var ErrBadResource = errors.New("resource must be in the form schema.table.column")

// ParseResource splits schema.table.column into the catalog key
// {schema.table, column}.
func ParseResource(s string) (catalog.Key, error) {
	if strings.Count(s, ".") != 2 {
		return catalog.Key{}, fmt.Errorf("%w: %q", ErrBadResource, s)
	}
	i := strings.LastIndexByte(s, '.')
	k := catalog.Key{Table: s[:i], Column: s[i+1:]}
	if strings.HasPrefix(k.Table, ".") || strings.HasSuffix(k.Table, ".") || k.Column == "" {
		return catalog.Key{}, fmt.Errorf("%w: %q", ErrBadResource, s)
	}
	return k, nil
}

// ParseTriple parses "[a,b,c]" (brackets optional) into three floats.
func ParseTriple(s string) ([3]float64, error) {
	var out [3]float64
	parts := strings.Split(strings.Trim(strings.TrimSpace(s), "[]"), ",")
	if len(parts) != 3 {
		return out, fmt.Errorf("expected 3 comma-separated values, got %d", len(parts))
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return out, fmt.Errorf("value %d: %w", i, err)
		}
		out[i] = f
	}
	return out, nil
}
