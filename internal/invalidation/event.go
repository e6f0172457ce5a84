// Package invalidation describes catalog change events published when a
// point cloud table is reloaded or its metadata changes.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

const (
	// OpInvalidate drops one table/column from the catalog and purges its
	// cached results; the next request reloads it.
	OpInvalidate = "invalidate"
	// OpRefresh reloads the whole catalog.
	OpRefresh = "refresh"
)

type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	Table   string    `json:"table,omitempty"`
	Column  string    `json:"column,omitempty"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	switch e.Op {
	case OpInvalidate:
		if strings.TrimSpace(e.Table) == "" || strings.TrimSpace(e.Column) == "" {
			return fmt.Errorf("invalidate requires table and column")
		}
		if strings.Count(e.Table, ".") > 1 {
			return fmt.Errorf("table must be table or schema.table")
		}
	case OpRefresh:
		if e.Table != "" || e.Column != "" {
			return fmt.Errorf("refresh applies to the whole catalog; table/column must be empty")
		}
	default:
		return fmt.Errorf("op must be invalidate|refresh")
	}
	return nil
}

// DedupeKey identifies an event for duplicate suppression: redelivered
// messages carry the same op, resource and timestamp.
func (e Event) DedupeKey() string {
	return e.Op + "|" + e.Table + "|" + e.Column + "|" + e.TS.UTC().Format(time.RFC3339Nano)
}
