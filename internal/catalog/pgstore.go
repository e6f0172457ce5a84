package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mohammed-shakir/pcstream/internal/core/observability"
	"github.com/mohammed-shakir/pcstream/internal/geom"
	"github.com/mohammed-shakir/pcstream/internal/patch"
)

// Catalog tables, created by the loading workflow:
//
//	pointcloud_lopocs(id, schematable, "column", srid, max_points_per_patch,
//	    max_patches_per_query, bbox float8[6], approx_row_count, patch_size)
//	pointcloud_lopocs_outputs(id, pcid, scales float8[3], offsets float8[3],
//	    stored bool, point_schema json)
const (
	loadEntrySQL = `select l.id, l.srid, coalesce(s.srtext, ''),
	coalesce(l.max_points_per_patch, 0), coalesce(l.max_patches_per_query, 0),
	l.bbox, coalesce(l.approx_row_count, 0), coalesce(l.patch_size, 0)
from pointcloud_lopocs l
left join spatial_ref_sys s on s.srid = l.srid
where l.schematable = $1 and l."column" = $2`

	loadOutputsSQL = `select pcid, scales, offsets, stored, point_schema
from pointcloud_lopocs_outputs where id = $1 order by pcid`

	listSQL = `select schematable, "column" from pointcloud_lopocs order by schematable, "column"`

	insertFormatSQL = `insert into pointcloud_formats (pcid, srid, schema)
values ((select coalesce(max(pcid), 0) + 1 from pointcloud_formats), $1, $2)
returning pcid`

	insertOutputSQL = `insert into pointcloud_lopocs_outputs (id, pcid, scales, offsets, stored, point_schema)
values ($1, $2, $3, $4, false, $5)`

	lookupIDSQL = `select id, srid from pointcloud_lopocs where schematable = $1 and "column" = $2`
)

// PGStore reads the catalog tables over database/sql (lib/pq).
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) LoadEntry(ctx context.Context, table, column string) (e *Entry, err error) {
	start := time.Now()
	defer func() { observability.ObserveQuery("catalog", time.Since(start).Seconds(), err) }()

	var (
		id   int64
		bbox pq.Float64Array
	)
	e = &Entry{Key: Key{Table: table, Column: column}}
	err = s.db.QueryRowContext(ctx, loadEntrySQL, table, column).Scan(
		&id, &e.SRID, &e.SRS, &e.MaxPointsPerPatch, &e.MaxPatchesPerQuery,
		&bbox, &e.ApproxRows, &e.PatchSize)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select catalog row: %w", err)
	}
	if e.BBox, err = geom.BoxFromSlice(bbox); err != nil {
		return nil, fmt.Errorf("catalog bbox: %w", err)
	}
	if e.SRS == "" && e.SRID > 0 {
		e.SRS = fmt.Sprintf("EPSG:%d", e.SRID)
	}

	rows, err := s.db.QueryContext(ctx, loadOutputsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("select outputs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			o               OutputSchema
			scales, offsets pq.Float64Array
			raw             []byte
		)
		if err = rows.Scan(&o.PCID, &scales, &offsets, &o.Stored, &raw); err != nil {
			return nil, fmt.Errorf("scan output: %w", err)
		}
		if len(scales) != 3 || len(offsets) != 3 {
			return nil, fmt.Errorf("output pcid %d: want 3 scales and offsets", o.PCID)
		}
		copy(o.Scales[:], scales)
		copy(o.Offsets[:], offsets)
		if o.Schema, err = decodeSchema(raw); err != nil {
			return nil, fmt.Errorf("output pcid %d schema: %w", o.PCID, err)
		}
		e.Outputs = append(e.Outputs, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outputs: %w", err)
	}
	return e, nil
}

func (s *PGStore) ListResources(ctx context.Context) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx, listSQL)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.Table, &k.Column); err != nil {
			return nil, fmt.Errorf("scan catalog key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// RegisterOutput creates the pgpointcloud format and the output row in one
// transaction.
func (s *PGStore) RegisterOutput(ctx context.Context, table, column string, o OutputSchema) (pcid int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var id int64
	var srid int
	if err = tx.QueryRowContext(ctx, lookupIDSQL, table, column).Scan(&id, &srid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNotFound
		}
		return 0, err
	}
	doc, err := PointCloudSchemaXML(o.Schema, o.Scales, o.Offsets, "none")
	if err != nil {
		return 0, err
	}
	if err = tx.QueryRowContext(ctx, insertFormatSQL, srid, doc).Scan(&pcid); err != nil {
		return 0, fmt.Errorf("insert format: %w", err)
	}
	js, err := json.Marshal(o.Schema)
	if err != nil {
		return 0, err
	}
	_, err = tx.ExecContext(ctx, insertOutputSQL, id, pcid,
		pq.Array(o.Scales[:]), pq.Array(o.Offsets[:]), string(js))
	if err != nil {
		return 0, fmt.Errorf("insert output: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return pcid, nil
}

var _ Store = (*PGStore)(nil)

// decodeSchema accepts both the greyhound dimension list and pc_summary
// dims, whose type is a C interpretation such as "uint16_t".
func decodeSchema(raw []byte) (patch.Schema, error) {
	var dims []struct {
		Name string `json:"name"`
		Size int    `json:"size"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &dims); err != nil {
		return nil, err
	}
	s := make(patch.Schema, len(dims))
	for i, d := range dims {
		t := patch.Type(d.Type)
		switch t {
		case patch.Signed, patch.Unsigned, patch.Floating:
		default:
			t = patch.GreyhoundType(d.Type)
		}
		s[i] = patch.Dimension{Name: d.Name, Size: d.Size, Type: t}
	}
	return s, s.Validate()
}
