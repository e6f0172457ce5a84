package pgpc

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq" // postgres driver

	"github.com/mohammed-shakir/pcstream/internal/core/observability"
)

// Executor runs built queries. Patch returns nil when nothing matched.
type Executor interface {
	Patch(ctx context.Context, q Query) ([]byte, error)
	Count(ctx context.Context, q Query) (int64, error)
}

type Option func(*DB)

// WithPoolSize caps open connections; it also sizes Pool.
func WithPoolSize(n int) Option {
	return func(d *DB) {
		if n > 0 {
			d.poolSize = n
		}
	}
}

func WithQueryTimeout(t time.Duration) Option {
	return func(d *DB) { d.timeout = t }
}

// WithConnectTimeout bounds the startup ping retries.
func WithConnectTimeout(t time.Duration) Option {
	return func(d *DB) { d.connectTimeout = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *DB) { d.logger = l }
}

// DB executes queries over database/sql with the lib/pq driver.
type DB struct {
	db             *sql.DB
	logger         *slog.Logger
	poolSize       int
	timeout        time.Duration
	connectTimeout time.Duration
}

// Open connects and pings with exponential backoff until connectTimeout.
func Open(ctx context.Context, dsn string, opts ...Option) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	d := &DB{
		logger:         slog.Default(),
		poolSize:       10,
		timeout:        30 * time.Second,
		connectTimeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(d)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(d.poolSize)
	db.SetMaxIdleConns(d.poolSize)
	db.SetConnMaxIdleTime(5 * time.Minute)
	d.db = db

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = d.connectTimeout
	err = backoff.RetryNotify(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		d.logger.Warn("postgres not ready, retrying", "err", err, "next", next.String())
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return d, nil
}

// NewFromSQL wraps an existing handle, for callers that manage the pool.
func NewFromSQL(db *sql.DB, opts ...Option) *DB {
	d := &DB{db: db, logger: slog.Default(), poolSize: 10, timeout: 30 * time.Second}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *DB) SQL() *sql.DB { return d.db }

func (d *DB) PoolSize() int { return d.poolSize }

func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("postgres close: %w", err)
	}
	return nil
}

// Patch returns the uncompressed patch bytes, nil when no patch intersects.
func (d *DB) Patch(ctx context.Context, q Query) ([]byte, error) {
	q.Select = SelectUnion
	var text sql.NullString
	err := d.queryRow(ctx, q, &text)
	if err != nil {
		return nil, err
	}
	if !text.Valid || text.String == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.TrimSpace(text.String))
	if err != nil {
		return nil, fmt.Errorf("decode pcpatch hex: %w", err)
	}
	return b, nil
}

func (d *DB) Count(ctx context.Context, q Query) (int64, error) {
	q.Select = SelectCount
	var n sql.NullInt64
	if err := d.queryRow(ctx, q, &n); err != nil {
		return 0, err
	}
	return n.Int64, nil
}

func (d *DB) queryRow(ctx context.Context, q Query, dst any) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	stmt, args := q.SQL()
	start := time.Now()
	err := d.db.QueryRowContext(ctx, stmt, args...).Scan(dst)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	observability.ObserveQuery(q.Kind(), time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("pgpointcloud %s query: %w", q.Kind(), err)
	}
	return nil
}
