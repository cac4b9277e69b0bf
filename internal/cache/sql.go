package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/kjstillabower/weather-know/internal/models"
)

// Dialect selects placeholder syntax for the SQL store.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

const schema = `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key   TEXT PRIMARY KEY,
		data  TEXT NOT NULL,
		ts_ms BIGINT NOT NULL
	)`

// SQLCache implements Store over a single key/value table. It backs both the
// on-disk sqlite store and the postgres store.
type SQLCache struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLite opens (creating if needed) a sqlite database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return newSQLCache(ctx, db, DialectSQLite)
}

// OpenPostgres connects to dsn using the pgx stdlib driver.
func OpenPostgres(ctx context.Context, dsn string) (*SQLCache, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return newSQLCache(ctx, db, DialectPostgres)
}

func newSQLCache(ctx context.Context, db *sql.DB, d Dialect) (*SQLCache, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &SQLCache{db: db, dialect: d}, nil
}

// rebind rewrites ? placeholders as $1..$n for postgres.
func (c *SQLCache) rebind(q string) string {
	if c.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get implements Store.Get.
func (c *SQLCache) Get(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	var data string
	var ts int64
	err := c.db.QueryRowContext(ctx,
		c.rebind(`SELECT data, ts_ms FROM cache_entries WHERE key = ?`), key).Scan(&data, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("reading entry %s: %w", key, err)
	}
	return models.CacheEntry{Data: []byte(data), Timestamp: ts}, true, nil
}

// Set implements Store.Set as an upsert.
func (c *SQLCache) Set(ctx context.Context, key string, entry models.CacheEntry) error {
	_, err := c.db.ExecContext(ctx, c.rebind(`
		INSERT INTO cache_entries (key, data, ts_ms)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			data = excluded.data,
			ts_ms = excluded.ts_ms`),
		key, string(entry.Data), entry.Timestamp)
	if err != nil {
		return fmt.Errorf("writing entry %s: %w", key, err)
	}
	return nil
}

// Prune implements Pruner. Entries written before cutoff are deleted.
func (c *SQLCache) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		c.rebind(`DELETE FROM cache_entries WHERE ts_ms < ?`), cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning entries: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks the database connection. Used for health checks.
func (c *SQLCache) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *SQLCache) Close() error {
	return c.db.Close()
}
