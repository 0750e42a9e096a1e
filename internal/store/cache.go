// Package store persists Neshan responses in a local SQLite database so that
// repeated lookups do not spend API quota.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/1995parham/neshan-go/internal/logging"
)

// Driver names accepted by Open.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverMattn   = "sqlite3" // github.com/mattn/go-sqlite3, cgo
)

// Stats summarizes cache contents and effectiveness.
type Stats struct {
	Entries   int64            `json:"entries"`
	Expired   int64            `json:"expired"`
	Hits      int64            `json:"hits"`
	Misses    int64            `json:"misses"`
	ByOp      map[string]int64 `json:"by_op"`
	SizeBytes int64            `json:"size_bytes"`
}

// Cache is a TTL response cache keyed by (operation, key).
type Cache struct {
	db     *sql.DB
	driver string
	path   string
	ttl    time.Duration
	now    func() time.Time

	mu sync.Mutex
}

// Open creates or opens the cache database at path.
// A ttl of zero keeps entries forever.
func Open(driver, path string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	var dsn string
	switch driver {
	case DriverModernc:
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	case DriverMattn:
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	default:
		return nil, fmt.Errorf("unsupported cache driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	c := &Cache{db: db, driver: driver, path: path, ttl: ttl, now: time.Now}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	logging.Cache("Opened cache %s (driver=%s ttl=%v)", path, driver, ttl)
	return c, nil
}

func (c *Cache) initSchema() error {
	_, err := c.db.Exec(`
	CREATE TABLE IF NOT EXISTS responses (
		op TEXT NOT NULL,
		key TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		hits INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (op, key)
	);
	CREATE INDEX IF NOT EXISTS idx_responses_created ON responses(created_at);
	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0
	);
	`)
	return err
}

// Close closes the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Path returns the database file path.
func (c *Cache) Path() string {
	return c.path
}

// Driver returns the database/sql driver name in use.
func (c *Cache) Driver() string {
	return c.driver
}

func (c *Cache) expiredBefore() int64 {
	if c.ttl <= 0 {
		return 0
	}
	return c.now().Add(-c.ttl).UnixMilli()
}

// Get decodes the cached payload for (op, key) into out.
// Expired rows count as misses.
func (c *Cache) Get(ctx context.Context, op, key string, out any) (bool, error) {
	var (
		payload   []byte
		createdAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT payload, created_at FROM responses WHERE op = ? AND key = ?`, op, key,
	).Scan(&payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		c.countMiss(ctx, op, key)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache lookup %s/%s: %w", op, key, err)
	}

	if createdAt < c.expiredBefore() {
		c.countMiss(ctx, op, key)
		logging.CacheDebug("Expired %s/%s", op, key)
		return false, nil
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("cache decode %s/%s: %w", op, key, err)
	}

	if _, err := c.db.ExecContext(ctx,
		`UPDATE responses SET hits = hits + 1 WHERE op = ? AND key = ?`, op, key); err != nil {
		logging.CacheWarn("Failed to bump hit counter for %s/%s: %v", op, key, err)
	}
	logging.CacheDebug("Hit %s/%s", op, key)
	return true, nil
}

// countMiss persists the miss counter so it survives across processes.
func (c *Cache) countMiss(ctx context.Context, op, key string) {
	if _, err := c.db.ExecContext(ctx, `
		INSERT INTO counters (name, value) VALUES ('misses', 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1`); err != nil {
		logging.CacheWarn("Failed to bump miss counter for %s/%s: %v", op, key, err)
	}
}

// Put stores v under (op, key), replacing any previous entry.
func (c *Cache) Put(ctx context.Context, op, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s/%s: %w", op, key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO responses (op, key, payload, created_at, hits) VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(op, key) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
		op, key, payload, c.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("cache store %s/%s: %w", op, key, err)
	}
	return nil
}

// Purge deletes entries. With expiredOnly it keeps entries still within the TTL.
// A full purge also resets the miss counter.
func (c *Cache) Purge(ctx context.Context, expiredOnly bool) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		res sql.Result
		err error
	)
	if expiredOnly {
		if c.ttl <= 0 {
			return 0, nil
		}
		res, err = c.db.ExecContext(ctx, `DELETE FROM responses WHERE created_at < ?`, c.expiredBefore())
	} else {
		res, err = c.db.ExecContext(ctx, `DELETE FROM responses`)
		if err == nil {
			_, err = c.db.ExecContext(ctx, `DELETE FROM counters`)
		}
	}
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	n, _ := res.RowsAffected()
	logging.Cache("Purged %d entries (expired_only=%v)", n, expiredOnly)
	return n, nil
}

// Stats reports cache size and hit counters.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByOp: make(map[string]int64)}

	if err := c.db.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT value FROM counters WHERE name = 'misses'), 0)`).Scan(&stats.Misses); err != nil {
		return stats, fmt.Errorf("cache stats: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, `SELECT op, COUNT(*), COALESCE(SUM(hits), 0) FROM responses GROUP BY op`)
	if err != nil {
		return stats, fmt.Errorf("cache stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			op         string
			count, hit int64
		)
		if err := rows.Scan(&op, &count, &hit); err != nil {
			return stats, fmt.Errorf("cache stats: %w", err)
		}
		stats.ByOp[op] = count
		stats.Entries += count
		stats.Hits += hit
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("cache stats: %w", err)
	}

	if before := c.expiredBefore(); before > 0 {
		if err := c.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM responses WHERE created_at < ?`, before).Scan(&stats.Expired); err != nil {
			return stats, fmt.Errorf("cache stats: %w", err)
		}
	}

	if info, err := os.Stat(c.path); err == nil {
		stats.SizeBytes = info.Size()
	}
	return stats, nil
}
