package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// MetricsFile is the telemetry database name inside the data directory.
const MetricsFile = "telemetry.db"

// maxZeroResultQueries bounds the persisted zero-result list.
const maxZeroResultQueries = 100

const telemetrySchema = `
CREATE TABLE IF NOT EXISTS retrieval_daily (
	date            TEXT PRIMARY KEY,
	queries         INTEGER NOT NULL DEFAULT 0,
	zero_results    INTEGER NOT NULL DEFAULT 0,
	database_chunks INTEGER NOT NULL DEFAULT 0,
	web_chunks      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS retrieval_latency (
	date   TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, bucket)
);

CREATE TABLE IF NOT EXISTS retrieval_degraded (
	date  TEXT NOT NULL,
	path  TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, path)
);

CREATE TABLE IF NOT EXISTS zero_result_queries (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	query     TEXT NOT NULL,
	timestamp INTEGER NOT NULL
);
`

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens or creates the telemetry database at path.
// An empty path opens an in-memory database.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create telemetry directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(telemetrySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create telemetry schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// AddCounts adds c to the totals stored for date.
func (s *SQLiteStore) AddCounts(date string, c Counts) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO retrieval_daily (date, queries, zero_results, database_chunks, web_chunks)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			queries         = queries + excluded.queries,
			zero_results    = zero_results + excluded.zero_results,
			database_chunks = database_chunks + excluded.database_chunks,
			web_chunks      = web_chunks + excluded.web_chunks
	`, date, c.Queries, c.ZeroResults, c.DatabaseChunks, c.WebChunks); err != nil {
		return fmt.Errorf("save daily counts: %w", err)
	}

	for bucket, n := range c.Latency {
		if _, err := tx.Exec(`
			INSERT INTO retrieval_latency (date, bucket, count) VALUES (?, ?, ?)
			ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
		`, date, string(bucket), n); err != nil {
			return fmt.Errorf("save latency counts: %w", err)
		}
	}

	for path, n := range c.Degraded {
		if _, err := tx.Exec(`
			INSERT INTO retrieval_degraded (date, path, count) VALUES (?, ?, ?)
			ON CONFLICT(date, path) DO UPDATE SET count = count + excluded.count
		`, date, string(path), n); err != nil {
			return fmt.Errorf("save degraded counts: %w", err)
		}
	}

	return tx.Commit()
}

// AddZeroResultQueries appends queries and trims the table to the newest 100.
func (s *SQLiteStore) AddZeroResultQueries(queries []string, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range queries {
		if _, err := tx.Exec(`INSERT INTO zero_result_queries (query, timestamp) VALUES (?, ?)`, q, at.Unix()); err != nil {
			return fmt.Errorf("insert zero-result query: %w", err)
		}
	}
	if _, err := tx.Exec(`
		DELETE FROM zero_result_queries WHERE id NOT IN (
			SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?
		)
	`, maxZeroResultQueries); err != nil {
		return fmt.Errorf("trim zero-result queries: %w", err)
	}

	return tx.Commit()
}

// Summary aggregates the stored days in [from, to].
func (s *SQLiteStore) Summary(from, to string) (*Snapshot, error) {
	snap := &Snapshot{
		LatencyDistribution: make(map[LatencyBucket]int64),
		Degraded:            make(map[Degradation]int64),
		ZeroResultQueries:   []string{},
	}

	var first sql.NullString
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(queries), 0), COALESCE(SUM(zero_results), 0),
		       COALESCE(SUM(database_chunks), 0), COALESCE(SUM(web_chunks), 0), MIN(date)
		FROM retrieval_daily WHERE date >= ? AND date <= ?
	`, from, to).Scan(&snap.TotalQueries, &snap.ZeroResultCount, &snap.DatabaseChunks, &snap.WebChunks, &first)
	if err != nil {
		return nil, fmt.Errorf("query daily counts: %w", err)
	}
	if first.Valid {
		if since, err := time.Parse(time.DateOnly, first.String); err == nil {
			snap.Since = since
		}
	}

	if err := s.sumInto(`SELECT bucket, SUM(count) FROM retrieval_latency WHERE date >= ? AND date <= ? GROUP BY bucket`,
		from, to, func(key string, n int64) { snap.LatencyDistribution[LatencyBucket(key)] = n }); err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	if err := s.sumInto(`SELECT path, SUM(count) FROM retrieval_degraded WHERE date >= ? AND date <= ? GROUP BY path`,
		from, to, func(key string, n int64) { snap.Degraded[Degradation(key)] = n }); err != nil {
		return nil, fmt.Errorf("query degraded counts: %w", err)
	}

	rows, err := s.db.Query(`SELECT query FROM zero_result_queries ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, err
		}
		snap.ZeroResultQueries = append(snap.ZeroResultQueries, q)
	}
	return snap, rows.Err()
}

func (s *SQLiteStore) sumInto(query, from, to string, set func(string, int64)) error {
	rows, err := s.db.Query(query, from, to)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		set(key, n)
	}
	return rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
