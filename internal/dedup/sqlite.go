package dedup

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/Rajchodisetti/stock-alerts/internal/observ"
)

const schema = `
CREATE TABLE IF NOT EXISTS dedup (
	kind       TEXT NOT NULL,
	key        TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (kind, key)
);
CREATE INDEX IF NOT EXISTS idx_dedup_kind_created ON dedup(kind, created_at);
`

// SQLiteLog stores every kind in one dedup table
type SQLiteLog struct {
	conn *sql.DB
	now  func() time.Time
}

// NewSQLiteLog opens (creating if needed) the database at dbPath
func NewSQLiteLog(dbPath string) (*SQLiteLog, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer keeps in-memory databases shared and avoids SQLITE_BUSY
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate dedup schema: %w", err)
	}
	return &SQLiteLog{conn: conn, now: time.Now}, nil
}

func (s *SQLiteLog) Has(kind Kind, key string) (bool, error) {
	if !kind.valid() {
		return false, fmt.Errorf("unknown dedup kind %q", kind)
	}
	var n int
	err := s.conn.QueryRow(`SELECT COUNT(1) FROM dedup WHERE kind = ? AND key = ?`, string(kind), key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query dedup: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteLog) Add(kind Kind, key string) error {
	if !kind.valid() {
		return fmt.Errorf("unknown dedup kind %q", kind)
	}
	res, err := s.conn.Exec(`INSERT OR IGNORE INTO dedup (kind, key, created_at) VALUES (?, ?, ?)`,
		string(kind), key, s.now().UTC())
	if err != nil {
		observ.IncCounter("dedup_write_errors_total", map[string]string{"kind": string(kind)})
		return fmt.Errorf("failed to insert dedup key: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		observ.IncCounter("dedup_keys_added_total", map[string]string{"kind": string(kind)})
	}
	return nil
}

func (s *SQLiteLog) Keys(kind Kind) ([]string, error) {
	if !kind.valid() {
		return nil, fmt.Errorf("unknown dedup kind %q", kind)
	}
	rows, err := s.conn.Query(`SELECT key FROM dedup WHERE kind = ? ORDER BY rowid`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query dedup keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan dedup key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteLog) PurgeSymbol(symbol string) (int, error) {
	prefix := symbolPrefix(symbol)
	if prefix == "" {
		return 0, nil
	}
	// substr avoids LIKE treating the underscore separator as a wildcard
	res, err := s.conn.Exec(`DELETE FROM dedup WHERE substr(key, 1, ?) = ?`, len(prefix), prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s: %w", symbol, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		observ.Log("dedup_symbol_purged", map[string]any{"symbol": symbol, "removed": n})
	}
	return int(n), nil
}

func (s *SQLiteLog) Close() error {
	return s.conn.Close()
}
