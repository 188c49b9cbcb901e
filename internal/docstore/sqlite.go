package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore implements Store using SQLite as the backing database. It
// provides durable document storage for single-node deployments. SQLite
// serializes writers, so a read-modify-write inside one database
// transaction behaves as an atomic unit without an application-level retry
// loop; BUSY errors are retried a bounded number of times.
//
// Live watches are polling-based: a global revision counter is bumped on
// every mutation and pollers re-read state when it moves.
type SQLiteStore struct {
	db            *sql.DB
	watchInterval time.Duration
}

// busyRetries bounds retries of a transaction that fails with SQLITE_BUSY.
const busyRetries = 5

// NewSQLiteStore creates a new SQLiteStore with the given DSN and initializes
// the database schema. watchInterval controls the polling cadence of Watch
// and WatchAll; zero selects a 500ms default.
func NewSQLiteStore(dsn string, watchInterval time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}

	if watchInterval <= 0 {
		watchInterval = 500 * time.Millisecond
	}

	s := &SQLiteStore{db: db, watchInterval: watchInterval}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite database: %w", err)
	}
	return s, nil
}

// initDB applies PRAGMAs and creates the required tables.
// This is safe to call multiple times (idempotent via IF NOT EXISTS).
func (s *SQLiteStore) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			key        TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			version    INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS revision (
			id  INTEGER PRIMARY KEY CHECK (id = 1),
			seq INTEGER NOT NULL
		);

		INSERT OR IGNORE INTO revision (id, seq) VALUES (1, 0);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func decodeDoc(data string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return doc, nil
}

func encodeDoc(doc Document) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encoding document: %w", err)
	}
	return string(data), nil
}

func sqliteNow() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Document, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE key = ?", key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting document %q: %w", key, err)
	}
	return decodeDoc(data)
}

func (s *SQLiteStore) Set(ctx context.Context, key string, fields Document, merge bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return setInTx(ctx, tx, key, fields, merge)
	})
}

func setInTx(ctx context.Context, tx *sql.Tx, key string, fields Document, merge bool) error {
	next := fields
	if merge {
		var data string
		err := tx.QueryRowContext(ctx,
			"SELECT data FROM documents WHERE key = ?", key).Scan(&data)
		switch {
		case err == sql.ErrNoRows:
			// Merge into an absent document behaves like a plain set.
		case err != nil:
			return fmt.Errorf("reading document %q for merge: %w", key, err)
		default:
			existing, decErr := decodeDoc(data)
			if decErr != nil {
				return decErr
			}
			next = MergeDoc(existing, fields)
		}
	}

	encoded, err := encodeDoc(next)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (key, data, version, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data,
			version = documents.version + 1, updated_at = excluded.updated_at`,
		key, encoded, sqliteNow())
	if err != nil {
		return fmt.Errorf("writing document %q: %w", key, err)
	}
	return bumpRevision(ctx, tx)
}

func bumpRevision(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "UPDATE revision SET seq = seq + 1 WHERE id = 1"); err != nil {
		return fmt.Errorf("bumping revision: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE key = ?", key)
		if err != nil {
			return fmt.Errorf("deleting document %q: %w", key, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		return bumpRevision(ctx, tx)
	})
}

func (s *SQLiteStore) List(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM documents ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		doc, err := decodeDoc(data)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) revision(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, "SELECT seq FROM revision WHERE id = 1").Scan(&seq)
	return seq, err
}

// Watch polls the global revision counter and re-reads the document when it
// moves. The first emission reflects current state.
func (s *SQLiteStore) Watch(ctx context.Context, key string) (<-chan Snapshot, error) {
	out := make(chan Snapshot, 1)

	go func() {
		defer close(out)
		ticker := time.NewTicker(s.watchInterval)
		defer ticker.Stop()

		var lastSeq int64 = -1
		for {
			seq, err := s.revision(ctx)
			if err == nil && seq != lastSeq {
				lastSeq = seq
				snap := Snapshot{}
				doc, getErr := s.Get(ctx, key)
				if getErr == nil {
					snap.Exists = true
					snap.Doc = doc
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// WatchAll polls the global revision counter and re-lists the collection
// when it moves.
func (s *SQLiteStore) WatchAll(ctx context.Context) (<-chan []Document, error) {
	out := make(chan []Document, 1)

	go func() {
		defer close(out)
		ticker := time.NewTicker(s.watchInterval)
		defer ticker.Stop()

		var lastSeq int64 = -1
		for {
			seq, err := s.revision(ctx)
			if err == nil && seq != lastSeq {
				lastSeq = seq
				docs, listErr := s.List(ctx)
				if listErr == nil {
					select {
					case out <- docs:
					case <-ctx.Done():
						return
					}
				}
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// sqlTx adapts a database transaction to the Tx interface. SQLite's writer
// serialization makes the whole read-modify-write atomic in one pass.
type sqlTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqlTx) Get(key string) (Document, error) {
	var data string
	err := t.tx.QueryRowContext(t.ctx,
		"SELECT data FROM documents WHERE key = ?", key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting document %q: %w", key, err)
	}
	return decodeDoc(data)
}

func (t *sqlTx) Set(key string, doc Document) error {
	return setInTx(t.ctx, t.tx, key, doc, false)
}

func (t *sqlTx) Update(key string, fields Document) error {
	return setInTx(t.ctx, t.tx, key, fields, true)
}

func (s *SQLiteStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < busyRetries; attempt++ {
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			return fn(&sqlTx{ctx: ctx, tx: tx})
		})
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		lastErr = err
		select {
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %v", ErrConflict, lastErr)
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ensure SQLiteStore implements Store at compile time.
var _ Store = (*SQLiteStore)(nil)
