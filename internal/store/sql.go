package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"fleetsync/internal/config"
	"fleetsync/internal/logger"
)

// SQLStore is the durable store backing both the cache and the mutation
// queue. SQLite (pure Go driver) is the default engine for a single device;
// MySQL is supported for a shared depot installation.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

func NewStore(cfg config.StateStorage) (*SQLStore, error) {
	switch cfg.Type {
	case "", "sqlite":
		return newSQLiteStore(cfg.FilePath)
	case "mysql":
		return newMySQLStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported state storage type: %s", cfg.Type)
	}
}

func newSQLiteStore(path string) (*SQLStore, error) {
	if path == "" {
		path = "fleetsync.db"
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create storage directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &SQLStore{db: db, dialect: "sqlite"}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Log.Info("Opened state store", zap.String("engine", "sqlite"), zap.String("path", path))
	return s, nil
}

func newMySQLStore(cfg config.StateStorage) (*SQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	// Retry loop for Ping
	maxRetries := 30
	for i := 0; i < maxRetries; i++ {
		err = db.Ping()
		if err == nil {
			break
		}
		logger.Log.Info("Waiting for state DB...", zap.Error(err), zap.Int("attempt", i+1))
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql after retries: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	s := &SQLStore{db: db, dialect: "mysql"}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Log.Info("Opened state store", zap.String("engine", "mysql"), zap.String("host", cfg.Host))
	return s, nil
}

func (s *SQLStore) migrate() error {
	var stmts []string
	if s.dialect == "mysql" {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS cache_entries (
				cache_key VARCHAR(191) PRIMARY KEY,
				value MEDIUMBLOB NOT NULL,
				stored_at BIGINT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS sync_queue (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				client_key VARCHAR(64) NOT NULL,
				action VARCHAR(16) NOT NULL,
				resource VARCHAR(64) NOT NULL,
				payload MEDIUMBLOB NOT NULL,
				status VARCHAR(16) NOT NULL DEFAULT 'pending',
				attempts INT NOT NULL DEFAULT 0,
				last_error TEXT,
				enqueued_at BIGINT NOT NULL,
				INDEX idx_sync_queue_status (status)
			)`,
		}
	} else {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS cache_entries (
				cache_key TEXT PRIMARY KEY,
				value BLOB NOT NULL,
				stored_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS sync_queue (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				client_key TEXT NOT NULL,
				action TEXT NOT NULL,
				resource TEXT NOT NULL,
				payload BLOB NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				attempts INTEGER NOT NULL DEFAULT 0,
				last_error TEXT,
				enqueued_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue (status)`,
		}
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to migrate state store: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// --- Cache ---

func (s *SQLStore) CacheGet(ctx context.Context, key string) (*CacheEntry, error) {
	query := `SELECT cache_key, value, stored_at FROM cache_entries WHERE cache_key = ?`

	var (
		entry    CacheEntry
		storedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(&entry.Key, (*[]byte)(&entry.Value), &storedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("cache get", err)
	}

	entry.StoredAt = time.UnixMilli(storedAt)
	return &entry, nil
}

func (s *SQLStore) CacheSet(ctx context.Context, key string, value any) error {
	raw, err := marshalValue(value)
	if err != nil {
		return storageErr("cache set", err)
	}

	var query string
	if s.dialect == "mysql" {
		query = `INSERT INTO cache_entries (cache_key, value, stored_at) VALUES (?, ?, ?)
				 ON DUPLICATE KEY UPDATE value = VALUES(value), stored_at = VALUES(stored_at)`
	} else {
		query = `INSERT INTO cache_entries (cache_key, value, stored_at) VALUES (?, ?, ?)
				 ON CONFLICT(cache_key) DO UPDATE SET value = excluded.value, stored_at = excluded.stored_at`
	}

	_, err = s.db.ExecContext(ctx, query, key, []byte(raw), time.Now().UnixMilli())
	return storageErr("cache set", err)
}

func (s *SQLStore) CacheGetFresh(ctx context.Context, key string, maxAge time.Duration) (json.RawMessage, error) {
	entry, err := s.CacheGet(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	if time.Since(entry.StoredAt) > maxAge {
		return nil, nil
	}
	return entry.Value, nil
}

func (s *SQLStore) CacheDelete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key)
	return storageErr("cache delete", err)
}

func (s *SQLStore) CacheClear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	return storageErr("cache clear", err)
}

// --- Mutation queue ---

func (s *SQLStore) QueueAppend(ctx context.Context, m *QueuedMutation) (int64, error) {
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now()
	}
	m.Status = StatusPending
	m.Attempts = 0

	query := `INSERT INTO sync_queue (client_key, action, resource, payload, status, attempts, enqueued_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query,
		m.ClientKey,
		string(m.Action),
		m.Resource,
		[]byte(m.Payload),
		string(m.Status),
		m.Attempts,
		m.EnqueuedAt.UnixMilli(),
	)
	if err != nil {
		return 0, storageErr("queue append", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("queue append", err)
	}
	m.ID = id
	return id, nil
}

func (s *SQLStore) QueueListPending(ctx context.Context) ([]*QueuedMutation, error) {
	return s.queueList(ctx, StatusPending)
}

func (s *SQLStore) QueueListFailed(ctx context.Context) ([]*QueuedMutation, error) {
	return s.queueList(ctx, StatusFailed)
}

func (s *SQLStore) queueList(ctx context.Context, status MutationStatus) ([]*QueuedMutation, error) {
	query := `SELECT id, client_key, action, resource, payload, status, attempts, last_error, enqueued_at
			  FROM sync_queue WHERE status = ? ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, storageErr("queue list", err)
	}
	defer rows.Close()

	var items []*QueuedMutation
	for rows.Next() {
		var (
			m          QueuedMutation
			enqueuedAt int64
		)
		err := rows.Scan(
			&m.ID,
			&m.ClientKey,
			(*string)(&m.Action),
			&m.Resource,
			(*[]byte)(&m.Payload),
			(*string)(&m.Status),
			&m.Attempts,
			&m.LastError,
			&enqueuedAt,
		)
		if err != nil {
			return nil, storageErr("queue list", err)
		}
		m.EnqueuedAt = time.UnixMilli(enqueuedAt)
		items = append(items, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("queue list", err)
	}

	return items, nil
}

func (s *SQLStore) QueueCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE status = ?`, string(StatusPending),
	).Scan(&count)
	if err != nil {
		return 0, storageErr("queue count", err)
	}
	return count, nil
}

// QueueCountUnresolved counts mutations that still need attention: pending
// ones awaiting the next drain plus failed ones awaiting retry or discard.
func (s *SQLStore) QueueCountUnresolved(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE status IN (?, ?)`,
		string(StatusPending), string(StatusFailed),
	).Scan(&count)
	if err != nil {
		return 0, storageErr("queue count", err)
	}
	return count, nil
}

// QueueRemove deletes a queue item. Removing a non-existent id is a no-op.
func (s *SQLStore) QueueRemove(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	return storageErr("queue remove", err)
}

func (s *SQLStore) QueueMarkFailed(ctx context.Context, id int64, errorMessage string) error {
	query := `UPDATE sync_queue SET status = ?, attempts = attempts + 1, last_error = ? WHERE id = ?`
	_, err := s.db.ExecContext(ctx, query, string(StatusFailed), errorMessage, id)
	return storageErr("queue mark failed", err)
}

// QueueRetry puts a failed item back into the pending set so the next drain
// pass picks it up.
func (s *SQLStore) QueueRetry(ctx context.Context, id int64) error {
	query := `UPDATE sync_queue SET status = ? WHERE id = ? AND status = ?`
	_, err := s.db.ExecContext(ctx, query, string(StatusPending), id, string(StatusFailed))
	return storageErr("queue retry", err)
}

func (s *SQLStore) QueueClear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue`)
	return storageErr("queue clear", err)
}

func marshalValue(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal cache value: %w", err)
		}
		return raw, nil
	}
}
