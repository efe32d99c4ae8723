// Package sqlite provides the SQLite-backed durable store for the offline
// sync queue.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	stdSync "sync"
	"time"

	"github.com/Skrufy/ConstructionManager-sub008/fieldsync"
	"github.com/Skrufy/ConstructionManager-sub008/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Custom errors for better error handling
var (
	ErrStoreClosed      = errors.New("store is closed")
	ErrInvalidTableName = errors.New("invalid table name")
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds configuration options for the queue store.
//
// Production-ready defaults are applied by DefaultConfig() including:
//   - WAL mode enabled for better concurrency
//   - Connection pool with 25 max open, 5 max idle connections
//   - Connection lifetimes of 1 hour max, 5 minutes max idle
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:fieldsync.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// TableName is the named collection this store persists.
	// Defaults to "sync_queue" if empty.
	TableName string

	// Connection pool settings for production workloads.
	MaxOpenConns    int           // Default: 25
	MaxIdleConns    int           // Default: 5
	ConnMaxLifetime time.Duration // Default: 1h
	ConnMaxIdleTime time.Duration // Default: 5m
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.TableName == "" {
		c.TableName = "sync_queue"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "_journal_mode=") {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// NewWithDataSource is a convenience constructor using default settings.
func NewWithDataSource(dataSourceName string) (*QueueStore, error) {
	return New(DefaultConfig(dataSourceName))
}

// QueueStore implements the fieldsync.ItemStore interface over SQLite.
type QueueStore struct {
	db        *sql.DB
	mu        stdSync.RWMutex
	closed    bool
	tableName string
}

// Compile-time check that QueueStore satisfies the ItemStore interface
var _ fieldsync.ItemStore = (*QueueStore)(nil)

// New creates a QueueStore from a Config.
func New(config *Config) (*QueueStore, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}
	if !tableNamePattern.MatchString(config.TableName) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTableName, config.TableName)
	}

	logger := logging.WithComponent(logging.Component("sqlite-store"))
	logger.InfoContext(context.Background(), "Opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &QueueStore{
		db:        db,
		tableName: config.TableName,
	}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	logger.InfoContext(context.Background(), "sync queue store initialized",
		slog.String("table_name", config.TableName),
	)
	return store, nil
}

// setupSchema creates the queue table if it doesn't exist.
func (s *QueueStore) setupSchema() error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %[1]s (
        id           INTEGER PRIMARY KEY AUTOINCREMENT,
        entity_type  TEXT NOT NULL,
        action       TEXT NOT NULL,
        payload      TEXT,
        status       TEXT NOT NULL,
        retry_count  INTEGER NOT NULL DEFAULT 0,
        created_at   TEXT NOT NULL,
        last_attempt TEXT,
        error        TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_%[1]s_status ON %[1]s (status);
    CREATE INDEX IF NOT EXISTS idx_%[1]s_created_at ON %[1]s (created_at);
    `, s.tableName)
	_, err := s.db.Exec(query)
	return err
}

// Add inserts a new queue item and returns the AUTOINCREMENT key.
func (s *QueueStore) Add(ctx context.Context, item *fieldsync.QueueItem) (int64, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0, ErrStoreClosed
	}
	s.mu.RUnlock()

	payloadJSON, err := marshalPayload(item.Payload)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (entity_type, action, payload, status, retry_count, created_at, last_attempt, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.tableName)
	res, err := s.db.ExecContext(ctx, query,
		string(item.EntityType),
		string(item.Action),
		payloadJSON,
		string(item.Status),
		item.RetryCount,
		formatTime(item.CreatedAt),
		formatTimePtr(item.LastAttempt),
		nullableString(item.Error),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert queue item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted key: %w", err)
	}
	item.ID = id
	return id, nil
}

// Get returns the item with the given key.
func (s *QueueStore) Get(ctx context.Context, id int64) (*fieldsync.QueueItem, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	query := fmt.Sprintf(
		`SELECT id, entity_type, action, payload, status, retry_count, created_at, last_attempt, error
		 FROM %s WHERE id = ?`, s.tableName)
	row := s.db.QueryRowContext(ctx, query, id)

	item, err := scanItem(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fieldsync.ErrItemNotFound
	}
	return item, err
}

// GetAll returns every item in the collection ordered by key.
func (s *QueueStore) GetAll(ctx context.Context) ([]*fieldsync.QueueItem, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	query := fmt.Sprintf(
		`SELECT id, entity_type, action, payload, status, retry_count, created_at, last_attempt, error
		 FROM %s ORDER BY id ASC`, s.tableName)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue items: %w", err)
	}
	defer rows.Close()

	var items []*fieldsync.QueueItem
	for rows.Next() {
		item, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return items, nil
}

// Put upserts an item by its key.
func (s *QueueStore) Put(ctx context.Context, item *fieldsync.QueueItem) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	payloadJSON, err := marshalPayload(item.Payload)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (id, entity_type, action, payload, status, retry_count, created_at, last_attempt, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   entity_type = excluded.entity_type,
		   action = excluded.action,
		   payload = excluded.payload,
		   status = excluded.status,
		   retry_count = excluded.retry_count,
		   created_at = excluded.created_at,
		   last_attempt = excluded.last_attempt,
		   error = excluded.error`, s.tableName)
	_, err = s.db.ExecContext(ctx, query,
		item.ID,
		string(item.EntityType),
		string(item.Action),
		payloadJSON,
		string(item.Status),
		item.RetryCount,
		formatTime(item.CreatedAt),
		formatTimePtr(item.LastAttempt),
		nullableString(item.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert queue item: %w", err)
	}
	return nil
}

// Delete removes the item with the given key. Missing keys are not an error.
func (s *QueueStore) Delete(ctx context.Context, id int64) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete queue item: %w", err)
	}
	return nil
}

// Clear removes every item in the collection.
func (s *QueueStore) Clear(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	query := fmt.Sprintf(`DELETE FROM %s`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *QueueStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// Stats returns database statistics for monitoring
func (s *QueueStore) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return sql.DBStats{}
	}

	return s.db.Stats()
}

// scanItem reads one row into a QueueItem via the given Scan function.
func scanItem(scan func(dest ...any) error) (*fieldsync.QueueItem, error) {
	var (
		item        fieldsync.QueueItem
		entityType  string
		action      string
		payload     sql.NullString
		status      string
		createdAt   string
		lastAttempt sql.NullString
		errMsg      sql.NullString
	)

	if err := scan(&item.ID, &entityType, &action, &payload, &status, &item.RetryCount, &createdAt, &lastAttempt, &errMsg); err != nil {
		return nil, err
	}

	item.EntityType = fieldsync.EntityType(entityType)
	item.Action = fieldsync.Action(action)
	item.Status = fieldsync.Status(status)

	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &item.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at %q: %w", createdAt, err)
	}
	item.CreatedAt = created

	if lastAttempt.Valid && lastAttempt.String != "" {
		attempt, err := time.Parse(time.RFC3339Nano, lastAttempt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_attempt %q: %w", lastAttempt.String, err)
		}
		item.LastAttempt = &attempt
	}

	if errMsg.Valid {
		item.Error = errMsg.String
	}

	return &item, nil
}

func marshalPayload(payload map[string]any) (sql.NullString, error) {
	if payload == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
