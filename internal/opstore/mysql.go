package opstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/pawsuite/kennelsync/internal/core"
)

// MySQLStore implements core.OperationStore on a relational table. The
// AUTO_INCREMENT primary key gives the FIFO ordering and an index on the
// operation type serves ListByType.
type MySQLStore struct {
	db        *sql.DB
	tableName string
	closed    bool
}

// NewMySQLStore creates a new MySQL-backed operation store and ensures the
// backing table exists.
func NewMySQLStore(host string, port int, database, username, password string, maxOpenConns, maxIdleConns int, connMaxLifetime, connectionTimeout time.Duration, namespace string) (*MySQLStore, error) {
	if host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if database == "" {
		return nil, fmt.Errorf("database is required")
	}
	if namespace == "" {
		namespace = "kennelsync"
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=%s",
		username, password, host, port, database, connectionTimeout)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	s := &MySQLStore{db: db, tableName: namespace + "_operations"}
	if err := s.ensureTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		url VARCHAR(2048) NOT NULL,
		method VARCHAR(16) NOT NULL,
		headers JSON,
		body MEDIUMBLOB,
		op_type VARCHAR(128) NOT NULL,
		op_status VARCHAR(16) NOT NULL DEFAULT 'pending',
		attempts INT NOT NULL DEFAULT 0,
		created_at TIMESTAMP(6) NOT NULL,
		updated_at TIMESTAMP(6) NOT NULL,
		INDEX idx_op_type (op_type)
	) ENGINE=InnoDB`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.tableName, err)
	}
	return nil
}

// Enqueue persists a new operation and returns its AUTO_INCREMENT ID.
func (s *MySQLStore) Enqueue(ctx context.Context, in core.OperationInput) (int64, error) {
	if s.closed {
		return 0, core.NewPersistenceError("mysql", "enqueue", core.ErrStoreClosed)
	}

	var headers interface{}
	if len(in.Headers) > 0 {
		data, err := json.Marshal(in.Headers)
		if err != nil {
			return 0, core.NewPersistenceError("mysql", "enqueue", err)
		}
		headers = string(data)
	}

	now := time.Now().UTC()
	query := fmt.Sprintf(`INSERT INTO %s
		(url, method, headers, body, op_type, op_status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`, s.tableName)

	res, err := s.db.ExecContext(ctx, query,
		in.URL, in.Method, headers, in.Body, in.Type, string(core.StatusPending), now, now)
	if err != nil {
		return 0, core.NewPersistenceError("mysql", "enqueue", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, core.NewPersistenceError("mysql", "enqueue", err)
	}
	return id, nil
}

// ListAll returns all operations oldest first.
func (s *MySQLStore) ListAll(ctx context.Context) ([]*core.QueuedOperation, error) {
	if s.closed {
		return nil, core.NewPersistenceError("mysql", "listAll", core.ErrStoreClosed)
	}

	query := fmt.Sprintf(`SELECT id, url, method, headers, body, op_type, op_status, attempts, created_at, updated_at
		FROM %s ORDER BY id ASC`, s.tableName)
	return s.queryOps(ctx, query)
}

// ListByType returns operations of one category, oldest first.
func (s *MySQLStore) ListByType(ctx context.Context, opType string) ([]*core.QueuedOperation, error) {
	if s.closed {
		return nil, core.NewPersistenceError("mysql", "listByType", core.ErrStoreClosed)
	}

	query := fmt.Sprintf(`SELECT id, url, method, headers, body, op_type, op_status, attempts, created_at, updated_at
		FROM %s WHERE op_type = ? ORDER BY id ASC`, s.tableName)
	return s.queryOps(ctx, query, opType)
}

func (s *MySQLStore) queryOps(ctx context.Context, query string, args ...interface{}) ([]*core.QueuedOperation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.NewPersistenceError("mysql", "list", err)
	}
	defer rows.Close()

	var ops []*core.QueuedOperation
	for rows.Next() {
		op := &core.QueuedOperation{}
		var headers sql.NullString
		var status string
		if err := rows.Scan(&op.ID, &op.URL, &op.Method, &headers, &op.Body,
			&op.Type, &status, &op.Attempts, &op.Timestamp, &op.UpdatedAt); err != nil {
			return nil, core.NewPersistenceError("mysql", "list", err)
		}
		op.Status = core.OperationStatus(status)
		if headers.Valid {
			_ = json.Unmarshal([]byte(headers.String), &op.Headers)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewPersistenceError("mysql", "list", err)
	}
	return ops, nil
}

// Remove deletes an operation. Unknown IDs are a no-op.
func (s *MySQLStore) Remove(ctx context.Context, id int64) error {
	if s.closed {
		return core.NewPersistenceError("mysql", "remove", core.ErrStoreClosed)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.tableName)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return core.NewPersistenceError("mysql", "remove", err)
	}
	return nil
}

// UpdateStatus transitions an operation's status. A transition to
// StatusFailed increments the attempt counter.
func (s *MySQLStore) UpdateStatus(ctx context.Context, id int64, status core.OperationStatus) error {
	if s.closed {
		return core.NewPersistenceError("mysql", "updateStatus", core.ErrStoreClosed)
	}

	increment := ""
	if status == core.StatusFailed {
		increment = ", attempts = attempts + 1"
	}
	query := fmt.Sprintf("UPDATE %s SET op_status = ?, updated_at = ?%s WHERE id = ?",
		s.tableName, increment)

	res, err := s.db.ExecContext(ctx, query, string(status), time.Now().UTC(), id)
	if err != nil {
		return core.NewPersistenceError("mysql", "updateStatus", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.NewPersistenceError("mysql", "updateStatus", err)
	}
	if affected == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Count returns the number of stored operations.
func (s *MySQLStore) Count(ctx context.Context) (int, error) {
	if s.closed {
		return 0, core.NewPersistenceError("mysql", "count", core.ErrStoreClosed)
	}

	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.tableName)
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, core.NewPersistenceError("mysql", "count", err)
	}
	return n, nil
}

// Clear removes all operations.
func (s *MySQLStore) Clear(ctx context.Context) error {
	if s.closed {
		return core.NewPersistenceError("mysql", "clear", core.ErrStoreClosed)
	}

	query := fmt.Sprintf("TRUNCATE TABLE %s", s.tableName)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return core.NewPersistenceError("mysql", "clear", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *MySQLStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// MySQLStoreFactory implements the Factory interface for MySQL.
type MySQLStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *MySQLStoreFactory) Type() string {
	return "mysql"
}

// Validate validates the MySQL-specific configuration.
func (f *MySQLStoreFactory) Validate(config Config) error {
	if config.Type != "mysql" {
		return fmt.Errorf("invalid type for MySQL factory: %s", config.Type)
	}
	if config.Host == "" {
		return fmt.Errorf("host is required for MySQL")
	}
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got: %d", config.Port)
	}
	if config.Database == "" {
		return fmt.Errorf("database is required for MySQL")
	}
	if config.Username == "" {
		return fmt.Errorf("username is required for MySQL")
	}
	return nil
}

// Create creates a new MySQL operation store from the configuration.
func (f *MySQLStoreFactory) Create(config Config) (core.OperationStore, error) {
	store, err := NewMySQLStore(
		config.Host,
		config.Port,
		config.Database,
		config.Username,
		config.Password,
		config.MaxOpenConns,
		config.MaxIdleConns,
		config.ConnMaxLifetime,
		config.ConnectionTimeout,
		config.Namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create MySQL operation store: %w", err)
	}
	return store, nil
}

func init() {
	RegisterFactory(&MySQLStoreFactory{})
}
