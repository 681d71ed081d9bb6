package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const collectionsTable = "policywatch_collections"

// SQLStore keeps each collection as one row of a key/body table.
// It works against Postgres and SQLite, which share the ON CONFLICT upsert.
type SQLStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	now     func() time.Time
}

var _ DocumentStore = (*SQLStore)(nil)

// NewSQLStore wires a sql.DB; driver selects the placeholder style.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	var placeholder sq.PlaceholderFormat = sq.Question
	if driver == "postgres" {
		placeholder = sq.Dollar
	}
	return &SQLStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
		now:     time.Now,
	}
}

// OpenSQLStore opens the database, checks connectivity and ensures the schema.
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	store := NewSQLStore(db, driver)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// EnsureSchema creates the collections table when missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS ` + collectionsTable + ` (
		name       TEXT PRIMARY KEY,
		body       TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create collections table: %w", err)
	}
	return nil
}

func (s *SQLStore) readQuery(collection string) (string, []any, error) {
	return s.builder.
		Select("body").
		From(collectionsTable).
		Where(sq.Eq{"name": collection}).
		ToSql()
}

func (s *SQLStore) writeQuery(collection string, data []byte) (string, []any, error) {
	return s.builder.
		Insert(collectionsTable).
		Columns("name", "body", "updated_at").
		Values(collection, string(data), s.now().UTC()).
		Suffix("ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at").
		ToSql()
}

func (s *SQLStore) Read(ctx context.Context, collection string) ([]byte, error) {
	query, args, err := s.readQuery(collection)
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var body string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select collection: %w", err)
	}
	return []byte(body), nil
}

func (s *SQLStore) Write(ctx context.Context, collection string, data []byte) error {
	query, args, err := s.writeQuery(collection, data)
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert collection: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
