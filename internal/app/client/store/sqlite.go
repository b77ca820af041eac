package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"studysync/internal/infrastructure/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore хранилище на SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore открывает базу по пути path и применяет миграции
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return newSQLiteStore(path, migration.DefaultEngine)
}

func newSQLiteStore(path string, engine migration.MigrationEngine) (*SQLiteStore, error) {
	mg := migration.NewMigration(migrations, "migrations", "sqlite3://"+path, engine)
	if err := mg.Up(); err != nil {
		return nil, fmt.Errorf("ошибка миграции базы данных: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы данных: %w", err)
	}
	// Один писатель: SQLite не любит конкурентные транзакции записи
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, collection, key string, value []byte, indexes Indexes) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("put", collection, key, err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv (collection, key, value, seq, updated_at)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM kv), ?)
		ON CONFLICT(collection, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, collection, key, value, time.Now().UTC())
	if err != nil {
		return storageErr("put", collection, key, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM kv_index WHERE collection = ? AND key = ?`, collection, key); err != nil {
		return storageErr("put index", collection, key, err)
	}

	for name, v := range indexes {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO kv_index (collection, key, name, value) VALUES (?, ?, ?, ?)`,
			collection, key, name, v)
		if err != nil {
			return storageErr("put index", collection, key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit", collection, key, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE collection = ? AND key = ?`, collection, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get", collection, key, err)
	}
	return value, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE collection = ? AND key = ?`, collection, key)
	if err != nil {
		return storageErr("delete", collection, key, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, collection string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM kv WHERE collection = ? ORDER BY seq`, collection)
	if err != nil {
		return nil, storageErr("list", collection, "", err)
	}
	return scanItems(rows, collection)
}

func (s *SQLiteStore) ListByIndex(ctx context.Context, collection, index, value string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kv.key, kv.value
		FROM kv
		JOIN kv_index ix ON ix.collection = kv.collection AND ix.key = kv.key
		WHERE kv.collection = ? AND ix.name = ? AND ix.value = ?
		ORDER BY kv.seq
	`, collection, index, value)
	if err != nil {
		return nil, storageErr("list by index", collection, index, err)
	}
	return scanItems(rows, collection)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanItems(rows *sql.Rows, collection string) ([]Item, error) {
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.Key, &it.Value); err != nil {
			return nil, storageErr("scan", collection, "", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scan", collection, "", err)
	}
	return items, nil
}

func storageErr(op, collection, key string, err error) error {
	return fmt.Errorf("%w: %s %s/%s: %w", ErrStorage, op, collection, key, err)
}
