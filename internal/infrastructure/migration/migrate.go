package migration

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	// Драйверы баз данных для миграций
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migrator часть migrate.Migrate, нужная для применения миграций
type Migrator interface {
	Up() error
	Close() (error, error)
}

// MigrationEngine создает мигратор для источника и базы
type MigrationEngine func(source fs.FS, dir, databaseURL string) (Migrator, error)

type Migration struct {
	source      fs.FS
	dir         string
	databaseURL string
	engine      MigrationEngine
}

// NewMigration миграции из встроенной файловой системы source (каталог dir)
func NewMigration(source fs.FS, dir, databaseURL string, engine MigrationEngine) *Migration {
	if engine == nil {
		engine = DefaultEngine
	}
	return &Migration{
		source:      source,
		dir:         dir,
		databaseURL: databaseURL,
		engine:      engine,
	}
}

// DefaultEngine мигратор golang-migrate поверх встроенных файлов
func DefaultEngine(source fs.FS, dir, databaseURL string) (Migrator, error) {
	d, err := iofs.New(source, dir)
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	return migrate.NewWithSourceInstance("iofs", d, databaseURL)
}

// Up применяет все непримененные миграции; отсутствие изменений не ошибка
func (mg *Migration) Up() (err error) {
	m, err := mg.engine(mg.source, mg.dir, mg.databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		serr, dberr := m.Close()
		if serr != nil {
			err = errors.Join(err, fmt.Errorf("close migration source: %w", serr))
		}
		if dberr != nil {
			err = errors.Join(err, fmt.Errorf("close migration database: %w", dberr))
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up: %w", err)
	}
	return nil
}
