package dolphinbot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// DBI is the write-side database interface used throughout the bot.
// Reads go through the underlying *gorm.DB directly; writes are
// serialized here so the single-connection sqlite setup can't deadlock.
type DBI interface {
	Create(ctx context.Context, value any) (rowsAffected int64, err error)
	Save(ctx context.Context, value any) (rowsAffected int64, err error)
	Update(
		ctx context.Context,
		model any,
		column string,
		value any,
	) (rowsAffected int64, err error)
	Updates(
		ctx context.Context,
		model any,
		values map[string]any,
	) (rowsAffected int64, err error)
	DB() *gorm.DB
}

type database struct {
	db     *gorm.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// NewDatabase wraps the given gorm connection in a write-serializing DBI.
func NewDatabase(db *gorm.DB, log *slog.Logger) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:     db,
		logger: log.With(loggerNameKey, "database"),
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) Create(ctx context.Context, value any) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()
	rv := d.db.WithContext(ctx).Create(value)
	if rv.Error != nil {
		d.logger.ErrorContext(ctx, "error creating record", tint.Err(rv.Error))
	}
	return rv.RowsAffected, rv.Error
}

func (d *database) Save(ctx context.Context, value any) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()
	rv := d.db.WithContext(ctx).Save(value)
	if rv.Error != nil {
		d.logger.ErrorContext(ctx, "error saving record", tint.Err(rv.Error))
	}
	return rv.RowsAffected, rv.Error
}

func (d *database) Update(
	ctx context.Context,
	model any,
	column string,
	value any,
) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()
	rv := d.db.WithContext(ctx).Model(model).Update(column, value)
	if rv.Error != nil {
		d.logger.ErrorContext(ctx, "error updating record", tint.Err(rv.Error))
	}
	return rv.RowsAffected, rv.Error
}

func (d *database) Updates(
	ctx context.Context,
	model any,
	values map[string]any,
) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()
	rv := d.db.WithContext(ctx).Model(model).Updates(values)
	if rv.Error != nil {
		d.logger.ErrorContext(ctx, "error updating record", tint.Err(rv.Error))
	}
	return rv.RowsAffected, rv.Error
}

// CreateDB opens (creating if necessary) the bot database and runs
// migrations for all models.
func CreateDB(
	ctx context.Context,
	dbType string,
	dsn string,
	gormOpts ...gorm.Option,
) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch dbType {
	case dbTypeSQLite:
		if dir := filepath.Dir(dsn); dir != "." && dir != string(os.PathSeparator) {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("error creating database directory: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	case dbTypePostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database type: %s", dbType)
	}

	db, err := gorm.Open(dialector, gormOpts...)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if dbType == dbTypeSQLite {
		sqlDB, sqlErr := db.DB()
		if sqlErr != nil {
			return nil, fmt.Errorf("error getting sql db: %w", sqlErr)
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		for _, pragma := range sqliteExecPragma {
			if err = db.WithContext(ctx).Exec(pragma).Error; err != nil {
				return nil, fmt.Errorf("error setting pragma %q: %w", pragma, err)
			}
		}
	}

	if err = db.WithContext(ctx).AutoMigrate(
		&InteractionLog{},
		&Review{},
		&Ticket{},
		&ModerationAction{},
	); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return db, nil
}
