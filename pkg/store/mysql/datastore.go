package mysql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gpuindex/pkg/config"
	"gpuindex/pkg/logger"
	"gpuindex/pkg/store/mysql/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrDuplicateKey is returned when an insert hits a unique index
var ErrDuplicateKey = gorm.ErrDuplicatedKey

// Datastore wraps GORM DB and provides transaction support
type Datastore struct {
	db *gorm.DB
}

// NewDatastore opens a pooled connection described by cfg
func NewDatastore(cfg config.MySQLConfig) (*Datastore, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.New(zapWriter{}, gormlogger.Config{
			SlowThreshold:             cfg.SlowThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		SkipDefaultTransaction: true,
		// unique violations surface as gorm.ErrDuplicatedKey
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get generic database object: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	return &Datastore{db: db}, nil
}

// zapWriter sends gorm's slow query and error lines to the process logger
type zapWriter struct{}

func (zapWriter) Printf(format string, args ...interface{}) {
	logger.WarnCtx(context.Background(), "gorm: "+strings.TrimSpace(format), args...)
}

// Migrate creates or alters every table owned by the pipeline
func (ds *Datastore) Migrate(ctx context.Context) error {
	err := ds.db.WithContext(ctx).AutoMigrate(
		&model.Provider{},
		&model.GpuModel{},
		&model.Instance{},
		&model.ScrapeJob{},
		&model.PriceAnomaly{},
		&model.PriceObservation{},
		&model.PriceHistoryDaily{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (ds *Datastore) Ping(ctx context.Context) error {
	sqlDB, err := ds.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (ds *Datastore) Close() error {
	sqlDB, err := ds.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type contextTxKey struct{}

// ExecTx runs fn inside a transaction carried by ctx.
// Returning an error rolls back, otherwise the transaction commits.
// A ctx that already carries a transaction joins it.
func (ds *Datastore) ExecTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(contextTxKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ctx = context.WithValue(ctx, contextTxKey{}, tx)
		return fn(ctx)
	})
}

// DB returns the transaction bound to ctx if any, otherwise the main handle
func (ds *Datastore) DB(ctx context.Context) *gorm.DB {
	tx, ok := ctx.Value(contextTxKey{}).(*gorm.DB)
	if ok {
		return tx.WithContext(ctx)
	}
	return ds.db.WithContext(ctx)
}
