package data

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/nwbconvert/orchestrator/internal/platform/envutil"
	"github.com/nwbconvert/orchestrator/internal/platform/logger"
)

// Service wraps a *gorm.DB the way the teacher's PostgresService does,
// adding the sqlite path this repo needs for tests (spec §10).
type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewPostgresService opens a Postgres connection from POSTGRES_* env vars
// (spec §10 "env-var native config"), grounded on the teacher's
// internal/data/db.NewPostgresService.
func NewPostgresService(log *logger.Logger) (*Service, error) {
	serviceLog := log.With("service", "data.Service")

	host := envutil.GetEnv("POSTGRES_HOST", "localhost")
	port := envutil.GetEnv("POSTGRES_PORT", "5432")
	user := envutil.GetEnv("POSTGRES_USER", "postgres")
	password := envutil.GetEnv("POSTGRES_PASSWORD", "")
	name := envutil.GetEnv("POSTGRES_NAME", "nwbconvert")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)

	gormLog := gormLogger.New(
		stdLogWriter(),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("data: connect to postgres: %w", err)
	}
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		serviceLog.Warn("could not ensure uuid-ossp extension, continuing", "error", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("data: automigrate: %w", err)
	}

	return &Service{db: db, log: serviceLog}, nil
}

// NewSQLiteService opens an in-memory/file sqlite database, the teacher's
// test-time driver substitute for Postgres (spec §10).
func NewSQLiteService(log *logger.Logger, path string) (*Service, error) {
	if path == "" {
		path = "file::memory:?cache=shared"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormLogger.New(stdLogWriter(), gormLogger.Config{LogLevel: gormLogger.Silent}),
	})
	if err != nil {
		return nil, fmt.Errorf("data: connect to sqlite: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("data: automigrate: %w", err)
	}
	return &Service{db: db, log: log.With("service", "data.Service")}, nil
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&SessionRecord{}, &ValidationHistoryRecord{})
}

func (s *Service) DB() *gorm.DB { return s.db }

// stdLogWriter supplies the *log.Logger gorm's logger config needs, writing
// to stdout; gorm's output does not go through this repo's zap-backed
// logger, which has no compatible writer of its own.
func stdLogWriter() *log.Logger {
	return log.New(os.Stdout, "\r\n", log.LstdFlags)
}
