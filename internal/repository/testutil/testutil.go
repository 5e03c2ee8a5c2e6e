package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/gorm"

	"taskpulse/internal/logger"
	"taskpulse/internal/repository"
)

var seq atomic.Int64

// DB opens a fresh migrated in-memory SQLite database that lives for the duration of tb.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(tb.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))

	db, err := repository.NewDB(repository.DriverSQLite, dsn, logger.Nop())
	if err != nil {
		tb.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sql handle: %v", err)
	}
	tb.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// ConcurrentDB opens a migrated database that hands out up to conns connections, so goroutines really
// race each other. It uses Postgres when TEST_DATABASE_DSN is set and a WAL SQLite file otherwise.
func ConcurrentDB(tb testing.TB, conns int) *gorm.DB {
	tb.Helper()

	driver, dsn := repository.DriverPostgres, os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		driver = repository.DriverSQLite
		path := filepath.Join(tb.TempDir(), "concurrent.db")
		dsn = "file:" + path + "?_busy_timeout=10000&_journal_mode=WAL&_txlock=immediate"
	}

	db, err := repository.NewDB(driver, dsn, logger.Nop())
	if err != nil {
		tb.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(conns)
	tb.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	l, err := logger.New("test")
	if err != nil {
		tb.Fatalf("failed to init logger: %v", err)
	}
	return l
}
