package testutil

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/wwfm-backend/internal/data/db"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

var dbSeq atomic.Int64

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	return logger.Nop()
}

// DB returns a migrated, empty database. It is Postgres when TEST_POSTGRES_DSN
// is set and a private in-memory SQLite database otherwise. The SQLite pool is
// pinned to one connection so transactions serialise the way row locks would.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	cfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	}

	var (
		gdb *gorm.DB
		err error
	)
	if dsn := strings.TrimSpace(os.Getenv("TEST_POSTGRES_DSN")); dsn != "" {
		gdb, err = gorm.Open(postgres.Open(dsn), cfg)
	} else {
		name := fmt.Sprintf("file:wwfm_test_%d?mode=memory&cache=shared&_busy_timeout=5000", dbSeq.Add(1))
		gdb, err = gorm.Open(sqlite.Open(name), cfg)
		if err == nil {
			sqlDB, perr := gdb.DB()
			if perr != nil {
				tb.Fatalf("sqlite pool: %v", perr)
			}
			sqlDB.SetMaxOpenConns(1)
		}
	}
	if err != nil {
		tb.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrateAll(gdb); err != nil {
		tb.Fatalf("migrate test db: %v", err)
	}
	for _, table := range []string{"aggregation_queue", "goal_implementation_links", "ratings"} {
		if err := gdb.Exec("DELETE FROM " + table).Error; err != nil {
			tb.Fatalf("reset %s: %v", table, err)
		}
	}
	tb.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}
