// Package dbtest opens throwaway SQLite stores for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/suPer8Hu/city-searcher/internal/db"
	"gorm.io/gorm"
)

// Open returns a migrated SQLite store in t.TempDir. A single connection keeps
// background writers from tripping over SQLITE_BUSY.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := db.Connect("sqlite:" + filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return gdb
}
