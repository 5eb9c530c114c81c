// Package testdb opens migrated in-memory sqlite databases for tests.
package testdb

import (
	"fmt"
	"strings"
	"testing"

	"meeting-live/internal/db"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a fresh database private to the calling test. The pool is
// pinned to one connection so the shared in-memory database lives as long as
// the test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// SeedMeeting inserts a meeting row and returns its id.
func SeedMeeting(t testing.TB, conn *gorm.DB, title string) uint {
	t.Helper()
	meeting := db.Meeting{Title: title, Status: "in_progress"}
	if err := conn.Create(&meeting).Error; err != nil {
		t.Fatalf("seed meeting: %v", err)
	}
	return meeting.ID
}
