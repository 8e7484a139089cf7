package testutil

import (
	"testing"

	"orchestra/internal/db"
)

// SetupTestDB creates a migrated in-memory database that is closed when the test ends
func SetupTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.New(db.MemoryConfig())
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})

	if err := database.Migrate(); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}

	return database
}
