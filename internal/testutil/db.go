package testutil

import (
	"database/sql"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/vrsandeep/postscan/internal/assets"
	"github.com/vrsandeep/postscan/internal/auth"
	"github.com/vrsandeep/postscan/internal/db"
)

func init() {
	// Test accounts do not need production-strength hashing.
	auth.Cost = bcrypt.MinCost
}

// SetupTestDB creates an in-memory SQLite database and applies all migrations.
// It returns the database connection, ready for use in tests.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// InitDB pins the pool to one connection, so every query sees the same
	// in-memory database.
	database, err := db.InitDB(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})

	if err := db.RunMigrations(database, assets.MigrationsFS); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}
