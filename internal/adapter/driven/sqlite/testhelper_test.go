package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"testing"
)

// setupTestDB opens a migrated mirror on a named shared in-memory database.
// The name comes from t.Name(), so every test gets its own mirror. WAL does not
// apply in memory; the remaining mirror pragmas and connection limits do.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&%s", url.PathEscape(t.Name()), mirrorPragmas)

	db, err := openPair(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open test mirror: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := RunMigrations(db.Writer); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	return db
}
