package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"datahub.migas.id/clearinghouse/internal/repository"
)

// OpenSQLite returns a migrated Store on a fresh SQLite file owned by t.
func OpenSQLite(t *testing.T) *repository.Store {
	t.Helper()

	db, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "clearinghouse.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := repository.NewStore(db, repository.DialectSQLite)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate sqlite schema: %v", err)
	}
	return store
}
