package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDB_OpensMirrorInWALMode(t *testing.T) {
	db, err := NewDB(context.Background(), filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var mode string
	require.NoError(t, db.Reader.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
	assert.Equal(t, maxWriterConns, db.Writer.Stats().MaxOpenConnections)
	assert.Equal(t, maxReaderConns, db.Reader.Stats().MaxOpenConnections)
}

func TestRunMigrations_CurrentSchemaIsNoop(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, RunMigrations(db.Writer))
}

func TestRunMigrations_RefusesDirtySchema(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.Writer.Exec("UPDATE schema_migrations SET dirty = 1")
	require.NoError(t, err)

	err = RunMigrations(db.Writer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dirty at version 1")
}
