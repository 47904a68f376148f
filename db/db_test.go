package db_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/habedi/apsq/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupDB points the package at a fresh database file for one test.
func setupDB(t *testing.T) {
	t.Helper()
	db.Path = filepath.Join(t.TempDir(), "nested", "apsq.db")
	require.NoError(t, db.InitDB())
	t.Cleanup(func() { _ = db.CloseDB() })
}

func TestInitDB_CreatesFile(t *testing.T) {
	setupDB(t)

	_, err := os.Stat(db.Path)
	assert.NoError(t, err, "Database file should exist")
	assert.Same(t, db.Db, db.GetDB())
	assert.Equal(t, db.Path+".lock", db.LockPath())
}

func TestCloseDB_Twice(t *testing.T) {
	setupDB(t)
	assert.NoError(t, db.CloseDB())
}
