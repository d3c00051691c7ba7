package database

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryAndUniqueViolation(t *testing.T) {
	db, err := NewMemory()
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE things (id TEXT PRIMARY KEY, code TEXT NOT NULL UNIQUE)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO things (id, code) VALUES (?, ?)`, "1", "a")
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO things (id, code) VALUES (?, ?)`, "2", "a")
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	_, err = db.Exec(`INSERT INTO things (id, code) VALUES (?, ?)`, "1", "b")
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	assert.False(t, IsUniqueViolation(errors.New("disk I/O error")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestForeignKeysEnabled(t *testing.T) {
	db, err := NewMemory()
	require.NoError(t, err)
	defer db.Close()

	var enabled int
	require.NoError(t, db.Get(&enabled, `PRAGMA foreign_keys`))
	assert.Equal(t, 1, enabled)
}

func TestIsBusyIgnoresOtherErrors(t *testing.T) {
	db, err := NewMemory()
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`SELECT * FROM missing_table`)
	require.Error(t, err)
	assert.False(t, IsBusy(err))
	assert.False(t, IsBusy(errors.New("database is locked")))
	assert.False(t, IsBusy(nil))
}
