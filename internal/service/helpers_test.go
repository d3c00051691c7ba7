package service

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mayegue-core/internal/migration"
	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/internal/repository"
	"github.com/noah-isme/mayegue-core/internal/store"
	"github.com/noah-isme/mayegue-core/pkg/database"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	engine := migration.NewEngine(store.New(db), nil, nil)
	require.NoError(t, engine.RegisterAll(migration.Definitions()))
	result := engine.RunPending(context.Background())
	require.True(t, result.OK(), result.Messages())
	return db
}

func createUser(t *testing.T, db *sqlx.DB, remoteID string, role models.UserRole) *models.User {
	t.Helper()
	user := &models.User{RemoteID: remoteID, Email: remoteID + "@example.com", DisplayName: remoteID, Role: role, Active: true}
	require.NoError(t, repository.NewUserRepository(db).Create(context.Background(), user))
	return user
}

func countRows(t *testing.T, db *sqlx.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM "+table))
	return n
}
