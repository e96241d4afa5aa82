package server

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
)

// setupTestDB creates a temp database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	if err := goose.SetDialect("sqlite3"); err != nil {
		t.Fatalf("Failed to set goose dialect: %v", err)
	}
	if err := goose.Up(db, "../../db/migrations"); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestPersistenceManager_CreateAndGetUser(t *testing.T) {
	pm := NewPersistenceManager(setupTestDB(t))

	id, err := pm.CreateUser("alice", "hashed-password")
	assert.NoError(t, err)
	assert.Greater(t, id, int64(0))

	user, err := pm.GetUserByUsername("alice")
	assert.NoError(t, err)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "hashed-password", user.Password)
}

func TestPersistenceManager_DuplicateUsername(t *testing.T) {
	pm := NewPersistenceManager(setupTestDB(t))

	_, err := pm.CreateUser("alice", "hash1")
	assert.NoError(t, err)

	_, err = pm.CreateUser("alice", "hash2")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestPersistenceManager_UnknownUser(t *testing.T) {
	pm := NewPersistenceManager(setupTestDB(t))

	_, err := pm.GetUserByUsername("nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestPersistenceManager_SaveMatchAndLoadHistory(t *testing.T) {
	pm := NewPersistenceManager(setupTestDB(t))

	aliceID, err := pm.CreateUser("alice", "h")
	assert.NoError(t, err)
	bobID, err := pm.CreateUser("bob", "h")
	assert.NoError(t, err)

	started := time.Now().Add(-2 * time.Minute)
	err = pm.SaveMatch(MatchRecord{
		Player1ID:    aliceID,
		Player2ID:    bobID,
		WinnerID:     aliceID,
		Player1Score: 5,
		Player2Score: 3,
		StartedAt:    started,
		EndedAt:      time.Now(),
	})
	assert.NoError(t, err)

	// Alice's perspective: she won 5-3 against bob.
	history, err := pm.LoadHistory(aliceID)
	assert.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, "bob", history[0].Opponent)
	assert.Equal(t, 5, history[0].MyScore)
	assert.Equal(t, 3, history[0].OpponentScore)
	assert.True(t, history[0].Won)

	// Bob's perspective: same row, mirrored.
	history, err = pm.LoadHistory(bobID)
	assert.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, "alice", history[0].Opponent)
	assert.Equal(t, 3, history[0].MyScore)
	assert.Equal(t, 5, history[0].OpponentScore)
	assert.False(t, history[0].Won)
}

func TestPersistenceManager_HistoryNewestFirst(t *testing.T) {
	pm := NewPersistenceManager(setupTestDB(t))

	aliceID, _ := pm.CreateUser("alice", "h")
	bobID, _ := pm.CreateUser("bob", "h")

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		err := pm.SaveMatch(MatchRecord{
			Player1ID:    aliceID,
			Player2ID:    bobID,
			WinnerID:     bobID,
			Player1Score: i,
			Player2Score: 5,
			StartedAt:    base.Add(time.Duration(i) * time.Minute),
			EndedAt:      base.Add(time.Duration(i)*time.Minute + 30*time.Second),
		})
		assert.NoError(t, err)
	}

	history, err := pm.LoadHistory(aliceID)
	assert.NoError(t, err)
	assert.Len(t, history, 3)
	assert.Equal(t, 2, history[0].MyScore, "most recent match first")
	assert.Equal(t, 0, history[2].MyScore)
}

func TestPersistenceManager_HistoryEmptyForNewUser(t *testing.T) {
	pm := NewPersistenceManager(setupTestDB(t))

	aliceID, _ := pm.CreateUser("alice", "h")
	history, err := pm.LoadHistory(aliceID)
	assert.NoError(t, err)
	assert.Len(t, history, 0)
}
