package server

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUsernameTaken reports a registration against an existing username.
var ErrUsernameTaken = errors.New("USERNAME_TAKEN: Username already exists")

// ErrUserNotFound reports a lookup for an unknown username.
var ErrUserNotFound = errors.New("USER_NOT_FOUND: Invalid credentials")

// User is one row of the users table. Password holds the bcrypt hash.
type User struct {
	ID        int64
	Username  string
	Password  string
	CreatedAt time.Time
}

// HistoryEntry is one finished match from the caller's point of view.
type HistoryEntry struct {
	ID            int64  `json:"id"`
	Opponent      string `json:"opponent"`
	MyScore       int    `json:"myScore"`
	OpponentScore int    `json:"opponentScore"`
	Won           bool   `json:"won"`
	Date          string `json:"date"`
}

// PersistenceManager handles all reads and writes against the database.
type PersistenceManager struct {
	db *sql.DB
}

func NewPersistenceManager(db *sql.DB) *PersistenceManager {
	return &PersistenceManager{db: db}
}

// CreateUser inserts a new user and returns its id.
func (pm *PersistenceManager) CreateUser(username, passwordHash string) (int64, error) {
	result, err := pm.db.Exec(
		`INSERT INTO users (username, password) VALUES (?, ?)`,
		username, passwordHash,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return 0, ErrUsernameTaken
		}
		return 0, fmt.Errorf("failed to create user %s: %w", username, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read new user id: %w", err)
	}
	return id, nil
}

// GetUserByUsername loads a user for credential checks.
func (pm *PersistenceManager) GetUserByUsername(username string) (*User, error) {
	var user User
	err := pm.db.QueryRow(
		`SELECT id, username, password FROM users WHERE username = ?`,
		username,
	).Scan(&user.ID, &user.Username, &user.Password)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", username, err)
	}

	return &user, nil
}

// SaveMatch records one finished match. Called fire-and-forget by the session
// layer; a failed write is logged by the caller, never surfaced to players.
func (pm *PersistenceManager) SaveMatch(record MatchRecord) error {
	_, err := pm.db.Exec(
		`INSERT INTO games (player1_id, player2_id, winner_id, player1_score, player2_score, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.Player1ID,
		record.Player2ID,
		record.WinnerID,
		record.Player1Score,
		record.Player2Score,
		record.StartedAt,
		record.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save match: %w", err)
	}
	return nil
}

// LoadHistory returns the user's finished matches, newest first, each row
// reshaped to that user's perspective.
func (pm *PersistenceManager) LoadHistory(userID int64) ([]HistoryEntry, error) {
	query := `
		SELECT
			g.id,
			g.player1_id,
			g.player1_score,
			g.player2_score,
			g.winner_id,
			g.ended_at,
			u1.username AS player1_name,
			u2.username AS player2_name
		FROM games g
		JOIN users u1 ON g.player1_id = u1.id
		JOIN users u2 ON g.player2_id = u2.id
		WHERE g.player1_id = ? OR g.player2_id = ?
		ORDER BY g.ended_at DESC
	`

	rows, err := pm.db.Query(query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	history := make([]HistoryEntry, 0)
	for rows.Next() {
		var (
			id, player1ID, winnerID    int64
			player1Score, player2Score int
			endedAt                    time.Time
			player1Name, player2Name   string
		)
		if err := rows.Scan(&id, &player1ID, &player1Score, &player2Score, &winnerID, &endedAt, &player1Name, &player2Name); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}

		entry := HistoryEntry{
			ID:   id,
			Won:  winnerID == userID,
			Date: endedAt.Format(time.RFC3339),
		}
		if player1ID == userID {
			entry.Opponent = player2Name
			entry.MyScore = player1Score
			entry.OpponentScore = player2Score
		} else {
			entry.Opponent = player1Name
			entry.MyScore = player2Score
			entry.OpponentScore = player1Score
		}
		history = append(history, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}

	return history, nil
}
