package database

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/joho/godotenv/autoload"
	_ "github.com/mattn/go-sqlite3"
)

// Service wraps the sql.DB handle and exposes a health check.
type Service interface {
	DB() *sql.DB
	Health() map[string]string
	Close() error
}

type service struct {
	db *sql.DB
}

// New opens the sqlite database at DB_PATH (default arena.db).
// Foreign keys are enabled so game rows keep valid user references.
func New() Service {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "arena.db"
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		log.Fatalf("Failed to open database %s: %v", dbPath, err)
	}

	return &service{db: db}
}

// NewWithDB wraps an existing handle. Used by tests with a temp database.
func NewWithDB(db *sql.DB) Service {
	return &service{db: db}
}

func (s *service) DB() *sql.DB {
	return s.db
}

func (s *service) Health() map[string]string {
	stats := make(map[string]string)

	if err := s.db.Ping(); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"
	return stats
}

func (s *service) Close() error {
	return s.db.Close()
}
