package server

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/coder/websocket"
	_ "github.com/joho/godotenv/autoload"
	"github.com/pressly/goose/v3"

	"arena-server/internal/database"
)

// HeartbeatPeriod is the liveness probe cycle. A connection that fails to
// answer a probe within one full cycle is forcibly closed.
const HeartbeatPeriod = 30 * time.Second

type Server struct {
	port int

	db          database.Service
	persistence *PersistenceManager
	connections *ConnectionManager
	matchmaker  *Matchmaker
	games       *GameManager
	limiter     *RateLimiter

	jwtSecret       []byte
	heartbeatPeriod time.Duration
}

func NewServer() *http.Server {
	port, _ := strconv.Atoi(os.Getenv("PORT"))
	if port == 0 {
		port = 3000
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	// Initialize database
	dbService := database.New()

	// Run migrations
	if err := runMigrations(dbService.DB()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	persistence := NewPersistenceManager(dbService.DB())

	srv := &Server{
		port:            port,
		db:              dbService,
		persistence:     persistence,
		connections:     NewConnectionManager(),
		matchmaker:      NewMatchmaker(),
		limiter:         NewRateLimiter(60, time.Second),
		jwtSecret:       []byte(secret),
		heartbeatPeriod: HeartbeatPeriod,
	}
	srv.games = NewGameManager(srv.saveMatchAsync)

	// Start background tasks
	go srv.heartbeatTask()

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.port),
		Handler:      srv.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}

// runMigrations applies database migrations using goose
func runMigrations(db *sql.DB) error {
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "./db/migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	log.Println("Database migrations applied successfully")
	return nil
}

// saveMatchAsync is the fire-and-forget persistence write for a finished
// match. The session layer never waits on it; failures are logged only.
func (s *Server) saveMatchAsync(record MatchRecord) {
	go func() {
		if err := s.persistence.SaveMatch(record); err != nil {
			log.Printf("Failed to persist match result: %v", err)
		}
	}()
}

// heartbeatTask probes every bound connection each cycle and evicts dead
// peers. This is simple dead-peer detection, not a quality-of-service
// measure.
func (s *Server) heartbeatTask() {
	ticker := time.NewTicker(s.heartbeatPeriod)
	defer ticker.Stop()

	for range ticker.C {
		s.sweepConnections()
	}
}

// sweepConnections closes connections that missed the previous probe, then
// clears the liveness flag on the rest and probes them again. The flag is set
// back when the pong arrives, so a responsive peer is never evicted.
func (s *Server) sweepConnections() {
	for _, conn := range s.connections.All() {
		if !conn.Alive() {
			log.Printf("Heartbeat timeout for %s (%s), closing", conn.Username, conn.ID)
			conn.Close(websocket.StatusGoingAway, "Heartbeat timeout")
			continue
		}

		conn.SetAlive(false)
		go func(c *Connection) {
			ctx, cancel := context.WithTimeout(context.Background(), s.heartbeatPeriod)
			defer cancel()
			if err := c.Ping(ctx); err != nil {
				return
			}
			c.SetAlive(true)
		}(conn)
	}
}
