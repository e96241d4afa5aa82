package server

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// WinningScore ends a game: first player to land this many hits wins.
	WinningScore = 5
	// DefaultGracePeriod is how long a disconnected player has to rejoin
	// before the game is forfeited to the opponent.
	DefaultGracePeriod = 10 * time.Second
)

type SessionState string

const (
	SessionActive   SessionState = "active"
	SessionFinished SessionState = "finished"
)

// PlayerSlot is one of the two fixed participant positions in a session.
// Conn is rebound on reconnect; UserID never changes after creation.
type PlayerSlot struct {
	UserID       int64
	Username     string
	Conn         *Connection
	Disconnected bool
	graceTimer   *time.Timer
}

// GameSession is the state machine for one in-progress match. Slot 0 is
// player 1, slot 1 is player 2; the order is fixed at creation. Scores is
// keyed by decimal user id and always holds exactly the two participants.
type GameSession struct {
	ID        string
	Slots     [2]*PlayerSlot
	Scores    map[string]int
	State     SessionState
	StartedAt time.Time
}

// MatchRecord is the persistence row for one finished match.
type MatchRecord struct {
	Player1ID    int64
	Player2ID    int64
	WinnerID     int64
	Player1Score int
	Player2Score int
	StartedAt    time.Time
	EndedAt      time.Time
}

// GameManager owns the session registry and all session transitions. Every
// session-affecting operation, including grace-timer callbacks, serializes
// through its mutex, so a registry scan always sees a consistent snapshot and
// a timer that fires after a rebind or removal observes the live state.
type GameManager struct {
	games       map[string]*GameSession
	mu          sync.Mutex
	gracePeriod time.Duration
	persist     func(MatchRecord) // fire-and-forget finished-match write, may be nil
}

func NewGameManager(persist func(MatchRecord)) *GameManager {
	return &GameManager{
		games:       make(map[string]*GameSession),
		gracePeriod: DefaultGracePeriod,
		persist:     persist,
	}
}

// CreateSession registers a new active session for the two players. player1
// is the player that waited in the queue longer.
func (gm *GameManager) CreateSession(player1, player2 *Connection) *GameSession {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	session := &GameSession{
		ID: uuid.New().String(),
		Slots: [2]*PlayerSlot{
			{UserID: player1.UserID, Username: player1.Username, Conn: player1},
			{UserID: player2.UserID, Username: player2.Username, Conn: player2},
		},
		Scores: map[string]int{
			scoreKey(player1.UserID): 0,
			scoreKey(player2.UserID): 0,
		},
		State:     SessionActive,
		StartedAt: time.Now(),
	}

	gm.games[session.ID] = session
	player1.SetGameID(session.ID)
	player2.SetGameID(session.ID)

	return session
}

func (gm *GameManager) Get(id string) (*GameSession, bool) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	session, ok := gm.games[id]
	return session, ok
}

// GetByUser locates the session a user currently belongs to. Lookups go by
// user id, never by transport reference, since transports are replaced on
// reconnection.
func (gm *GameManager) GetByUser(userID int64) (*GameSession, bool) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	session, _, ok := gm.findByUserLocked(userID)
	return session, ok
}

func (gm *GameManager) SessionCount() int {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	return len(gm.games)
}

// Rejoin rebinds conn to its slot in the session, cancels any pending grace
// timer and returns the current scores. The identity claim on conn is
// trusted; the only check is that the user is one of the two participants.
func (gm *GameManager) Rejoin(conn *Connection, gameID string) (map[string]int, error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	session, ok := gm.games[gameID]
	if !ok {
		return nil, errors.New("GAME_NOT_FOUND: Game not found")
	}

	slot := session.slotFor(conn.UserID)
	if slot == nil {
		return nil, errors.New("NOT_IN_GAME: Not part of this game")
	}

	slot.Conn = conn
	slot.Disconnected = false
	stopGraceTimer(slot)
	conn.SetGameID(gameID)

	return session.scoresSnapshot(), nil
}

// RelayUpdate forwards a position/rotation update to the opponent. Updates
// with no resolvable session are dropped; that is expected in the window
// around match start and game end.
func (gm *GameManager) RelayUpdate(conn *Connection, msg ClientMessage) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	session, idx, ok := gm.findByUserLocked(conn.UserID)
	if !ok {
		return
	}
	conn.SetGameID(session.ID)

	opponent := session.Slots[1-idx].Conn
	if opponent == nil {
		return
	}
	opponent.Send(OpponentUpdateMessage{
		Type:     "opponentUpdate",
		Position: msg.Position,
		Rotation: msg.Rotation,
	})
}

// RelayShot forwards a shot to the opponent in the session the connection is
// bound to. Unlike RelayUpdate it requires the binding to exist already.
func (gm *GameManager) RelayShot(conn *Connection, msg ClientMessage) {
	gameID := conn.GameID()
	if gameID == "" {
		return
	}

	gm.mu.Lock()
	defer gm.mu.Unlock()

	session, ok := gm.games[gameID]
	if !ok {
		return
	}

	idx := session.slotIndexFor(conn.UserID)
	if idx < 0 {
		return
	}
	opponent := session.Slots[1-idx].Conn
	if opponent == nil {
		return
	}
	opponent.Send(OpponentShootMessage{
		Type:      "opponentShoot",
		Position:  msg.Position,
		Direction: msg.Direction,
	})
}

// RecordHit credits one hit to the acting player, pushes a score snapshot to
// both participants, and finishes the game when the winning score is reached.
func (gm *GameManager) RecordHit(userID int64) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	session, idx, ok := gm.findByUserLocked(userID)
	if !ok {
		return
	}
	if session.State != SessionActive {
		return
	}

	session.Scores[scoreKey(userID)]++

	update := ScoreUpdateMessage{Type: "scoreUpdate", Scores: session.scoresSnapshot()}
	scorer := session.Slots[idx]
	opponent := session.Slots[1-idx]
	scorer.Conn.Send(update)
	opponent.Conn.Send(update)

	if session.Scores[scoreKey(userID)] >= WinningScore {
		gm.finishLocked(session, userID)
		return
	}

	opponent.Conn.Send(DiedMessage{Type: "died"})
	scorer.Conn.Send(ScoredMessage{Type: "scored"})
}

// MarkDisconnected handles a transport closing while its session is active:
// it sets the slot's disconnect marker and arms the grace timer. A close from
// a transport that was already replaced by a rebind is ignored.
func (gm *GameManager) MarkDisconnected(conn *Connection) {
	gameID := conn.GameID()
	if gameID == "" {
		return
	}

	gm.mu.Lock()
	defer gm.mu.Unlock()

	session, ok := gm.games[gameID]
	if !ok || session.State != SessionActive {
		return
	}

	idx := session.slotIndexFor(conn.UserID)
	if idx < 0 {
		return
	}
	slot := session.Slots[idx]
	if slot.Conn != conn {
		return // stale transport, the slot was rebound already
	}

	slot.Disconnected = true
	stopGraceTimer(slot)

	sessionID := session.ID
	slot.graceTimer = time.AfterFunc(gm.gracePeriod, func() {
		gm.graceExpired(sessionID, idx)
	})
}

// graceExpired runs when a disconnect grace timer fires. It re-reads the live
// session state under the lock: a session already removed, finished, or
// rebound in the meantime makes this a no-op.
func (gm *GameManager) graceExpired(sessionID string, idx int) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	session, ok := gm.games[sessionID]
	if !ok || session.State != SessionActive {
		return
	}

	slot := session.Slots[idx]
	if !slot.Disconnected {
		return // player rejoined in time
	}

	other := session.Slots[1-idx]
	if other.Disconnected {
		// Both players gone. Discard without a winner or a persistence row.
		gm.removeLocked(session)
		return
	}

	other.Conn.Send(OpponentDisconnectedMessage{
		Type:    "opponentDisconnected",
		Message: "Opponent disconnected. You win!",
	})
	gm.finishLocked(session, other.UserID)
}

// finishLocked transitions the session to finished: emits the persistence
// write, notifies whichever transports are currently bound to the two slots,
// and removes the session from the registry. Caller holds gm.mu.
func (gm *GameManager) finishLocked(session *GameSession, winnerID int64) {
	session.State = SessionFinished

	record := MatchRecord{
		Player1ID:    session.Slots[0].UserID,
		Player2ID:    session.Slots[1].UserID,
		WinnerID:     winnerID,
		Player1Score: session.Scores[scoreKey(session.Slots[0].UserID)],
		Player2Score: session.Scores[scoreKey(session.Slots[1].UserID)],
		StartedAt:    session.StartedAt,
		EndedAt:      time.Now(),
	}
	if gm.persist != nil {
		gm.persist(record)
	}

	over := GameOverMessage{Type: "gameOver", WinnerID: winnerID, Scores: session.scoresSnapshot()}
	session.Slots[0].Conn.Send(over)
	session.Slots[1].Conn.Send(over)

	gm.removeLocked(session)
}

// removeLocked deletes the session and releases both slots. Caller holds gm.mu.
func (gm *GameManager) removeLocked(session *GameSession) {
	for _, slot := range session.Slots {
		stopGraceTimer(slot)
		if slot.Conn != nil && slot.Conn.GameID() == session.ID {
			slot.Conn.SetGameID("")
		}
	}
	delete(gm.games, session.ID)
}

func (gm *GameManager) findByUserLocked(userID int64) (*GameSession, int, bool) {
	for _, session := range gm.games {
		if idx := session.slotIndexFor(userID); idx >= 0 {
			return session, idx, true
		}
	}
	return nil, -1, false
}

func (s *GameSession) slotIndexFor(userID int64) int {
	for i, slot := range s.Slots {
		if slot.UserID == userID {
			return i
		}
	}
	return -1
}

func (s *GameSession) slotFor(userID int64) *PlayerSlot {
	if idx := s.slotIndexFor(userID); idx >= 0 {
		return s.Slots[idx]
	}
	return nil
}

func (s *GameSession) scoresSnapshot() map[string]int {
	scores := make(map[string]int, len(s.Scores))
	for id, score := range s.Scores {
		scores[id] = score
	}
	return scores
}

// stopGraceTimer must run under gm.mu so a cancelled timer and a cleared
// disconnect marker are observed together.
func stopGraceTimer(slot *PlayerSlot) {
	if slot.graceTimer != nil {
		slot.graceTimer.Stop()
		slot.graceTimer = nil
	}
}

func scoreKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
