package server

import "sync"

// MatchResult reports what Match did with a connection.
type MatchResult int

const (
	// MatchIgnored means the connection was already queued or already in a
	// game, and nothing changed.
	MatchIgnored MatchResult = iota
	// MatchQueued means the queue was empty, so the connection now waits.
	MatchQueued
	// MatchPaired means the connection was paired with the head of the queue.
	MatchPaired
)

// Matchmaker is the waiting list of unmatched connections. Pairing is strict
// FIFO: the oldest waiting player is always matched first, no skill bias.
type Matchmaker struct {
	waiting []*Connection
	mu      sync.Mutex
}

func NewMatchmaker() *Matchmaker {
	return &Matchmaker{}
}

// Match pairs conn with the oldest waiting connection, or queues conn if
// nobody is waiting. A connection that is already queued, or already bound to
// a game, is ignored. On MatchPaired the returned opponent is the player that
// waited longer and therefore takes slot 1.
func (m *Matchmaker) Match(conn *Connection) (*Connection, MatchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn.GameID() != "" {
		return nil, MatchIgnored
	}
	for _, waiting := range m.waiting {
		if waiting == conn || waiting.UserID == conn.UserID {
			return nil, MatchIgnored
		}
	}

	if len(m.waiting) == 0 {
		m.waiting = append(m.waiting, conn)
		return nil, MatchQueued
	}

	opponent := m.waiting[0]
	m.waiting = m.waiting[1:]
	return opponent, MatchPaired
}

// Cancel removes conn from the queue. Reports whether a removal happened, so
// the caller only confirms a cancellation that actually cancelled something.
func (m *Matchmaker) Cancel(conn *Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, waiting := range m.waiting {
		if waiting == conn {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Matchmaker) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiting)
}
