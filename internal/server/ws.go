package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// websocketHandler accepts a transport, binds it to the identity asserted by
// the token query parameter, and runs the read loop. A missing or invalid
// credential closes the transport with a policy-violation code before any
// protocol exchange.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // TODO: make environment-specific
	})
	if err != nil {
		log.Printf("Failed to accept websocket from %s: %v", r.RemoteAddr, err)
		return
	}

	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		log.Printf("Websocket connection without token from %s", r.RemoteAddr)
		socket.Close(websocket.StatusPolicyViolation, "No token provided")
		return
	}

	claims, err := s.validateToken(tokenStr)
	if err != nil {
		log.Printf("Websocket connection with invalid token from %s: %v", r.RemoteAddr, err)
		socket.Close(websocket.StatusPolicyViolation, "Invalid token")
		return
	}

	ctx := r.Context()

	conn := NewConnection(uuid.New().String(), claims.UserID, claims.Username, socket)
	s.connections.Add(conn)
	log.Printf("User %s (ID: %d) connected as %s", conn.Username, conn.UserID, conn.ID)

	defer socket.Close(websocket.StatusGoingAway, "Server closing")
	defer func() {
		s.connections.Remove(conn.ID)
		s.limiter.RemoveConnection(conn.ID)
		s.matchmaker.Cancel(conn)
		s.games.MarkDisconnected(conn)
		log.Printf("User %s disconnected (%s)", conn.Username, conn.ID)
	}()

	conn.Send(ConnectedMessage{Type: "connected", Username: conn.Username, UserID: conn.UserID})

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			log.Printf("Connection %s read error: %v", conn.ID, err)
			return
		}

		if msgType != websocket.MessageText {
			log.Printf("Non-text input from %s", conn.ID)
			continue
		}

		if !s.limiter.Allow(conn.ID) {
			log.Printf("Rate limit exceeded for %s (%s)", conn.Username, conn.ID)
			conn.Send(ErrorMessage{Type: "error", Message: "RATE_LIMIT_EXCEEDED: Too many messages"})
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Invalid JSON from %s: %v", conn.ID, err)
			continue
		}

		s.routeMessage(conn, msg)
	}
}

// routeMessage dispatches one inbound frame by its type tag. Unrecognized
// tags are ignored.
func (s *Server) routeMessage(conn *Connection, msg ClientMessage) {
	switch msg.Type {
	case "findMatch":
		s.handleFindMatch(conn)
	case "cancelMatch":
		if s.matchmaker.Cancel(conn) {
			conn.Send(SearchCancelledMessage{Type: "searchCancelled"})
		}
	case "rejoinGame":
		s.handleRejoinGame(conn, msg.GameID)
	case "playerUpdate":
		s.games.RelayUpdate(conn, msg)
	case "shoot":
		s.games.RelayShot(conn, msg)
	case "hit":
		s.games.RecordHit(conn.UserID)
	default:
		log.Printf("Unknown message type '%s' from %s", msg.Type, conn.ID)
	}
}

func (s *Server) handleFindMatch(conn *Connection) {
	opponent, result := s.matchmaker.Match(conn)

	switch result {
	case MatchIgnored:
		log.Printf("%s already in queue or game", conn.Username)

	case MatchQueued:
		log.Printf("%s added to matchmaking queue", conn.Username)
		conn.Send(SearchingMessage{Type: "searching"})

	case MatchPaired:
		// The player that waited longer takes slot 1.
		session := s.games.CreateSession(opponent, conn)
		log.Printf("Match found! %s vs %s (game %s)", opponent.Username, conn.Username, session.ID)

		opponent.Send(MatchFoundMessage{
			Type:         "matchFound",
			GameID:       session.ID,
			Opponent:     OpponentInfo{ID: conn.UserID, Username: conn.Username},
			PlayerNumber: 1,
		})
		conn.Send(MatchFoundMessage{
			Type:         "matchFound",
			GameID:       session.ID,
			Opponent:     OpponentInfo{ID: opponent.UserID, Username: opponent.Username},
			PlayerNumber: 2,
		})
	}
}

func (s *Server) handleRejoinGame(conn *Connection, gameID string) {
	log.Printf("%s attempting to rejoin game %s", conn.Username, gameID)

	scores, err := s.games.Rejoin(conn, gameID)
	if err != nil {
		conn.Send(ErrorMessage{Type: "error", Message: err.Error()})
		return
	}

	conn.Send(GameRejoinedMessage{Type: "gameRejoined", GameID: gameID, Scores: scores})
	log.Printf("%s successfully rejoined game %s", conn.Username, gameID)
}
