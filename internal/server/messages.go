package server

import "encoding/json"

// ClientMessage is one inbound frame. Frames are flat JSON objects: the type
// tag sits alongside the payload fields. Position, rotation and direction are
// relayed verbatim to the opponent, so they stay opaque RawMessage here.
type ClientMessage struct {
	Type      string          `json:"type"`
	GameID    string          `json:"gameId,omitempty"`
	Position  json.RawMessage `json:"position,omitempty"`
	Rotation  json.RawMessage `json:"rotation,omitempty"`
	Direction json.RawMessage `json:"direction,omitempty"`
}

type ConnectedMessage struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	UserID   int64  `json:"userId"`
}

type SearchingMessage struct {
	Type string `json:"type"`
}

type SearchCancelledMessage struct {
	Type string `json:"type"`
}

type OpponentInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type MatchFoundMessage struct {
	Type         string       `json:"type"`
	GameID       string       `json:"gameId"`
	Opponent     OpponentInfo `json:"opponent"`
	PlayerNumber int          `json:"playerNumber"`
}

type GameRejoinedMessage struct {
	Type   string         `json:"type"`
	GameID string         `json:"gameId"`
	Scores map[string]int `json:"scores"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type OpponentUpdateMessage struct {
	Type     string          `json:"type"`
	Position json.RawMessage `json:"position"`
	Rotation json.RawMessage `json:"rotation"`
}

type OpponentShootMessage struct {
	Type      string          `json:"type"`
	Position  json.RawMessage `json:"position"`
	Direction json.RawMessage `json:"direction"`
}

type ScoreUpdateMessage struct {
	Type   string         `json:"type"`
	Scores map[string]int `json:"scores"`
}

type ScoredMessage struct {
	Type string `json:"type"`
}

type DiedMessage struct {
	Type string `json:"type"`
}

type GameOverMessage struct {
	Type     string         `json:"type"`
	WinnerID int64          `json:"winnerId"`
	Scores   map[string]int `json:"scores"`
}

type OpponentDisconnectedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
