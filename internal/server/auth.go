package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

// wsTokenTTL bounds the websocket credential. The HTTP session cookie is
// long-lived; the query-parameter token handed to the websocket upgrade is
// not, so a leaked URL goes stale quickly.
const wsTokenTTL = time.Hour

// Claims are the identity assertions the session core trusts: a stable user
// id and a display name.
type Claims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"id"`
	Username string `json:"username"`
}

func (s *Server) issueToken(userID int64, username string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID:   userID,
		Username: username,
	}
	if ttl > 0 {
		claims.RegisteredClaims = jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *Server) validateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "Username and password required")
		return
	}
	if len(req.Password) < 6 {
		writeJSONError(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Server error")
		return
	}

	userID, err := s.persistence.CreateUser(req.Username, string(hash))
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			writeJSONError(w, http.StatusBadRequest, "Username already exists")
			return
		}
		log.Printf("Failed to create user %s: %v", req.Username, err)
		writeJSONError(w, http.StatusInternalServerError, "Database error")
		return
	}

	s.setSessionCookie(w, userID, req.Username)
	writeJSON(w, map[string]any{"success": true, "username": req.Username})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "Username and password required")
		return
	}

	user, err := s.persistence.GetUserByUsername(req.Username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeJSONError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		log.Printf("Failed to load user %s: %v", req.Username, err)
		writeJSONError(w, http.StatusInternalServerError, "Database error")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		writeJSONError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	s.setSessionCookie(w, user.ID, user.Username)
	writeJSON(w, map[string]any{"success": true, "username": user.Username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, map[string]any{"username": claims.Username, "id": claims.UserID})
}

// handleWSToken issues the short-lived credential the websocket upgrade
// expects as a query parameter.
func (s *Server) handleWSToken(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	token, err := s.issueToken(claims.UserID, claims.Username, wsTokenTTL)
	if err != nil {
		log.Printf("Failed to issue ws token for %s: %v", claims.Username, err)
		writeJSONError(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeJSON(w, map[string]any{"token": token})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	history, err := s.persistence.LoadHistory(claims.UserID)
	if err != nil {
		log.Printf("Failed to load history for user %d: %v", claims.UserID, err)
		writeJSONError(w, http.StatusInternalServerError, "Database error")
		return
	}
	writeJSON(w, history)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, userID int64, username string) {
	token, err := s.issueToken(userID, username, 0)
	if err != nil {
		log.Printf("Failed to issue session token for %s: %v", username, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		log.Printf("Failed to write error response: %v", err)
	}
}
