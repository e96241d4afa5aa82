package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// newAuthClient returns an http client with a cookie jar so the session
// cookie set by register/login travels to the secured routes.
func newAuthClient(t *testing.T) *http.Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("Failed to create cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func postJSON(t *testing.T, client *http.Client, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request body: %v", err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Request to %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Failed to decode response from %s: %v", url, err)
	}
	return resp, decoded
}

func getJSON(t *testing.T, client *http.Client, url string) (*http.Response, map[string]any) {
	t.Helper()

	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("Request to %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Failed to decode response from %s: %v", url, err)
	}
	return resp, decoded
}

func TestAuth_RegisterLoginMeFlow(t *testing.T) {
	s, ts := setupTestServer(t)
	client := newAuthClient(t)

	resp, body := postJSON(t, client, ts.URL+"/api/register", map[string]string{
		"username": "alice",
		"password": "secret123",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "alice", body["username"])

	// The register response set a session cookie; /api/me accepts it.
	resp, body = getJSON(t, client, ts.URL+"/api/me")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", body["username"])

	// A fresh client can log in with the same credentials.
	fresh := newAuthClient(t)
	resp, body = postJSON(t, fresh, ts.URL+"/api/login", map[string]string{
		"username": "alice",
		"password": "secret123",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, body = getJSON(t, fresh, ts.URL+"/api/me")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", body["username"])

	// The ws token it mints passes server-side validation.
	resp, body = getJSON(t, fresh, ts.URL+"/api/wstoken")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	tokenStr, ok := body["token"].(string)
	assert.True(t, ok)

	claims, err := s.validateToken(tokenStr)
	assert.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
}

func TestAuth_RegisterRejectsShortPassword(t *testing.T) {
	_, ts := setupTestServer(t)
	client := newAuthClient(t)

	resp, body := postJSON(t, client, ts.URL+"/api/register", map[string]string{
		"username": "alice",
		"password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Password must be at least 6 characters", body["error"])
}

func TestAuth_RegisterRejectsDuplicateUsername(t *testing.T) {
	_, ts := setupTestServer(t)

	creds := map[string]string{"username": "alice", "password": "secret123"}
	resp, _ := postJSON(t, newAuthClient(t), ts.URL+"/api/register", creds)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := postJSON(t, newAuthClient(t), ts.URL+"/api/register", creds)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Username already exists", body["error"])
}

func TestAuth_LoginRejectsWrongPassword(t *testing.T) {
	_, ts := setupTestServer(t)
	client := newAuthClient(t)

	postJSON(t, client, ts.URL+"/api/register", map[string]string{
		"username": "alice",
		"password": "secret123",
	})

	resp, body := postJSON(t, newAuthClient(t), ts.URL+"/api/login", map[string]string{
		"username": "alice",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid credentials", body["error"])
}

func TestAuth_LoginRejectsUnknownUser(t *testing.T) {
	_, ts := setupTestServer(t)

	resp, body := postJSON(t, newAuthClient(t), ts.URL+"/api/login", map[string]string{
		"username": "nobody",
		"password": "secret123",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid credentials", body["error"])
}

func TestAuth_MeRequiresSession(t *testing.T) {
	_, ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/me")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_LogoutClearsSession(t *testing.T) {
	_, ts := setupTestServer(t)
	client := newAuthClient(t)

	postJSON(t, client, ts.URL+"/api/register", map[string]string{
		"username": "alice",
		"password": "secret123",
	})

	resp, _ := postJSON(t, client, ts.URL+"/api/logout", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = getJSON(t, client, ts.URL+"/api/me")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_HistoryEndpoint(t *testing.T) {
	s, ts := setupTestServer(t)
	client := newAuthClient(t)

	postJSON(t, client, ts.URL+"/api/register", map[string]string{
		"username": "alice",
		"password": "secret123",
	})
	alice, err := s.persistence.GetUserByUsername("alice")
	assert.NoError(t, err)

	bobID, _ := registerPlayer(t, s, "bob")
	err = s.persistence.SaveMatch(MatchRecord{
		Player1ID:    alice.ID,
		Player2ID:    bobID,
		WinnerID:     alice.ID,
		Player1Score: 5,
		Player2Score: 3,
		StartedAt:    time.Now().Add(-time.Minute),
		EndedAt:      time.Now(),
	})
	assert.NoError(t, err)

	resp, err := client.Get(ts.URL + "/api/history")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var history []HistoryEntry
	err = json.NewDecoder(resp.Body).Decode(&history)
	assert.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, "bob", history[0].Opponent)
	assert.Equal(t, 5, history[0].MyScore)
	assert.Equal(t, 3, history[0].OpponentScore)
	assert.True(t, history[0].Won)
}
