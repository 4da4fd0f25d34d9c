package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broker-observer/src/logger"
	"broker-observer/src/models"
)

// -----------------------------------------------------------------------------

type stubStore struct{ pingErr error }

func (s *stubStore) Ping(ctx context.Context) error                              { return s.pingErr }
func (s *stubStore) HGet(ctx context.Context, key, field string) (string, error) { return "", nil }
func (s *stubStore) HSetBatch(ctx context.Context, writes []models.MHashWrite) error {
	return nil
}
func (s *stubStore) Publish(ctx context.Context, channel, payload string) error { return nil }
func (s *stubStore) Subscribe(ctx context.Context, channels ...string) (<-chan models.MChannelMessage, error) {
	return nil, nil
}
func (s *stubStore) XAdd(ctx context.Context, stream string, fields map[string]string) error {
	return nil
}
func (s *stubStore) Delete(ctx context.Context, keys ...string) error             { return nil }
func (s *stubStore) ExpireAt(ctx context.Context, key string, at time.Time) error { return nil }
func (s *stubStore) Get(ctx context.Context, key string) (string, error)          { return "", nil }
func (s *stubStore) Close() error                                                 { return nil }

type stubSessions struct{ statuses []models.MSessionStatus }

func (s *stubSessions) SessionStatus() []models.MSessionStatus { return s.statuses }

type stubSnapshots struct{}

func (s *stubSnapshots) Latest() map[string]interface{} {
	return map[string]interface{}{"positions": map[string]interface{}{}, "margins": map[string]string{}, "ticks": ""}
}

// -----------------------------------------------------------------------------

func newTestServer(store *stubStore, sessions *stubSessions) *APIServer {
	return NewAPIServer(store, sessions, &stubSnapshots{}, logger.NewLogger("test", "error"))
}

func doRequest(t *testing.T, s *APIServer, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.engine.ServeHTTP(w, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

// -----------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(&stubStore{}, &stubSessions{})

	w, body := doRequest(t, s, "/api/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["store"])
	assert.Contains(t, body, "uptime_seconds")
	assert.Contains(t, body, "memory")
}

func TestSessionsEndpoint(t *testing.T) {
	sessions := &stubSessions{statuses: []models.MSessionStatus{
		{Broker: "kite", AccountID: "A1", TokenValid: true},
		{Broker: "neo", AccountID: "C3", TokenValid: false},
	}}
	s := newTestServer(&stubStore{}, sessions)

	w, body := doRequest(t, s, "/api/sessions")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["count"])
}

func TestLatestEndpoint(t *testing.T) {
	s := newTestServer(&stubStore{}, &stubSessions{})

	w, body := doRequest(t, s, "/api/latest")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, body, "positions")
	assert.Contains(t, body, "margins")
}
