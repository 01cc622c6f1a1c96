package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngineProbe struct{ alive bool }

func (f fakeEngineProbe) Alive() bool { return f.alive }

type fakeClientProbe struct{ connected bool }

func (f fakeClientProbe) Connected() bool { return f.connected }

func TestHealthHandlerHealthyWhenEngineAliveAndNoClient(t *testing.T) {
	c := NewChecker(fakeEngineProbe{alive: true}, nil, zerolog.Nop())
	rec := httptest.NewRecorder()

	c.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Components["engine"])
	_, hasClient := resp.Components["client"]
	assert.False(t, hasClient)
}

func TestHealthHandlerDegradedWhenClientDisconnected(t *testing.T) {
	c := NewChecker(fakeEngineProbe{alive: true}, fakeClientProbe{connected: false}, zerolog.Nop())
	rec := httptest.NewRecorder()

	c.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unhealthy", resp.Components["client"])
}

func TestLiveHandlerAlwaysReportsAlive(t *testing.T) {
	c := NewChecker(fakeEngineProbe{alive: false}, nil, zerolog.Nop())
	rec := httptest.NewRecorder()

	c.LiveHandler(rec, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyHandlerReadyWhenEngineAliveAndNoClient(t *testing.T) {
	c := NewChecker(fakeEngineProbe{alive: true}, nil, zerolog.Nop())
	rec := httptest.NewRecorder()

	c.ReadyHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyHandlerNotReadyWhenClientDisconnected(t *testing.T) {
	c := NewChecker(fakeEngineProbe{alive: true}, fakeClientProbe{connected: false}, zerolog.Nop())
	rec := httptest.NewRecorder()

	c.ReadyHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyHandlerNotReadyWhenEngineDead(t *testing.T) {
	c := NewChecker(fakeEngineProbe{alive: false}, nil, zerolog.Nop())
	rec := httptest.NewRecorder()

	c.ReadyHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
