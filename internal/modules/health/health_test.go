package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxtrader/internal/modules/health/service"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMux(t *testing.T) {
	state := service.NewState()
	mux := NewMux(state)

	assert.Equal(t, http.StatusOK, get(t, mux, "/livez").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, mux, "/readyz").Code)

	state.SetReady(true)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, mux, "/readyz").Code, "stream still down")
	state.SetWSConnected(true)
	assert.Equal(t, http.StatusOK, get(t, mux, "/readyz").Code)

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	state.TouchTick(ts)

	rec := get(t, mux, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap service.Snapshot
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &snap))
	assert.True(t, snap.Ready)
	assert.True(t, snap.WSConnected)
	assert.Equal(t, ts.Unix(), snap.LastTickUnix)
	assert.Equal(t, int64(1), snap.Ticks)
}
