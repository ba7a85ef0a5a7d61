package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denysvitali/ampeco-ha/ampeco"
	"github.com/denysvitali/ampeco-ha/hass"
	"github.com/denysvitali/ampeco-ha/poller"
)

type fakeCharger struct {
	mu      sync.Mutex
	fetches int
	stopErr error
}

func (f *fakeCharger) FetchState(_ context.Context, id string) (*ampeco.ChargerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return &ampeco.ChargerState{ChargepointID: id, Status: ampeco.StatusAvailable}, nil
}

func (f *fakeCharger) StartCharging(context.Context, string, *int) (*ampeco.Session, error) {
	return &ampeco.Session{ID: "1"}, nil
}

func (f *fakeCharger) StopCharging(context.Context, string) (*ampeco.Session, error) {
	return nil, f.stopErr
}

type nopPublisher struct{}

func (nopPublisher) Announce(context.Context, hass.Device, []hass.Entity) error { return nil }
func (nopPublisher) Publish(context.Context, string, hass.Value) error          { return nil }

func newTestServer(t *testing.T) (http.Handler, *fakeCharger) {
	t.Helper()
	charger := &fakeCharger{stopErr: &ampeco.Error{Kind: ampeco.ErrNoActiveSession, Op: "end session"}}
	integration := hass.NewIntegration(nopPublisher{})
	_, err := integration.Add(poller.New("cp-1", charger, nil))
	require.NoError(t, err)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ampeco_charger_up 1\n"))
	})
	s := New(integration, metrics)
	require.NoError(t, integration.RegisterCommands(s))
	assert.Error(t, s.RegisterCommand(hass.CommandUpdateData, hass.Schema{}, nil))
	return s.Routes(), charger
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestServer_Health(t *testing.T) {
	h, _ := newTestServer(t)
	rec := do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())

	rec = do(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ampeco_charger_up")
}

func TestServer_Chargers(t *testing.T) {
	h, _ := newTestServer(t)
	deviceID := hass.DeviceID("cp-1")

	rec := do(h, http.MethodGet, "/api/chargers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []chargerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, deviceID, views[0].DeviceID)
	assert.Equal(t, "cp-1", views[0].ChargepointID)
	assert.Nil(t, views[0].State)
	assert.Equal(t, 300, views[0].Poll.IntervalSeconds)
	// never started: no schedule to report
	assert.Nil(t, views[0].Poll.NextPoll)
	assert.NotContains(t, rec.Body.String(), "next_poll")

	rec = do(h, http.MethodPost, "/api/commands/update_data", `{"device_id": "`+deviceID+`"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(h, http.MethodGet, "/api/chargers/"+deviceID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view chargerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.NotNil(t, view.State)
	assert.Equal(t, ampeco.StatusAvailable, view.State.Status)

	rec = do(h, http.MethodGet, "/api/chargers/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Commands(t *testing.T) {
	h, charger := newTestServer(t)
	deviceID := hass.DeviceID("cp-1")

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{name: "start", path: "/api/commands/start_charging", body: `{"device_id": "` + deviceID + `", "max_current": 16}`, status: http.StatusNoContent},
		{name: "start without current", path: "/api/commands/start_charging", body: `{"device_id": "` + deviceID + `"}`, status: http.StatusNoContent},
		{name: "current too high", path: "/api/commands/start_charging", body: `{"device_id": "` + deviceID + `", "max_current": 33}`, status: http.StatusBadRequest},
		{name: "current too low", path: "/api/commands/start_charging", body: `{"device_id": "` + deviceID + `", "max_current": 5}`, status: http.StatusBadRequest},
		{name: "missing device", path: "/api/commands/update_data", body: `{}`, status: http.StatusBadRequest},
		{name: "unknown device", path: "/api/commands/update_data", body: `{"device_id": "cp-1"}`, status: http.StatusNotFound},
		{name: "no session", path: "/api/commands/stop_charging", body: `{"device_id": "` + deviceID + `"}`, status: http.StatusConflict},
		{name: "unknown command", path: "/api/commands/reboot", body: `{"device_id": "` + deviceID + `"}`, status: http.StatusNotFound},
		{name: "bad json", path: "/api/commands/update_data", body: `{`, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
	// two successful starts, each followed by one refresh
	assert.Equal(t, 2, charger.fetches)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, StatusCode(&ampeco.Error{Kind: ampeco.ErrAuth}))
	assert.Equal(t, http.StatusBadGateway, StatusCode(&ampeco.Error{Kind: ampeco.ErrNotFound}))
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(&ampeco.Error{Kind: ampeco.ErrTransient}))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(assert.AnError))
}
