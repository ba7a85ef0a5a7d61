package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denysvitali/ampeco-ha/ampeco"
	"github.com/denysvitali/ampeco-ha/hass"
	"github.com/denysvitali/ampeco-ha/poller"
)

func TestCollector_Publish(t *testing.T) {
	c := New()
	ctx := context.Background()
	state := &ampeco.ChargerState{
		ChargepointID:      "cp-1",
		Status:             ampeco.StatusCharging,
		MaxCurrentA:        16,
		LastMonthEnergyKWh: 123.4,
		Session:            &ampeco.SessionState{PowerKW: 7.4, EnergyKWh: 15, DurationMinutes: 91},
	}
	c.Publish(ctx, poller.Update{
		ChargepointID: "cp-1",
		State:         state,
		Poll:          poller.Diagnostics{Interval: 30 * time.Second, Charging: true},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.up.WithLabelValues("cp-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.charging.WithLabelValues("cp-1")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.stale.WithLabelValues("cp-1")))
	assert.Equal(t, 7.4, testutil.ToFloat64(c.power.WithLabelValues("cp-1")))
	assert.Equal(t, 15.0, testutil.ToFloat64(c.energy.WithLabelValues("cp-1")))
	assert.Equal(t, 91.0, testutil.ToFloat64(c.duration.WithLabelValues("cp-1")))
	assert.Equal(t, 16.0, testutil.ToFloat64(c.maxCurrent.WithLabelValues("cp-1")))
	assert.Equal(t, 30.0, testutil.ToFloat64(c.pollInterval.WithLabelValues("cp-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pollsTotal.WithLabelValues("cp-1", "ok")))

	c.Publish(ctx, poller.Update{
		ChargepointID: "cp-1",
		State:         state.MarkStale(),
		Poll:          poller.Diagnostics{Interval: time.Minute, ErrorCount: 1, Charging: true},
		Err:           &ampeco.Error{Kind: ampeco.ErrTransient, Op: "get charge point"},
	})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.up.WithLabelValues("cp-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stale.WithLabelValues("cp-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pollErrors.WithLabelValues("cp-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pollsTotal.WithLabelValues("cp-1", "transient")))
	// the stale session is still exported
	assert.Equal(t, 7.4, testutil.ToFloat64(c.power.WithLabelValues("cp-1")))
}

func TestCollector_PublishWithoutState(t *testing.T) {
	c := New()
	c.Publish(context.Background(), poller.Update{
		ChargepointID: "cp-2",
		Err:           &ampeco.Error{Kind: ampeco.ErrAuth, Op: "get charge point"},
	})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.up.WithLabelValues("cp-2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stale.WithLabelValues("cp-2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pollsTotal.WithLabelValues("cp-2", "auth")))
}

type registry map[string]hass.Handler

func (r registry) RegisterCommand(name string, _ hass.Schema, handler hass.Handler) error {
	r[name] = handler
	return nil
}

func TestCollector_Instrument(t *testing.T) {
	c := New()
	inner := registry{}
	reg := c.Instrument(inner)

	fail := true
	require.NoError(t, reg.RegisterCommand("update_data", hass.Schema{}, func(context.Context, hass.Call) error {
		if fail {
			return &ampeco.Error{Kind: ampeco.ErrNotFound, Op: "get charge point"}
		}
		return nil
	}))

	ctx := context.Background()
	assert.ErrorIs(t, inner["update_data"](ctx, hass.Call{}), ampeco.ErrNotFound)
	fail = false
	assert.NoError(t, inner["update_data"](ctx, hass.Call{}))
	assert.NoError(t, inner["update_data"](ctx, hass.Call{}))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.commandsTotal.WithLabelValues("update_data", "not_found")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.commandsTotal.WithLabelValues("update_data", "ok")))
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.Publish(context.Background(), poller.Update{ChargepointID: "cp-1", State: &ampeco.ChargerState{}})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ampeco_charger_up{chargepoint="cp-1"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestResult(t *testing.T) {
	tests := map[string]error{
		"ok":                nil,
		"validation":        &ampeco.Error{Kind: ampeco.ErrValidation},
		"auth":              &ampeco.Error{Kind: ampeco.ErrAuth},
		"not_found":         &ampeco.Error{Kind: ampeco.ErrNotFound},
		"transient":         &ampeco.Error{Kind: ampeco.ErrTransient},
		"protocol":          &ampeco.Error{Kind: ampeco.ErrProtocol},
		"no_active_session": &ampeco.Error{Kind: ampeco.ErrNoActiveSession},
		"unknown_device":    hass.ErrUnknownDevice,
		"error":             errors.New("boom"),
	}
	for expected, err := range tests {
		assert.Equal(t, expected, Result(err))
	}
}
