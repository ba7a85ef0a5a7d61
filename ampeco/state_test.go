package ampeco

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusCharging, ParseStatus("Charging"))
	assert.Equal(t, StatusAvailable, ParseStatus(" available "))
	assert.Equal(t, StatusFaulted, ParseStatus("faulted"))
	assert.Equal(t, StatusSuspended, ParseStatus("SuspendedEV"))
	assert.Equal(t, StatusUnknown, ParseStatus(""))
	assert.Equal(t, StatusUnknown, ParseStatus("something-new"))
}

func TestNewChargerState_StatusFromEVSE(t *testing.T) {
	cp := &ChargePoint{
		ID:    "cp-1",
		EVSEs: []EVSE{{ID: "e1", Status: "faulted"}},
	}
	state, err := NewChargerState("cp-1", cp, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, StatusFaulted, state.Status)
	assert.Equal(t, "faulted", state.EVSEStatus)
}

func TestNewChargerState_NoEVSE(t *testing.T) {
	state, err := NewChargerState("cp-1", &ChargePoint{Status: "available"}, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "unavailable", state.EVSEStatus)
	assert.Equal(t, StatusAvailable, state.Status)

	_, err = NewChargerState("cp-1", nil, nil, time.Now())
	assert.Error(t, err)
}

func TestNewChargerState_DeclaredUnits(t *testing.T) {
	session := &Session{
		ID:           "s1",
		Power:        11,
		PowerUnit:    "kW",
		Energy:       10.5,
		EnergyUnit:   "kWh",
		Duration:     30,
		DurationUnit: "min",
	}
	state, err := NewChargerState("cp-1", &ChargePoint{Status: "available"}, session, time.Now())
	require.NoError(t, err)
	require.NotNil(t, state.Session)
	assert.Equal(t, 11.0, state.Session.PowerKW)
	assert.Equal(t, 10.5, state.Session.EnergyKWh)
	assert.Equal(t, 30, state.Session.DurationMinutes)
	// a session that is not actively charging leaves the status alone
	assert.Equal(t, StatusAvailable, state.Status)
}

func TestChargerState_MarkStale(t *testing.T) {
	state := &ChargerState{
		ChargepointID: "cp-1",
		Status:        StatusCharging,
		Session:       &SessionState{ID: "s1", PowerKW: 7.4},
	}
	stale := state.MarkStale()
	require.NotNil(t, stale)
	assert.True(t, stale.Stale)
	assert.False(t, state.Stale)
	assert.Equal(t, state.Session.ID, stale.Session.ID)

	stale.Session.PowerKW = 0
	assert.Equal(t, 7.4, state.Session.PowerKW)

	var nilState *ChargerState
	assert.Nil(t, nilState.MarkStale())
	assert.False(t, nilState.IsCharging())
}

func TestNumberAndID_Unmarshal(t *testing.T) {
	var v struct {
		A Number `json:"a"`
		B Number `json:"b"`
		C Number `json:"c"`
		D ID     `json:"d"`
		E ID     `json:"e"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": "11.1", "b": 3, "c": null, "d": 42, "e": "x-1"}`), &v))
	assert.Equal(t, 11.1, v.A.Float64())
	assert.Equal(t, 3.0, v.B.Float64())
	assert.Equal(t, 0.0, v.C.Float64())
	assert.Equal(t, ID("42"), v.D)
	assert.Equal(t, ID("x-1"), v.E)

	assert.Error(t, json.Unmarshal([]byte(`{"a": "abc"}`), &v))
}
