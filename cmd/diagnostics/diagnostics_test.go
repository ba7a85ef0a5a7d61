package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/denysvitali/ampeco-ha/ampeco"
	"github.com/denysvitali/ampeco-ha/hass"
)

func TestRedactState(t *testing.T) {
	assert.Nil(t, RedactState(nil))

	state := &ampeco.ChargerState{
		ChargepointID: "4711",
		Name:          "Garage",
		EVSEID:        "9",
		Status:        ampeco.StatusCharging,
		MaxCurrentA:   16,
		Session:       &ampeco.SessionState{ID: "s-1", PowerKW: 7.4},
	}
	out := RedactState(state)

	assert.Equal(t, "**REDACTED**", out.ChargepointID)
	assert.Equal(t, "**REDACTED**", out.Name)
	assert.Equal(t, "**REDACTED**", out.EVSEID)
	assert.Equal(t, "**REDACTED**", out.Session.ID)
	assert.Equal(t, 7.4, out.Session.PowerKW)
	assert.Equal(t, ampeco.StatusCharging, out.Status)
	assert.Equal(t, 16.0, out.MaxCurrentA)

	// the live snapshot is untouched
	assert.Equal(t, "4711", state.ChargepointID)
	assert.Equal(t, "s-1", state.Session.ID)
}

func TestReport_NoIdentifiers(t *testing.T) {
	state := &ampeco.ChargerState{ChargepointID: "4711", Name: "Garage", Session: &ampeco.SessionState{ID: "s-1"}}
	report := Report{
		State:  RedactState(state),
		Device: RedactDevice(hass.NewDevice("4711", state)),
	}
	out, err := yaml.Marshal(report)
	require.NoError(t, err)

	assert.NotContains(t, string(out), "4711")
	assert.NotContains(t, string(out), "Garage")
	assert.NotContains(t, string(out), "s-1")
	assert.Contains(t, string(out), "manufacturer: AMPECO")
}
