package hass

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denysvitali/ampeco-ha/ampeco"
	"github.com/denysvitali/ampeco-ha/poller"
)

type fakeCharger struct {
	mu      sync.Mutex
	state   *ampeco.ChargerState
	err     error
	fetches int
	starts  []*int
	stops   int
}

func (f *fakeCharger) FetchState(context.Context, string) (*ampeco.ChargerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.state, f.err
}

func (f *fakeCharger) StartCharging(_ context.Context, _ string, maxCurrent *int) (*ampeco.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, maxCurrent)
	return nil, nil
}

func (f *fakeCharger) StopCharging(context.Context, string) (*ampeco.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil, nil
}

type published struct {
	entityID string
	value    Value
}

type fakePublisher struct {
	mu          sync.Mutex
	announced   []Device
	published   []published
	announceErr error
}

func (p *fakePublisher) Announce(_ context.Context, device Device, entities []Entity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.announceErr != nil {
		return p.announceErr
	}
	p.announced = append(p.announced, device)
	return nil
}

func (p *fakePublisher) Publish(_ context.Context, entityID string, value Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, published{entityID, value})
	return nil
}

func (p *fakePublisher) latest(entityID string) (Value, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.published) - 1; i >= 0; i-- {
		if p.published[i].entityID == entityID {
			return p.published[i].value, true
		}
	}
	return Value{}, false
}

type fakeRegistry map[string]Handler

func (r fakeRegistry) RegisterCommand(name string, _ Schema, handler Handler) error {
	r[name] = handler
	return nil
}

func newTestIntegration(t *testing.T, ids ...string) (*Integration, *fakePublisher, map[string]*fakeCharger) {
	t.Helper()
	pub := &fakePublisher{}
	integration := NewIntegration(pub)
	chargers := map[string]*fakeCharger{}
	for _, id := range ids {
		f := &fakeCharger{state: &ampeco.ChargerState{ChargepointID: id, Name: "Charger " + id, Status: ampeco.StatusAvailable}}
		chargers[id] = f
		deviceID, err := integration.Add(poller.New(id, f, nil))
		require.NoError(t, err)
		assert.Equal(t, DeviceID(id), deviceID)
	}
	return integration, pub, chargers
}

func TestIntegration_PublishAnnouncesOnce(t *testing.T) {
	integration, pub, _ := newTestIntegration(t, "cp-1")
	c := integration.Coordinators()[0]
	ctx := context.Background()

	_, err := c.Poll(ctx)
	require.NoError(t, err)
	_, err = c.Poll(ctx)
	require.NoError(t, err)

	require.Len(t, pub.announced, 1)
	assert.Equal(t, "Charger cp-1", pub.announced[0].Name)
	assert.Len(t, pub.published, 2*len(Sensors))

	v, ok := pub.latest("sensor.ampeco_" + Slug("cp-1") + "_charger_status")
	require.True(t, ok)
	assert.Equal(t, "available", v.State)
}

func TestIntegration_ReannouncesOnDeviceChange(t *testing.T) {
	integration, pub, chargers := newTestIntegration(t, "cp-1")
	c := integration.Coordinators()[0]
	ctx := context.Background()

	_, _ = c.Poll(ctx)
	chargers["cp-1"].state = &ampeco.ChargerState{ChargepointID: "cp-1", Name: "Renamed"}
	_, _ = c.Poll(ctx)
	require.Len(t, pub.announced, 2)
	assert.Equal(t, "Renamed", pub.announced[1].Name)
}

func TestIntegration_AnnounceFailureRetries(t *testing.T) {
	integration, pub, _ := newTestIntegration(t, "cp-1")
	c := integration.Coordinators()[0]
	pub.announceErr = errors.New("broker down")

	_, _ = c.Poll(context.Background())
	assert.Empty(t, pub.published)

	pub.announceErr = nil
	_, _ = c.Poll(context.Background())
	assert.Len(t, pub.announced, 1)
	assert.Len(t, pub.published, len(Sensors))
}

func TestIntegration_Commands(t *testing.T) {
	integration, _, chargers := newTestIntegration(t, "cp-1", "cp-2")
	registry := fakeRegistry{}
	require.NoError(t, integration.RegisterCommands(registry))
	require.Len(t, registry, 3)

	ctx := context.Background()
	current := 16
	require.NoError(t, registry[CommandStartCharging](ctx, Call{DeviceID: DeviceID("cp-2"), MaxCurrent: &current}))
	require.Len(t, chargers["cp-2"].starts, 1)
	assert.Equal(t, 16, *chargers["cp-2"].starts[0])
	assert.Empty(t, chargers["cp-1"].starts)
	// the command is followed by a refresh
	assert.Equal(t, 1, chargers["cp-2"].fetches)

	require.NoError(t, registry[CommandStopCharging](ctx, Call{DeviceID: DeviceID("cp-1")}))
	assert.Equal(t, 1, chargers["cp-1"].stops)

	require.NoError(t, registry[CommandUpdateData](ctx, Call{DeviceID: DeviceID("cp-1")}))
	assert.Equal(t, 2, chargers["cp-1"].fetches)
}

func TestIntegration_CommandValidation(t *testing.T) {
	integration, _, chargers := newTestIntegration(t, "cp-1")
	ctx := context.Background()

	for _, current := range []int{5, 33} {
		current := current
		err := integration.Call(ctx, CommandStartCharging, Call{DeviceID: DeviceID("cp-1"), MaxCurrent: &current})
		assert.ErrorIs(t, err, ampeco.ErrValidation)
	}
	assert.ErrorIs(t, integration.Call(ctx, CommandStopCharging, Call{}), ampeco.ErrValidation)
	assert.ErrorIs(t, integration.Call(ctx, CommandUpdateData, Call{DeviceID: "cp-1"}), ErrUnknownDevice)
	assert.Error(t, integration.Call(ctx, "reboot", Call{DeviceID: DeviceID("cp-1")}))

	assert.Empty(t, chargers["cp-1"].starts)
	assert.Zero(t, chargers["cp-1"].fetches)
}

func TestIntegration_AddTwice(t *testing.T) {
	integration, _, chargers := newTestIntegration(t, "cp-1")
	_, err := integration.Add(poller.New("cp-1", chargers["cp-1"], nil))
	assert.Error(t, err)
}

func TestSchema_Decode(t *testing.T) {
	call, err := Schemas[CommandStartCharging].Decode([]byte(`{"device_id": "d", "max_current": 10}`))
	require.NoError(t, err)
	assert.Equal(t, "d", call.DeviceID)
	require.NotNil(t, call.MaxCurrent)
	assert.Equal(t, 10, *call.MaxCurrent)

	call, err = Schemas[CommandStartCharging].Decode([]byte(`{"device_id": "d"}`))
	require.NoError(t, err)
	assert.Nil(t, call.MaxCurrent)

	for _, payload := range []string{
		`{"device_id": "d", "max_current": 40}`,
		`{"device_id": "d", "max_current": "ten"}`,
		`{"max_current": 10}`,
		`{"device_id": "d", "extra": 1}`,
		`not json`,
	} {
		_, err := Schemas[CommandStartCharging].Decode([]byte(payload))
		assert.ErrorIs(t, err, ampeco.ErrValidation, payload)
	}

	_, err = Schemas[CommandStopCharging].Decode([]byte(`{"device_id": "d", "max_current": 10}`))
	assert.ErrorIs(t, err, ampeco.ErrValidation)
}

func TestLogPublisher(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	p := LogPublisher{Logger: logger}

	device := NewDevice("cp-1", nil)
	require.NoError(t, p.Announce(context.Background(), device, Entities(device)))
	require.NoError(t, p.Publish(context.Background(), "sensor.x", Value{State: 7.4}))

	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, device.ID, hook.AllEntries()[0].Data["device_id"])
	assert.Equal(t, "state 7.4", hook.LastEntry().Message)
}
