package hass

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/denysvitali/ampeco-ha/poller"
)

var log = logrus.StandardLogger()

// Integration binds coordinators to the host platform: it announces and
// publishes their entities and routes commands by device id.
type Integration struct {
	publisher Publisher

	mu           sync.RWMutex
	coordinators map[string]*poller.Coordinator
	devices      map[string]Device
	entities     map[string][]Entity
}

func NewIntegration(publisher Publisher) *Integration {
	return &Integration{
		publisher:    publisher,
		coordinators: map[string]*poller.Coordinator{},
		devices:      map[string]Device{},
		entities:     map[string][]Entity{},
	}
}

// Add registers a coordinator and subscribes to its updates. It returns the
// device id commands must use.
func (i *Integration) Add(c *poller.Coordinator) (string, error) {
	deviceID := DeviceID(c.ChargepointID())
	i.mu.Lock()
	if _, ok := i.coordinators[deviceID]; ok {
		i.mu.Unlock()
		return "", fmt.Errorf("charger %s is already registered", c.ChargepointID())
	}
	i.coordinators[deviceID] = c
	i.mu.Unlock()

	c.AddSink(i)
	return deviceID, nil
}

func (i *Integration) Coordinator(deviceID string) (*poller.Coordinator, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	c, ok := i.coordinators[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return c, nil
}

// Coordinators returns every registered coordinator ordered by chargepoint
// id.
func (i *Integration) Coordinators() []*poller.Coordinator {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]*poller.Coordinator, 0, len(i.coordinators))
	for _, c := range i.coordinators {
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].ChargepointID() < out[b].ChargepointID()
	})
	return out
}

// RegisterCommands registers start_charging, stop_charging and update_data.
func (i *Integration) RegisterCommands(registry CommandRegistry) error {
	for _, name := range []string{CommandStartCharging, CommandStopCharging, CommandUpdateData} {
		name := name
		err := registry.RegisterCommand(name, Schemas[name], func(ctx context.Context, call Call) error {
			return i.Call(ctx, name, call)
		})
		if err != nil {
			return fmt.Errorf("failed to register %s: %w", name, err)
		}
	}
	return nil
}

// Call validates and dispatches one command.
func (i *Integration) Call(ctx context.Context, name string, call Call) error {
	schema, ok := Schemas[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	if err := schema.Validate(call); err != nil {
		return err
	}
	c, err := i.Coordinator(call.DeviceID)
	if err != nil {
		return err
	}

	log.Debugf("%s for %s", name, c.ChargepointID())
	switch name {
	case CommandStartCharging:
		return c.StartCharging(ctx, call.MaxCurrent)
	case CommandStopCharging:
		return c.StopCharging(ctx)
	default:
		return c.Refresh(ctx)
	}
}

// Publish implements poller.Sink.
func (i *Integration) Publish(ctx context.Context, u poller.Update) {
	device := NewDevice(u.ChargepointID, u.State)

	i.mu.Lock()
	entities, announced := i.entities[device.ID]
	changed := !announced || i.devices[device.ID] != device
	if changed {
		entities = Entities(device)
		i.entities[device.ID] = entities
		i.devices[device.ID] = device
	}
	i.mu.Unlock()

	if changed {
		if err := i.publisher.Announce(ctx, device, entities); err != nil {
			log.Warnf("failed to announce %s: %v", u.ChargepointID, err)
			// retry on the next update
			i.mu.Lock()
			delete(i.entities, device.ID)
			i.mu.Unlock()
			return
		}
	}

	for _, e := range entities {
		if err := i.publisher.Publish(ctx, e.EntityID, e.Evaluate(u)); err != nil {
			log.Warnf("failed to publish %s: %v", e.EntityID, err)
		}
	}
}

var _ poller.Sink = (*Integration)(nil)
