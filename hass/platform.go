package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/denysvitali/ampeco-ha/ampeco"
)

const (
	CommandStartCharging = "start_charging"
	CommandStopCharging  = "stop_charging"
	CommandUpdateData    = "update_data"
)

var ErrUnknownDevice = errors.New("unknown device")

// Publisher is the entity side of the host platform. Announce is called
// before the first Publish of a device and again when its info changes.
type Publisher interface {
	Announce(ctx context.Context, device Device, entities []Entity) error
	Publish(ctx context.Context, entityID string, value Value) error
}

// Call is the payload of every command.
type Call struct {
	DeviceID   string `json:"device_id"`
	MaxCurrent *int   `json:"max_current,omitempty"`
}

type Handler func(ctx context.Context, call Call) error

// CommandRegistry is the command side of the host platform.
type CommandRegistry interface {
	RegisterCommand(name string, schema Schema, handler Handler) error
}

// Schema lists the fields a command accepts. device_id is always required.
type Schema struct {
	MaxCurrent bool
}

var Schemas = map[string]Schema{
	CommandStartCharging: {MaxCurrent: true},
	CommandStopCharging:  {},
	CommandUpdateData:    {},
}

func (s Schema) Validate(call Call) error {
	if call.DeviceID == "" {
		return validationError("device_id is required")
	}
	if call.MaxCurrent != nil {
		if !s.MaxCurrent {
			return validationError("max_current is not accepted")
		}
		if err := ampeco.ValidateMaxCurrent(call.MaxCurrent); err != nil {
			return err
		}
	}
	return nil
}

// Decode parses a JSON payload and validates it. Unknown fields are
// rejected.
func (s Schema) Decode(data []byte) (Call, error) {
	var call Call
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&call); err != nil {
		return Call{}, validationError(fmt.Sprintf("invalid payload: %v", err))
	}
	return call, s.Validate(call)
}

func validationError(msg string) error {
	return &ampeco.Error{Kind: ampeco.ErrValidation, Op: "validate command", Err: errors.New(msg)}
}
