package hass

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogPublisher writes entity states to the log. It is used when no MQTT
// broker is configured.
type LogPublisher struct {
	Logger *logrus.Logger
}

func (p LogPublisher) logger() *logrus.Logger {
	if p.Logger == nil {
		return log
	}
	return p.Logger
}

func (p LogPublisher) Announce(_ context.Context, device Device, entities []Entity) error {
	p.logger().WithFields(logrus.Fields{
		"device_id":   device.ID,
		"chargepoint": device.ChargepointID,
		"entities":    len(entities),
	}).Infof("device %s", device.Name)
	return nil
}

func (p LogPublisher) Publish(_ context.Context, entityID string, value Value) error {
	p.logger().WithField("entity", entityID).Debugf("state %s", FormatState(value.State))
	return nil
}

var _ Publisher = LogPublisher{}
