package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/denysvitali/ampeco-ha/ampeco"
	"github.com/denysvitali/ampeco-ha/hass"
	"github.com/denysvitali/ampeco-ha/poller"
)

const namespace = "ampeco"

// Collector exports the latest charger snapshots. It is a poller.Sink.
type Collector struct {
	registry *prometheus.Registry

	up            *prometheus.GaugeVec
	stale         *prometheus.GaugeVec
	charging      *prometheus.GaugeVec
	power         *prometheus.GaugeVec
	energy        *prometheus.GaugeVec
	duration      *prometheus.GaugeVec
	maxCurrent    *prometheus.GaugeVec
	lastMonth     *prometheus.GaugeVec
	pollInterval  *prometheus.GaugeVec
	pollErrors    *prometheus.GaugeVec
	pollsTotal    *prometheus.CounterVec
	commandsTotal *prometheus.CounterVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	labels := []string{"chargepoint"}

	gauge := func(name, help string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	return &Collector{
		registry:     reg,
		up:           gauge("charger_up", "1 if the last poll of the charger succeeded."),
		stale:        gauge("charger_stale", "1 if the published state is from an earlier poll."),
		charging:     gauge("charger_charging", "1 while the charger is charging."),
		power:        gauge("session_power_kilowatts", "Power of the active session."),
		energy:       gauge("session_energy_kilowatt_hours", "Energy delivered in the active session."),
		duration:     gauge("session_duration_minutes", "Duration of the active session."),
		maxCurrent:   gauge("charger_max_current_amperes", "Maximum current of the charger."),
		lastMonth:    gauge("last_month_energy_kilowatt_hours", "Energy delivered last month."),
		pollInterval: gauge("poll_interval_seconds", "Delay until the next scheduled poll."),
		pollErrors:   gauge("poll_consecutive_errors", "Consecutive failed polls."),
		pollsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Polls partitioned by charger and result.",
		}, []string{"chargepoint", "result"}),
		commandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands partitioned by name and result.",
		}, []string{"command", "result"}),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Publish implements poller.Sink.
func (c *Collector) Publish(_ context.Context, u poller.Update) {
	id := u.ChargepointID
	c.pollsTotal.WithLabelValues(id, Result(u.Err)).Inc()
	c.pollInterval.WithLabelValues(id).Set(u.Poll.Interval.Seconds())
	c.pollErrors.WithLabelValues(id).Set(float64(u.Poll.ErrorCount))
	c.up.WithLabelValues(id).Set(boolValue(u.Err == nil))

	s := u.State
	if s == nil {
		c.stale.WithLabelValues(id).Set(1)
		return
	}
	c.stale.WithLabelValues(id).Set(boolValue(s.Stale))
	c.charging.WithLabelValues(id).Set(boolValue(s.IsCharging()))
	c.maxCurrent.WithLabelValues(id).Set(s.MaxCurrentA)
	c.lastMonth.WithLabelValues(id).Set(s.LastMonthEnergyKWh)

	var power, energy, duration float64
	if s.Session != nil {
		power = s.Session.PowerKW
		energy = s.Session.EnergyKWh
		duration = float64(s.Session.DurationMinutes)
	}
	c.power.WithLabelValues(id).Set(power)
	c.energy.WithLabelValues(id).Set(energy)
	c.duration.WithLabelValues(id).Set(duration)
}

// Instrument wraps a CommandRegistry so that every handler invocation is
// counted.
func (c *Collector) Instrument(registry hass.CommandRegistry) hass.CommandRegistry {
	return instrumented{registry: registry, counter: c.commandsTotal}
}

type instrumented struct {
	registry hass.CommandRegistry
	counter  *prometheus.CounterVec
}

func (i instrumented) RegisterCommand(name string, schema hass.Schema, handler hass.Handler) error {
	return i.registry.RegisterCommand(name, schema, func(ctx context.Context, call hass.Call) error {
		err := handler(ctx, call)
		i.counter.WithLabelValues(name, Result(err)).Inc()
		return err
	})
}

// Result is the label value for an outcome.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ampeco.ErrValidation):
		return "validation"
	case errors.Is(err, ampeco.ErrAuth):
		return "auth"
	case errors.Is(err, ampeco.ErrNotFound):
		return "not_found"
	case errors.Is(err, ampeco.ErrTransient):
		return "transient"
	case errors.Is(err, ampeco.ErrProtocol):
		return "protocol"
	case errors.Is(err, ampeco.ErrNoActiveSession):
		return "no_active_session"
	case errors.Is(err, hass.ErrUnknownDevice):
		return "unknown_device"
	default:
		return "error"
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var _ poller.Sink = (*Collector)(nil)
