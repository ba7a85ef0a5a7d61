package hass

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/denysvitali/ampeco-ha/ampeco"
	"github.com/denysvitali/ampeco-ha/poller"
)

const (
	Domain       = "ampeco"
	Manufacturer = "AMPECO"

	CategoryDiagnostic = "diagnostic"
)

// deviceNamespace seeds the UUIDv5 device ids.
var deviceNamespace = uuid.MustParse("5b0e6c1e-6f3a-4d0a-9a35-0c8f3f6e2a71")

// hashSuffix matches the "_<8 hex>" tail Slug appends.
var hashSuffix = regexp.MustCompile(`_[0-9a-f]{8}$`)

// Slug turns a chargepoint id into a lowercase identifier made of [a-z0-9_].
// Ids that do not survive the transformation unchanged, or that already end
// like a hashed slug, get a short hash of the raw id appended, so "CP-1",
// "cp_1" and Slug("CP-1") itself all map to different slugs.
func Slug(chargepointID string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(chargepointID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "_")
	if slug == chargepointID && !hashSuffix.MatchString(slug) {
		return slug
	}
	if slug == "" {
		slug = "cp"
	}
	sum := sha1.Sum([]byte(chargepointID))
	return slug + "_" + hex.EncodeToString(sum[:4])
}

// DeviceID is the stable platform-side identifier of a charger. It is a
// UUIDv5 of the chargepoint id and never equals the id or an entity name.
func DeviceID(chargepointID string) string {
	return uuid.NewSHA1(deviceNamespace, []byte(chargepointID)).String()
}

type Device struct {
	ID               string `json:"-" yaml:"id"`
	ChargepointID    string `json:"-" yaml:"chargepoint_id"`
	Name             string `json:"name" yaml:"name"`
	Manufacturer     string `json:"manufacturer" yaml:"manufacturer"`
	Model            string `json:"model,omitempty" yaml:"model,omitempty"`
	SWVersion        string `json:"sw_version,omitempty" yaml:"sw_version,omitempty"`
	ConfigurationURL string `json:"configuration_url,omitempty" yaml:"configuration_url,omitempty"`
}

// NewDevice describes the charger; state may be nil before the first poll.
func NewDevice(chargepointID string, state *ampeco.ChargerState) Device {
	d := Device{
		ID:               DeviceID(chargepointID),
		ChargepointID:    chargepointID,
		Name:             "AMPECO EV Charger " + chargepointID,
		Manufacturer:     Manufacturer,
		Model:            "Unknown",
		ConfigurationURL: ampeco.DefaultHost + "/chargers/" + chargepointID,
	}
	if state == nil {
		return d
	}
	if state.Name != "" {
		d.Name = state.Name
	}
	if state.ConnectorName != "" {
		d.Model = state.ConnectorName
	}
	d.SWVersion = state.FirmwareVersion
	return d
}

// Sensor describes one entity kind. Value and Attributes are evaluated
// against every update; State in the update may be nil.
type Sensor struct {
	Key         string
	Name        string
	Unit        string
	DeviceClass string
	StateClass  string
	Icon        string
	Category    string

	Value      func(u poller.Update) any
	Attributes func(u poller.Update) map[string]any
}

type Entity struct {
	UniqueID string
	EntityID string
	Slug     string
	Device   Device
	Sensor   *Sensor
}

type Value struct {
	State      any
	Attributes map[string]any
}

// Entities lists every entity of a charger. The result is a pure function of
// the chargepoint id and the device info.
func Entities(device Device) []Entity {
	slug := Slug(device.ChargepointID)
	var entities []Entity
	for i := range Sensors {
		s := &Sensors[i]
		objectID := Domain + "_" + slug + "_" + s.Key
		entities = append(entities, Entity{
			UniqueID: objectID,
			EntityID: "sensor." + objectID,
			Slug:     slug,
			Device:   device,
			Sensor:   s,
		})
	}
	return entities
}

func (e Entity) Evaluate(u poller.Update) Value {
	v := Value{State: e.Sensor.Value(u)}
	if e.Sensor.Attributes != nil {
		v.Attributes = e.Sensor.Attributes(u)
	}
	return v
}

var Sensors = []Sensor{
	{
		Key:  "charger_status",
		Name: "Status",
		Icon: "mdi:ev-station",
		Value: withState(func(s *ampeco.ChargerState) any {
			return string(s.Status)
		}),
		Attributes: func(u poller.Update) map[string]any {
			attrs := freshness(u)
			if s := u.State; s != nil {
				attrs["name"] = s.Name
				attrs["max_current_a"] = s.MaxCurrentA
				attrs["allowed_max_power_kw"] = s.AllowedMaxPowerKW
				attrs["allowed_min_current_a"] = s.AllowedMinCurrentA
				attrs["firmware_version"] = s.FirmwareVersion
				attrs["plug_and_charge"] = s.PlugAndCharge
				attrs["is_rebooting"] = s.IsRebooting
				attrs["smart_charging_enabled"] = s.SmartChargingEnabled
			}
			return attrs
		},
	},
	{
		Key:         "charging_session",
		Name:        "Charging Session",
		Unit:        "kW",
		DeviceClass: "power",
		StateClass:  "measurement",
		Value: withState(func(s *ampeco.ChargerState) any {
			if s.Session == nil {
				return 0.0
			}
			return s.Session.PowerKW
		}),
		Attributes: func(u poller.Update) map[string]any {
			attrs := freshness(u)
			if u.State == nil || u.State.Session == nil {
				return attrs
			}
			s := u.State.Session
			attrs["session_id"] = s.ID
			if !s.StartedAt.IsZero() {
				attrs["started_at"] = s.StartedAt.Format(time.RFC3339)
			}
			attrs["duration"] = s.DurationMinutes
			attrs["energy"] = s.EnergyKWh
			attrs["status"] = s.Status
			attrs["charging_state"] = s.ChargingState
			attrs["amount"] = s.Amount
			attrs["evse_status"] = u.State.EVSEStatus
			attrs["total_duration"] = s.TotalDuration
			attrs["total_amount"] = s.TotalAmount
			return attrs
		},
	},
	{
		Key:         "charging_current",
		Name:        "Charging Current",
		Unit:        "A",
		DeviceClass: "current",
		StateClass:  "measurement",
		Value: withState(func(s *ampeco.ChargerState) any {
			return s.MaxCurrentA
		}),
	},
	{
		Key:         "charging_energy",
		Name:        "Charging Energy",
		Unit:        "kWh",
		DeviceClass: "energy",
		StateClass:  "total_increasing",
		Value: withState(func(s *ampeco.ChargerState) any {
			if s.Session == nil {
				return 0.0
			}
			return s.Session.EnergyKWh
		}),
	},
	{
		Key:         "charging_duration",
		Name:        "Charging Duration",
		Unit:        "min",
		DeviceClass: "duration",
		Value: withState(func(s *ampeco.ChargerState) any {
			if s.Session == nil {
				return 0
			}
			return s.Session.DurationMinutes
		}),
	},
	{
		Key:  "evse_status",
		Name: "EVSE Status",
		Icon: "mdi:ev-station",
		Value: withState(func(s *ampeco.ChargerState) any {
			return s.EVSEStatus
		}),
	},
	{
		Key:         "polling_interval",
		Name:        "Polling Interval",
		Unit:        "s",
		DeviceClass: "duration",
		Category:    CategoryDiagnostic,
		Value: func(u poller.Update) any {
			return int(u.Poll.Interval.Seconds())
		},
		Attributes: func(u poller.Update) map[string]any {
			attrs := map[string]any{
				"is_charging": u.Poll.Charging,
				"retry_count": u.Poll.ErrorCount,
				"suspended":   u.Suspended,
			}
			if u.Err != nil {
				attrs["last_error"] = u.Err.Error()
			}
			return attrs
		},
	},
	{
		Key:         "max_current",
		Name:        "Maximum Current",
		Unit:        "A",
		DeviceClass: "current",
		Category:    CategoryDiagnostic,
		Value: withState(func(s *ampeco.ChargerState) any {
			return s.MaxCurrentA
		}),
		Attributes: func(u poller.Update) map[string]any {
			if u.State == nil {
				return map[string]any{}
			}
			return map[string]any{
				"allowed_min_current": u.State.AllowedMinCurrentA,
				"allowed_max_current": u.State.AllowedMaxCurrentA,
			}
		},
	},
	{
		Key:         "last_month_energy",
		Name:        "Last Month Energy",
		Unit:        "kWh",
		DeviceClass: "energy",
		Category:    CategoryDiagnostic,
		Value: withState(func(s *ampeco.ChargerState) any {
			return s.LastMonthEnergyKWh
		}),
		Attributes: func(u poller.Update) map[string]any {
			if u.State == nil {
				return map[string]any{}
			}
			return map[string]any{
				"electricity_cost": u.State.LastMonthCost,
				"tax_name":         u.State.CostTaxName,
				"tax_percent":      u.State.CostTaxPercent,
			}
		},
	},
	{
		Key:  "session_id",
		Name: "Session ID",
		Icon: "mdi:identifier",
		Value: withState(func(s *ampeco.ChargerState) any {
			if s.Session == nil {
				return nil
			}
			return s.Session.ID
		}),
	},
}

// withState yields nil (unknown) until the first successful poll.
func withState(f func(s *ampeco.ChargerState) any) func(u poller.Update) any {
	return func(u poller.Update) any {
		if u.State == nil {
			return nil
		}
		return f(u.State)
	}
}

func freshness(u poller.Update) map[string]any {
	attrs := map[string]any{"stale": u.State == nil || u.State.Stale}
	if u.State != nil && !u.State.FetchedAt.IsZero() {
		attrs["fetched_at"] = u.State.FetchedAt.Format(time.RFC3339)
	}
	if u.Err != nil {
		attrs["last_error"] = u.Err.Error()
	}
	return attrs
}
