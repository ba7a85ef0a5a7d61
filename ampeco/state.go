package ampeco

import (
	"context"
	"errors"
	"strings"
	"time"
)

type Status string

const (
	StatusAvailable   Status = "available"
	StatusPreparing   Status = "preparing"
	StatusCharging    Status = "charging"
	StatusSuspended   Status = "suspended"
	StatusFinishing   Status = "finishing"
	StatusOccupied    Status = "occupied"
	StatusReserved    Status = "reserved"
	StatusFaulted     Status = "faulted"
	StatusUnavailable Status = "unavailable"
	StatusUnknown     Status = "unknown"
)

func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "available":
		return StatusAvailable
	case "preparing":
		return StatusPreparing
	case "charging":
		return StatusCharging
	case "suspended", "suspendedev", "suspendedevse", "suspended_ev", "suspended_evse":
		return StatusSuspended
	case "finishing":
		return StatusFinishing
	case "occupied":
		return StatusOccupied
	case "reserved":
		return StatusReserved
	case "faulted", "error":
		return StatusFaulted
	case "unavailable", "offline":
		return StatusUnavailable
	}
	return StatusUnknown
}

// SessionState is the normalized view of an active session.
type SessionState struct {
	ID              string    `json:"id" yaml:"id"`
	StartedAt       time.Time `json:"started_at" yaml:"started_at"`
	Status          string    `json:"status" yaml:"status"`
	ChargingState   string    `json:"charging_state" yaml:"charging_state"`
	PowerKW         float64   `json:"power_kw" yaml:"power_kw"`
	EnergyKWh       float64   `json:"energy_kwh" yaml:"energy_kwh"`
	DurationMinutes int       `json:"duration_minutes" yaml:"duration_minutes"`
	Amount          float64   `json:"amount" yaml:"amount"`
	TotalDuration   float64   `json:"total_duration" yaml:"total_duration"`
	TotalAmount     float64   `json:"total_amount" yaml:"total_amount"`
}

// ChargerState is an immutable snapshot of one charger. A new value is built
// on every successful poll; consumers must not modify it.
type ChargerState struct {
	ChargepointID        string        `json:"chargepoint_id" yaml:"chargepoint_id"`
	Name                 string        `json:"name" yaml:"name"`
	Status               Status        `json:"status" yaml:"status"`
	EVSEID               string        `json:"evse_id" yaml:"evse_id"`
	EVSEStatus           string        `json:"evse_status" yaml:"evse_status"`
	ConnectorName        string        `json:"connector_name" yaml:"connector_name"`
	FirmwareVersion      string        `json:"firmware_version" yaml:"firmware_version"`
	MaxCurrentA          float64       `json:"max_current_a" yaml:"max_current_a"`
	AllowedMinCurrentA   float64       `json:"allowed_min_current_a" yaml:"allowed_min_current_a"`
	AllowedMaxCurrentA   float64       `json:"allowed_max_current_a" yaml:"allowed_max_current_a"`
	AllowedMaxPowerKW    float64       `json:"allowed_max_power_kw" yaml:"allowed_max_power_kw"`
	PlugAndCharge        bool          `json:"plug_and_charge" yaml:"plug_and_charge"`
	IsRebooting          bool          `json:"is_rebooting" yaml:"is_rebooting"`
	SmartChargingEnabled bool          `json:"smart_charging_enabled" yaml:"smart_charging_enabled"`
	LastMonthEnergyKWh   float64       `json:"last_month_energy_kwh" yaml:"last_month_energy_kwh"`
	LastMonthCost        float64       `json:"last_month_cost" yaml:"last_month_cost"`
	CostTaxName          string        `json:"cost_tax_name" yaml:"cost_tax_name"`
	CostTaxPercent       float64       `json:"cost_tax_percent" yaml:"cost_tax_percent"`
	Session              *SessionState `json:"session,omitempty" yaml:"session,omitempty"`
	FetchedAt            time.Time     `json:"fetched_at" yaml:"fetched_at"`
	Stale                bool          `json:"stale" yaml:"stale"`
}

func (s *ChargerState) IsCharging() bool {
	return s != nil && s.Status == StatusCharging
}

// MarkStale returns a copy of s flagged as stale. s itself is left untouched.
func (s *ChargerState) MarkStale() *ChargerState {
	if s == nil {
		return nil
	}
	stale := *s
	if s.Session != nil {
		session := *s.Session
		stale.Session = &session
	}
	stale.Stale = true
	return &stale
}

// NewChargerState merges a charge point and its (optional) active session
// into a snapshot, converting session units on the way.
func NewChargerState(chargepointID string, cp *ChargePoint, session *Session, now time.Time) (*ChargerState, error) {
	if cp == nil {
		return nil, errors.New("nil charge point")
	}
	state := &ChargerState{
		ChargepointID:        chargepointID,
		Name:                 cp.Name,
		Status:               ParseStatus(cp.Status),
		EVSEStatus:           "unavailable",
		FirmwareVersion:      cp.FirmwareVersion,
		MaxCurrentA:          cp.MaxCurrentA.Float64(),
		AllowedMinCurrentA:   cp.AllowedMinCurrentA.Float64(),
		AllowedMaxCurrentA:   cp.AllowedMaxCurrentA.Float64(),
		AllowedMaxPowerKW:    cp.AllowedMaxPowerKW.Float64(),
		PlugAndCharge:        cp.PlugAndCharge,
		IsRebooting:          cp.IsRebooting,
		SmartChargingEnabled: cp.SmartChargingEnabled,
		LastMonthEnergyKWh:   cp.LastMonthEnergyKWh.Float64(),
		LastMonthCost:        cp.LastMonthElectricityCost.Float64(),
		CostTaxName:          cp.ElectricityCostTaxName,
		CostTaxPercent:       cp.ElectricityCostTaxPct.Float64(),
		FetchedAt:            now,
	}
	if len(cp.EVSEs) > 0 {
		evse := cp.EVSEs[0]
		state.EVSEID = evse.ID.String()
		state.EVSEStatus = evse.Status
		if len(evse.Connectors) > 0 {
			state.ConnectorName = evse.Connectors[0].Name
		}
		if state.Status == StatusUnknown {
			state.Status = ParseStatus(evse.Status)
		}
	}

	if session != nil {
		s, err := newSessionState(session)
		if err != nil {
			return nil, err
		}
		state.Session = s
		if ParseStatus(s.ChargingState) == StatusCharging {
			state.Status = StatusCharging
		}
	}
	return state, nil
}

func newSessionState(s *Session) (*SessionState, error) {
	power, err := ToKilowatts(s.Power.Float64(), s.PowerUnit)
	if err != nil {
		return nil, err
	}
	energy, err := ToKilowattHours(s.Energy.Float64(), s.EnergyUnit)
	if err != nil {
		return nil, err
	}
	duration, err := ToMinutes(s.Duration.Float64(), s.DurationUnit)
	if err != nil {
		return nil, err
	}
	return &SessionState{
		ID:              s.ID.String(),
		StartedAt:       s.StartedAt,
		Status:          s.Status,
		ChargingState:   s.ChargingState,
		PowerKW:         power,
		EnergyKWh:       energy,
		DurationMinutes: duration,
		Amount:          s.Amount.Float64(),
		TotalDuration:   s.TotalDuration.Float64(),
		TotalAmount:     s.TotalAmount.Float64(),
	}, nil
}

// FetchState reads the charge point and the active session and merges them.
func (c *Client) FetchState(ctx context.Context, chargepointID string) (*ChargerState, error) {
	cp, err := c.GetChargePoint(ctx, chargepointID)
	if err != nil {
		return nil, err
	}
	session, err := c.activeSessionFor(ctx, cp)
	if err != nil {
		return nil, err
	}
	state, err := NewChargerState(chargepointID, cp, session, time.Now())
	if err != nil {
		return nil, newError(ErrProtocol, "fetch state", 0, err)
	}
	return state, nil
}

// activeSessionFor returns the active session only if it runs on one of
// cp's EVSEs. Sessions without an EVSE id are attributed to cp.
func (c *Client) activeSessionFor(ctx context.Context, cp *ChargePoint) (*Session, error) {
	session, err := c.GetActiveSession(ctx)
	if err != nil || session == nil {
		return nil, err
	}
	if session.EvseID != "" && !cp.HasEVSE(session.EvseID) {
		log.Debugf("active session %s belongs to evse %s, not to charge point %s", session.ID, session.EvseID, cp.ID)
		return nil, nil
	}
	return session, nil
}

// StartCharging starts a session on the first EVSE of the charge point.
// maxCurrent is checked before anything is sent.
func (c *Client) StartCharging(ctx context.Context, chargepointID string, maxCurrent *int) (*Session, error) {
	if err := ValidateMaxCurrent(maxCurrent); err != nil {
		return nil, err
	}
	cp, err := c.GetChargePoint(ctx, chargepointID)
	if err != nil {
		return nil, err
	}
	if len(cp.EVSEs) == 0 {
		return nil, newError(ErrProtocol, "start charging", 0, errors.New("charge point has no evse"))
	}
	return c.StartSession(ctx, cp.EVSEs[0].ID, maxCurrent)
}

// StopCharging ends the active session running on the charge point.
func (c *Client) StopCharging(ctx context.Context, chargepointID string) (*Session, error) {
	cp, err := c.GetChargePoint(ctx, chargepointID)
	if err != nil {
		return nil, err
	}
	session, err := c.activeSessionFor(ctx, cp)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, newError(ErrNoActiveSession, "stop charging", 0, nil)
	}
	return c.EndSession(ctx, session.ID)
}
