package ampeco

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

type Connector struct {
	Name   string `json:"name"`
	Icon   string `json:"icon"`
	Format string `json:"format"`
	Status string `json:"status"`
}

type EVSE struct {
	ID          ID          `json:"id"`
	Identifier  string      `json:"identifier"`
	MaxPower    Number      `json:"maxPower"`
	CurrentType string      `json:"currentType"`
	Status      string      `json:"status"`
	Connectors  []Connector `json:"connectors"`
}

type ChargePoint struct {
	ID                       ID     `json:"id"`
	Name                     string `json:"name"`
	Status                   string `json:"status"`
	MaxCurrentA              Number `json:"max_current_a"`
	AllowedMinCurrentA       Number `json:"allowed_min_current_a"`
	AllowedMaxCurrentA       Number `json:"allowed_max_current_a"`
	AllowedMaxPowerKW        Number `json:"allowed_max_power_kw"`
	AllowedSolarMinPowerKW   Number `json:"allowed_solar_min_power_kw"`
	FirmwareVersion          string `json:"firmware_version"`
	PlugAndCharge            bool   `json:"plug_and_charge"`
	IsRebooting              bool   `json:"is_rebooting"`
	SmartChargingEnabled     bool   `json:"smart_charging_enabled"`
	LastMonthEnergyKWh       Number `json:"last_month_energy_kwh"`
	LastMonthElectricityCost Number `json:"last_month_electricity_cost"`
	ElectricityCostTaxName   string `json:"electricity_cost_tax_name"`
	ElectricityCostTaxPct    Number `json:"electricity_cost_tax_percent"`
	EVSEs                    []EVSE `json:"evses"`
}

// HasEVSE reports whether id names one of the charge point's EVSEs.
func (cp *ChargePoint) HasEVSE(id ID) bool {
	for _, e := range cp.EVSEs {
		if e.ID == id {
			return true
		}
	}
	return false
}

type Response[T any] struct {
	Data T `json:"data"`
}

func (c *Client) GetChargePoint(ctx context.Context, chargepointID string) (*ChargePoint, error) {
	const op = "get charge point"
	if chargepointID == "" {
		return nil, newError(ErrValidation, op, 0, errors.New("chargepoint id is empty"))
	}

	var response Response[*ChargePoint]
	if err := c.do(ctx, op, http.MethodGet, "app/personal/charge-points/"+url.PathEscape(chargepointID), nil, &response); err != nil {
		return nil, err
	}
	if response.Data == nil {
		return nil, newError(ErrProtocol, op, 0, errors.New("missing data object"))
	}
	return response.Data, nil
}

// ListChargePoints returns every charge point the token has access to.
func (c *Client) ListChargePoints(ctx context.Context) ([]ChargePoint, error) {
	const op = "list charge points"
	var response Response[*[]ChargePoint]
	if err := c.do(ctx, op, http.MethodGet, "app/personal/charge-points", nil, &response); err != nil {
		return nil, err
	}
	if response.Data == nil {
		return nil, newError(ErrProtocol, op, 0, errors.New("missing data array"))
	}
	return *response.Data, nil
}
