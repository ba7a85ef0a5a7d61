package ampeco

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	MinChargingCurrent = 6
	MaxChargingCurrent = 32
)

// Session is a charging session as returned by the backend. Power, Energy
// and Duration are raw values in the unit declared by the matching *Unit
// field, or in W, Wh and seconds when no unit is declared.
type Session struct {
	ID            ID        `json:"id"`
	EvseID        ID        `json:"evseId"`
	StartedAt     time.Time `json:"startedAt"`
	Status        string    `json:"status"`
	ChargingState string    `json:"chargingState"`
	EvseStatus    string    `json:"evseStatus"`
	Power         Number    `json:"power"`
	PowerUnit     string    `json:"powerUnit"`
	Energy        Number    `json:"energy"`
	EnergyUnit    string    `json:"energyUnit"`
	Duration      Number    `json:"duration"`
	DurationUnit  string    `json:"durationUnit"`
	Amount        Number    `json:"amount"`
	TotalDuration Number    `json:"totalDuration"`
	TotalAmount   Number    `json:"totalAmount"`
}

type sessionResponse struct {
	Session *Session `json:"session"`
}

type startRequest struct {
	EvseID     ID   `json:"evseId"`
	MaxCurrent *int `json:"maxCurrent,omitempty"`
}

// ValidateMaxCurrent checks an optional charging current limit in amperes.
func ValidateMaxCurrent(maxCurrent *int) error {
	if maxCurrent == nil {
		return nil
	}
	if *maxCurrent < MinChargingCurrent || *maxCurrent > MaxChargingCurrent {
		return newError(ErrValidation, "start charging", 0,
			fmt.Errorf("max_current %d outside %d..%d", *maxCurrent, MinChargingCurrent, MaxChargingCurrent))
	}
	return nil
}

// GetActiveSession returns the active session of the token's user, or nil
// when there is none.
func (c *Client) GetActiveSession(ctx context.Context) (*Session, error) {
	const op = "get active session"
	var response sessionResponse
	err := c.do(ctx, op, http.MethodGet, "app/session/active", nil, &response)
	if err != nil {
		// the backend answers 404 or an empty body when nothing is charging
		if errors.Is(err, ErrNotFound) || errors.Is(err, errEmptyBody) {
			return nil, nil
		}
		return nil, err
	}
	if response.Session == nil || response.Session.ID == "" {
		return nil, nil
	}
	return response.Session, nil
}

// StartSession starts charging on evseID.
func (c *Client) StartSession(ctx context.Context, evseID ID, maxCurrent *int) (*Session, error) {
	const op = "start charging"
	if err := ValidateMaxCurrent(maxCurrent); err != nil {
		return nil, err
	}
	if evseID == "" {
		return nil, newError(ErrValidation, op, 0, errors.New("evse id is empty"))
	}
	log.Debugf("start session on evse %s (max current %v)", evseID, maxCurrent)

	var response sessionResponse
	if err := c.do(ctx, op, http.MethodPost, "app/session/start", startRequest{EvseID: evseID, MaxCurrent: maxCurrent}, &response); err != nil {
		if errors.Is(err, errEmptyBody) {
			return nil, nil
		}
		return nil, err
	}
	return response.Session, nil
}

// EndSession ends the session with the given id.
func (c *Client) EndSession(ctx context.Context, sessionID ID) (*Session, error) {
	const op = "stop charging"
	if sessionID == "" {
		return nil, newError(ErrValidation, op, 0, errors.New("session id is empty"))
	}
	log.Debugf("end session %s", sessionID)

	var response sessionResponse
	if err := c.do(ctx, op, http.MethodPost, "app/session/"+url.PathEscape(sessionID.String())+"/end", nil, &response); err != nil {
		if errors.Is(err, errEmptyBody) {
			return nil, nil
		}
		return nil, err
	}
	return response.Session, nil
}
