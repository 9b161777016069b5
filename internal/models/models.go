package models

import (
	"strconv"
	"time"
)

// Mode describes what the currently presented credential resolved to.
type Mode string

const (
	ModeIdle    Mode = "IDLE"
	ModeAdmin   Mode = "ADMIN"
	ModeUser    Mode = "USER"
	ModeUnknown Mode = "UNKNOWN"
)

// Session is the single mutable context for the currently presented credential.
// Mode is ModeIdle if and only if Credential is empty.
type Session struct {
	Credential      string
	Mode            Mode
	Name            string
	Balance         int64 // paise
	LastPresentedAt time.Time
}

// Reset clears the session back to idle.
func (s *Session) Reset() {
	*s = Session{Mode: ModeIdle}
}

// DispenseJob is one authorized, in-flight timed dispense. At most one
// exists system-wide; its presence mirrors the relay's engaged state.
type DispenseJob struct {
	Credential      string
	AuthorizedPaise int64
	StartedAt       time.Time
	PlannedDuration time.Duration
	EndsAt          time.Time
}

// Status is a read-only snapshot of the controller state.
type Status struct {
	Credential       string  `json:"uid"`
	Mode             Mode    `json:"mode"`
	Name             string  `json:"name"`
	Balance          float64 `json:"balance"`
	Dispensing       bool    `json:"motorRunning"`
	SecondsRemaining float64 `json:"secondsRemaining"`
	Message          string  `json:"message"`
}

// PaiseFromRupees converts a rupee amount to whole paise, rounding half away from zero.
func PaiseFromRupees(rupees float64) int64 {
	if rupees >= 0 {
		return int64(rupees*100 + 0.5)
	}
	return int64(rupees*100 - 0.5)
}

// Rupees converts paise to a rupee float for API responses.
func Rupees(paise int64) float64 {
	return float64(paise) / 100
}

// FormatRupees renders paise as a decimal string with two fraction digits,
// the format the balance store persists.
func FormatRupees(paise int64) string {
	return strconv.FormatFloat(float64(paise)/100, 'f', 2, 64)
}
