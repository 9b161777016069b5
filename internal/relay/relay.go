// Package relay drives the pump's power-enable line.
package relay

import "sync"

// Pin abstracts the physical output line. Set(true) drives the active level.
type Pin interface {
	Set(active bool) error
}

// Relay gates the pump power route. It resolves polarity once and exposes
// only logical engage/disengage above it.
type Relay struct {
	mu        sync.Mutex
	pin       Pin
	activeLow bool
	engaged   bool
}

// New returns a relay forced into its disengaged state.
func New(pin Pin, activeLow bool) *Relay {
	r := &Relay{pin: pin, activeLow: activeLow}
	r.Disengage()
	return r
}

// Engage connects the power route.
func (r *Relay) Engage() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.pin.Set(r.level(true)); err != nil {
		return err
	}
	r.engaged = true
	return nil
}

// Disengage disconnects the power route. The inactive level is written
// twice: a relay stuck engaged is a safety hazard, so the off signal is
// re-asserted rather than trusted.
func (r *Relay) Disengage() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.pin.Set(r.level(false))
	if err2 := r.pin.Set(r.level(false)); err == nil {
		err = err2
	}
	r.engaged = false
	return err
}

// Engaged reports the logical relay state.
func (r *Relay) Engaged() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engaged
}

func (r *Relay) level(engage bool) bool {
	if r.activeLow {
		return !engage
	}
	return engage
}
