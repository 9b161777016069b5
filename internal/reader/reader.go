// Package reader defines the credential reader boundary. The physical RFID
// driver lives outside this module; the controller only needs one
// non-blocking poll per tick.
package reader

import "context"

// Reader reports a freshly presented credential, if any.
type Reader interface {
	// Poll returns the raw credential and ok=true when a card is present.
	Poll(ctx context.Context) (uid string, ok bool, err error)
}

// NopReader never reports a card. Used when the controller runs without a
// physical reader and credentials arrive via the command surface.
type NopReader struct{}

// Poll reports no card.
func (NopReader) Poll(context.Context) (string, bool, error) {
	return "", false, nil
}
