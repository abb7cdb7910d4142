// Package lockgw talks to the smart-lock vendor that actuates pod doors and
// mints keypad codes.
package lockgw

import (
	"context"
	"time"
)

// Code is a keypad code minted by the vendor together with the window the
// vendor will honour it for.
type Code struct {
	Code       string
	ValidFrom  time.Time
	ValidUntil time.Time
}

// Gateway is the lock vendor boundary. LockDevice and UnlockDevice report
// false when the vendor accepted the call but the device did not actuate.
// Calls may block on the network and must never run inside a transaction.
type Gateway interface {
	LockDevice(ctx context.Context, lockID string) (bool, error)
	UnlockDevice(ctx context.Context, lockID string) (bool, error)
	GenerateAccessCode(ctx context.Context, lockID string) (*Code, error)
	RevokeAccessCode(ctx context.Context, lockID, code string) error
}
