package handlers

import (
	"context"

	"fastlane/internal/models"
)

// PumpService is the command surface contract the handlers dispatch into.
type PumpService interface {
	Status() models.Status
	SetCredential(ctx context.Context, uid string) (models.Status, error)
	SetCredentialWithAccount(uid, name string, balancePaise int64) (models.Status, error)
	Begin(ctx context.Context, amountPaise int64) error
	Abort(ctx context.Context) (dispensedPaise int64, stopped bool)
	TopUp(ctx context.Context, amountPaise int64) (newBalancePaise int64, err error)
}
