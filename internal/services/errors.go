package services

import "errors"

// Named precondition failures. The dispatch layer maps these onto HTTP
// statuses; they are never silently downgraded to no-ops.
var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrVariantNotFound        = errors.New("variant not found")
	ErrSketchNotFound         = errors.New("sketch not found")
	ErrJobNotFound            = errors.New("job not found")
	ErrOfferRefused           = errors.New("offer refused by policy gate")
	ErrPlacementPhotoRequired = errors.New("placement photo required for AR")
	ErrRetryBudgetExhausted   = errors.New("retry budget exhausted")
	ErrIllegalTransition      = errors.New("illegal stage transition")
)
