package app

import "errors"

// Business-rule failures surfaced to callers. Storage-shaped failures
// (not-found, insufficient funds, idempotency races) live in the store package;
// everything here is a rule the request broke before or after the accounts were
// locked. Handlers map these to HTTP statuses with errors.Is.
var (
	ErrInvalidAmount          = errors.New("amount must be a positive number of francs at or above the minimum")
	ErrSameAccount            = errors.New("source and destination accounts must differ")
	ErrInvalidAccountType     = errors.New("unknown account type")
	ErrAccountNotUsable       = errors.New("account is not active")
	ErrTransferNotAllowed     = errors.New("transfer is not allowed between these parties")
	ErrSelfTransferNotAllowed = errors.New("transfers to yourself are not allowed")
	ErrLimitExceeded          = errors.New("amount exceeds the per-transaction limit")
	ErrDailyLimitExceeded     = errors.New("amount exceeds the daily debit limit for this account")
	ErrUnknownBillService     = errors.New("unknown bill service code")
	ErrBillNumberRequired     = errors.New("bill number is required")
	ErrAccountAlreadyExists   = errors.New("an account of this type already exists for the user")
)
