/**
 * @description
 * This file defines the account model and its enumerations. Accounts are the only
 * mutable ledger state in the system; their balances are written exclusively by the
 * ledger service in `internal/app`.
 *
 * @notes
 * - Amounts are stored as `int64` in XOF. The currency has no minor unit, so one
 *   unit of balance is one franc; integer arithmetic avoids floating-point drift.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountType enumerates the supported account products.
type AccountType string

const (
	AccountTypeCurrent  AccountType = "CURRENT"
	AccountTypeSavings  AccountType = "SAVINGS"
	AccountTypeBusiness AccountType = "BUSINESS"
)

// Valid reports whether t is one of the known account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeCurrent, AccountTypeSavings, AccountTypeBusiness:
		return true
	}
	return false
}

// AccountStatus enumerates the lifecycle states of an account. Accounts are never
// hard-deleted; closing an account transitions it to AccountStatusClosed.
type AccountStatus string

const (
	AccountStatusActive  AccountStatus = "ACTIVE"
	AccountStatusBlocked AccountStatus = "BLOCKED"
	AccountStatusClosed  AccountStatus = "CLOSED"
)

// Account represents one bank account row. Balance is non-negative at all times.
type Account struct {
	ID        uuid.UUID     `json:"id"`
	UserID    uuid.UUID     `json:"user_id"`
	Number    string        `json:"number"`
	Type      AccountType   `json:"type"`
	Balance   int64         `json:"balance"` // in XOF
	Currency  string        `json:"currency"`
	Status    AccountStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Usable reports whether the account may participate in a ledger operation,
// on either the debit or the credit side.
func (a *Account) Usable() bool {
	return a.Status == AccountStatusActive
}

// CreateAccountRequest is the DTO for opening an additional account.
type CreateAccountRequest struct {
	Type     AccountType `json:"type"`
	Currency string      `json:"currency,omitempty"`
}
