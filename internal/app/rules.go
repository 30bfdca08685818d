/**
 * @description
 * This file contains the rule set for ledger operations: amount bounds, the
 * sanctioned account-type pairs for internal transfers, the daily debit ceiling,
 * and the bill-payment service allow-list. All functions here are pure; the
 * daily-cap check receives the already-aggregated total so the aggregation can
 * happen inside the same database transaction as the balance change it gates.
 */

package app

import "github.com/sunubank/ledger-service/internal/domain"

// Limits holds the configurable amount ceilings applied to every operation.
type Limits struct {
	MinAmount       int64 // smallest accepted amount per operation, in XOF
	MaxAmount       int64 // largest accepted amount per operation, in XOF
	DailyDebitLimit int64 // cumulative successful debits per account per UTC day
}

// validateAmount enforces the per-operation amount bounds.
func validateAmount(amount int64, limits Limits) error {
	if amount <= 0 || amount < limits.MinAmount {
		return ErrInvalidAmount
	}
	if limits.MaxAmount > 0 && amount > limits.MaxAmount {
		return ErrLimitExceeded
	}
	return nil
}

// internalPairAllowed reports whether funds may move between two account types
// within one user's own accounts. Exactly one side must be the CURRENT account:
// CURRENT<->SAVINGS and CURRENT<->BUSINESS are sanctioned, everything else
// (including SAVINGS<->BUSINESS and CURRENT<->CURRENT) is not.
func internalPairAllowed(from, to domain.AccountType) bool {
	return (from == domain.AccountTypeCurrent) != (to == domain.AccountTypeCurrent)
}

// checkDailyDebit enforces the per-account daily debit ceiling given the total
// already debited today.
func checkDailyDebit(debitedToday, amount int64, limits Limits) error {
	if limits.DailyDebitLimit > 0 && debitedToday+amount > limits.DailyDebitLimit {
		return ErrDailyLimitExceeded
	}
	return nil
}

// billServices is the fixed allow-list of payable utility services.
var billServices = map[string]string{
	"EAU":         "Eau",
	"ELECTRICITE": "Electricite",
	"MOBILE":      "Mobile",
	"INTERNET":    "Internet",
}

// billServiceName resolves a service code to its display name.
func billServiceName(code string) (string, bool) {
	name, ok := billServices[code]
	return name, ok
}
