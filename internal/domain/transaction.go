/**
 * @description
 * This file defines the transaction (ledger entry) model, its enumerations, and the
 * request/response DTOs for every money-movement operation. A transaction row is
 * written once, inside the same database transaction as the balance change it
 * records, and is immutable afterwards.
 *
 * @notes
 * - Transfers always produce a pair of rows (debit side + credit side) sharing one
 *   reference prefix with "-D"/"-C" suffixes, so the ledger effect of any transfer
 *   sums to zero.
 * - `idempotency_key` carries a unique index; re-submitting an operation with the
 *   same key replays the stored outcome instead of executing again.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType enumerates every kind of ledger entry the engine emits.
type TransactionType string

const (
	TransactionTypeDeposit        TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal     TransactionType = "WITHDRAWAL"
	TransactionTypeInternalDebit  TransactionType = "TRANSFER_INTERNAL_DEBIT"
	TransactionTypeInternalCredit TransactionType = "TRANSFER_INTERNAL_CREDIT"
	TransactionTypeUserDebit      TransactionType = "TRANSFER_USER_DEBIT"
	TransactionTypeUserCredit     TransactionType = "TRANSFER_USER_CREDIT"
	TransactionTypeExternal       TransactionType = "TRANSFER_EXTERNAL"
	TransactionTypeBillPayment    TransactionType = "BILL_PAYMENT"
)

// Debit reports whether entries of this type reduce the balance of their
// `from_account`. The sign of an entry is implied by its type, never stored.
func (t TransactionType) Debit() bool {
	switch t {
	case TransactionTypeWithdrawal, TransactionTypeInternalDebit,
		TransactionTypeUserDebit, TransactionTypeExternal, TransactionTypeBillPayment:
		return true
	}
	return false
}

// TransactionStatus enumerates terminal entry states. The engine never leaves a
// pending row visible: an operation either commits SUCCESS rows or commits nothing.
type TransactionStatus string

const (
	TransactionStatusSuccess TransactionStatus = "SUCCESS"
	TransactionStatusFailed  TransactionStatus = "FAILED"
)

// Transaction is one ledger entry.
type Transaction struct {
	ID             uuid.UUID         `json:"id"`
	UserID         uuid.UUID         `json:"user_id"` // owner of this side of the operation
	Type           TransactionType   `json:"type"`
	Amount         int64             `json:"amount"` // in XOF, always positive
	Currency       string            `json:"currency"`
	FromAccountID  *uuid.UUID        `json:"from_account_id,omitempty"`
	ToAccountID    *uuid.UUID        `json:"to_account_id,omitempty"`
	RelatedUserID  *uuid.UUID        `json:"related_user_id,omitempty"`
	BeneficiaryID  *uuid.UUID        `json:"beneficiary_id,omitempty"`
	IdempotencyKey *string           `json:"idempotency_key,omitempty"`
	Reference      string            `json:"reference"`
	Description    string            `json:"description,omitempty"`
	ServiceCode    string            `json:"service_code,omitempty"`
	ServiceName    string            `json:"service_name,omitempty"`
	BillNumber     string            `json:"bill_number,omitempty"`
	Status         TransactionStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`

	// Display-only fields resolved by history queries, never persisted.
	FromAccountNumber string `json:"from_account_number,omitempty"`
	ToAccountNumber   string `json:"to_account_number,omitempty"`
	RelatedUserName   string `json:"related_user_name,omitempty"`
}

// OperationResult is the success payload of every mutating ledger operation: the
// persisted entry (or debit/credit pair) plus the post-operation balance of each
// participant account.
type OperationResult struct {
	Transactions []Transaction       `json:"transactions"`
	Balances     map[uuid.UUID]int64 `json:"balances"`
	Replayed     bool                `json:"replayed,omitempty"` // true when served from a prior idempotency key
}

// DepositRequest is the DTO for crediting one of the caller's accounts.
type DepositRequest struct {
	AccountID      uuid.UUID `json:"account_id"`
	Amount         int64     `json:"amount"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Reference      string    `json:"reference,omitempty"`
	Description    string    `json:"description,omitempty"`
}

// WithdrawRequest is the DTO for debiting one of the caller's accounts.
type WithdrawRequest struct {
	AccountID      uuid.UUID `json:"account_id"`
	Amount         int64     `json:"amount"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Reference      string    `json:"reference,omitempty"`
	Description    string    `json:"description,omitempty"`
}

// InternalTransferRequest moves funds between two accounts of the same user.
type InternalTransferRequest struct {
	FromAccountID  uuid.UUID `json:"from_account_id"`
	ToAccountID    uuid.UUID `json:"to_account_id"`
	Amount         int64     `json:"amount"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Reference      string    `json:"reference,omitempty"`
	Description    string    `json:"description,omitempty"`
}

// UserTransferRequest moves funds from the caller's CURRENT account to another
// user's CURRENT account.
type UserTransferRequest struct {
	ToUserID       uuid.UUID `json:"to_user_id"`
	Amount         int64     `json:"amount"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Reference      string    `json:"reference,omitempty"`
	Description    string    `json:"description,omitempty"`
}

// BeneficiaryTransferRequest moves funds from one of the caller's accounts to a
// saved beneficiary's linked CURRENT account.
type BeneficiaryTransferRequest struct {
	FromAccountID  uuid.UUID `json:"from_account_id"`
	BeneficiaryID  uuid.UUID `json:"beneficiary_id"`
	Amount         int64     `json:"amount"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Reference      string    `json:"reference,omitempty"`
	Description    string    `json:"description,omitempty"`
}

// BillPaymentRequest debits the caller's CURRENT account to pay a utility bill.
// The source account is implicit; only the service and bill identifiers vary.
type BillPaymentRequest struct {
	ServiceCode    string `json:"service_code"`
	BillNumber     string `json:"bill_number"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Reference      string `json:"reference,omitempty"`
	Description    string `json:"description,omitempty"`
}
