/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access the
 * ledger service needs. Defining an interface decouples the business logic from the
 * PostgreSQL implementation and lets tests substitute in-memory stubs.
 *
 * The interface is split in two levels:
 *   - plain read/create methods that run as single statements, and
 *   - `ExecuteLedgerUnit`, which runs a callback inside one database transaction.
 *     Everything a money-movement operation does between "lock the accounts" and
 *     "commit" goes through the `LedgerUnit` handed to that callback, so the
 *     operation either commits whole or leaves no trace.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sunubank/ledger-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account methods
	CreateAccount(ctx context.Context, account *domain.Account) error
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	FindAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error)
	FindAccountByUserAndType(ctx context.Context, userID uuid.UUID, accountType domain.AccountType) (*domain.Account, error)
	AccountNumberExists(ctx context.Context, number string) (bool, error)

	// Beneficiary methods (read-only: the contact-list subsystem owns these rows)
	FindBeneficiaryByID(ctx context.Context, beneficiaryID uuid.UUID, ownerID uuid.UUID) (*domain.Beneficiary, error)

	// Transaction history (read-only, no locking)
	FindTransactionsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error)

	// ExecuteLedgerUnit runs fn inside a single database transaction and commits
	// only if fn returns nil. Any error from fn rolls the whole unit back.
	ExecuteLedgerUnit(ctx context.Context, fn func(LedgerUnit) error) error
}

// LedgerUnit is the view of the store available inside one atomic ledger
// operation. Account reads through this interface take row locks that are held
// until the surrounding unit commits or rolls back.
type LedgerUnit interface {
	// AccountForUpdate loads an account and locks its row for the rest of the unit.
	AccountForUpdate(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)

	// AccountByUserAndTypeForUpdate locates a user's account of the given type and
	// locks it. Used when the operation addresses an account by owner, not by id.
	AccountByUserAndTypeForUpdate(ctx context.Context, userID uuid.UUID, accountType domain.AccountType) (*domain.Account, error)

	// TransactionByIdempotencyKey returns the entry recorded under key, or
	// ErrTransactionNotFound. Reading inside the unit keeps the idempotency check
	// atomic with the eventual insert.
	TransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)

	// TransactionsByReferencePrefix returns all entries whose reference starts with
	// prefix, oldest first. Used to reassemble a debit/credit pair on replay.
	TransactionsByReferencePrefix(ctx context.Context, prefix string) ([]domain.Transaction, error)

	// DailyDebitTotal sums the successful debit entries recorded against the
	// account during the UTC day containing at.
	DailyDebitTotal(ctx context.Context, accountID uuid.UUID, at time.Time) (int64, error)

	// SetAccountBalance writes a new balance for a previously locked account.
	SetAccountBalance(ctx context.Context, accountID uuid.UUID, balance int64) error

	// InsertTransaction appends one ledger entry.
	InsertTransaction(ctx context.Context, tx *domain.Transaction) error
}
