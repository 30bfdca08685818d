/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all SQL touching the accounts, transactions, beneficiaries, and users
 * tables.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 *
 * @notes
 * - `ExecuteLedgerUnit` is the only way to mutate balances. It wraps one pgx
 *   transaction; `ledgerUnit` methods run against that transaction, and account
 *   reads use `SELECT ... FOR UPDATE` so a row stays locked from the first read
 *   until commit/rollback. That closes the load-compute-save race the naive
 *   per-statement approach would have.
 * - `transactions.idempotency_key` carries a partial unique index. Two concurrent
 *   operations with the same key can both pass the in-unit lookup; the second one
 *   then fails its insert with a unique violation, which IsIdempotencyConflict
 *   exposes so the caller can replay the stored result.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sunubank/ledger-service/internal/domain"
)

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrBeneficiaryNotFound    = errors.New("beneficiary not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrDuplicateAccount       = errors.New("account already exists")
	ErrDuplicateAccountNumber = errors.New("account number already taken")
	ErrIdempotencyConflict    = errors.New("idempotency key already used")
	ErrInsufficientFunds      = errors.New("insufficient funds")
)

const uniqueViolationCode = "23505"

// IsIdempotencyConflict reports whether err is the unique violation raised when
// two units race to insert the same idempotency key.
func IsIdempotencyConflict(err error) bool {
	if errors.Is(err, ErrIdempotencyConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == uniqueViolationCode &&
		pgErr.ConstraintName == "transactions_idempotency_key_key"
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, user_id, number, type, balance, currency, status, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.UserID, &a.Number, &a.Type, &a.Balance, &a.Currency, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts a new account row.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, user_id, number, type, balance, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		account.ID,
		account.UserID,
		account.Number,
		account.Type,
		account.Balance,
		account.Currency,
		account.Status,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			// A collision on the generated number is retryable; a duplicate
			// user/type pair is not.
			if pgErr.ConstraintName == "accounts_number_key" {
				return ErrDuplicateAccountNumber
			}
			return ErrDuplicateAccount
		}
		return err
	}
	return nil
}

// FindAccountByID retrieves one account without locking it.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
}

// FindAccountsByUserID retrieves all accounts owned by a user.
func (r *PostgresRepository) FindAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Number, &a.Type, &a.Balance, &a.Currency, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// FindAccountByUserAndType retrieves the user's account of the given type.
func (r *PostgresRepository) FindAccountByUserAndType(ctx context.Context, userID uuid.UUID, accountType domain.AccountType) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 AND type = $2`
	return scanAccount(r.db.QueryRow(ctx, query, userID, accountType))
}

// AccountNumberExists reports whether an account number is already taken.
func (r *PostgresRepository) AccountNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE number = $1)`, number).Scan(&exists)
	return exists, err
}

// FindBeneficiaryByID retrieves a beneficiary scoped to its owner, so one user
// can never pay through another user's contact list.
func (r *PostgresRepository) FindBeneficiaryByID(ctx context.Context, beneficiaryID uuid.UUID, ownerID uuid.UUID) (*domain.Beneficiary, error) {
	var b domain.Beneficiary
	query := `
		SELECT id, user_id, name, account_number, linked_user_id, type, created_at
		FROM beneficiaries
		WHERE id = $1 AND user_id = $2
	`
	err := r.db.QueryRow(ctx, query, beneficiaryID, ownerID).Scan(
		&b.ID, &b.UserID, &b.Name, &b.AccountNumber, &b.LinkedUserID, &b.Type, &b.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBeneficiaryNotFound
		}
		return nil, err
	}
	return &b, nil
}

const transactionColumns = `
	t.id, t.user_id, t.type, t.amount, t.currency,
	t.from_account_id, t.to_account_id, t.related_user_id, t.beneficiary_id,
	t.idempotency_key, t.reference, t.description,
	t.service_code, t.service_name, t.bill_number,
	t.status, t.created_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	var description, serviceCode, serviceName, billNumber *string
	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.Currency,
		&tx.FromAccountID, &tx.ToAccountID, &tx.RelatedUserID, &tx.BeneficiaryID,
		&tx.IdempotencyKey, &tx.Reference, &description,
		&serviceCode, &serviceName, &billNumber,
		&tx.Status, &tx.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if description != nil {
		tx.Description = *description
	}
	if serviceCode != nil {
		tx.ServiceCode = *serviceCode
	}
	if serviceName != nil {
		tx.ServiceName = *serviceName
	}
	if billNumber != nil {
		tx.BillNumber = *billNumber
	}
	return &tx, nil
}

// FindTransactionsByUserID returns the caller's ledger history, newest first,
// with account numbers and counterpart names resolved for display.
func (r *PostgresRepository) FindTransactionsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `,
			COALESCE(fa.number, ''), COALESCE(ta.number, ''),
			COALESCE(ru.firstname || ' ' || ru.lastname, '')
		FROM transactions t
		LEFT JOIN accounts fa ON fa.id = t.from_account_id
		LEFT JOIN accounts ta ON ta.id = t.to_account_id
		LEFT JOIN users ru ON ru.id = t.related_user_id
		WHERE t.user_id = $1
		ORDER BY t.created_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var description, serviceCode, serviceName, billNumber *string
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.Currency,
			&tx.FromAccountID, &tx.ToAccountID, &tx.RelatedUserID, &tx.BeneficiaryID,
			&tx.IdempotencyKey, &tx.Reference, &description,
			&serviceCode, &serviceName, &billNumber,
			&tx.Status, &tx.CreatedAt,
			&tx.FromAccountNumber, &tx.ToAccountNumber, &tx.RelatedUserName,
		); err != nil {
			return nil, err
		}
		if description != nil {
			tx.Description = *description
		}
		if serviceCode != nil {
			tx.ServiceCode = *serviceCode
		}
		if serviceName != nil {
			tx.ServiceName = *serviceName
		}
		if billNumber != nil {
			tx.BillNumber = *billNumber
		}
		history = append(history, tx)
	}
	return history, rows.Err()
}

// ExecuteLedgerUnit runs fn inside one database transaction. The rollback in the
// deferred call is a no-op once Commit has succeeded.
func (r *PostgresRepository) ExecuteLedgerUnit(ctx context.Context, fn func(LedgerUnit) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&ledgerUnit{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ledgerUnit implements LedgerUnit over one open pgx transaction.
type ledgerUnit struct {
	tx pgx.Tx
}

func (u *ledgerUnit) AccountForUpdate(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	return scanAccount(u.tx.QueryRow(ctx, query, accountID))
}

func (u *ledgerUnit) AccountByUserAndTypeForUpdate(ctx context.Context, userID uuid.UUID, accountType domain.AccountType) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 AND type = $2 FOR UPDATE`
	return scanAccount(u.tx.QueryRow(ctx, query, userID, accountType))
}

func (u *ledgerUnit) TransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions t WHERE t.idempotency_key = $1`
	return scanTransaction(u.tx.QueryRow(ctx, query, key))
}

func (u *ledgerUnit) TransactionsByReferencePrefix(ctx context.Context, prefix string) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions t
		WHERE t.reference = $1 OR t.reference LIKE $1 || '-%'
		ORDER BY t.created_at, t.reference
	`
	rows, err := u.tx.Query(ctx, query, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, *tx)
	}
	return matches, rows.Err()
}

func (u *ledgerUnit) DailyDebitTotal(ctx context.Context, accountID uuid.UUID, at time.Time) (int64, error) {
	day := at.UTC().Truncate(24 * time.Hour)
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE from_account_id = $1
		  AND status = 'SUCCESS'
		  AND type IN ('WITHDRAWAL', 'TRANSFER_INTERNAL_DEBIT', 'TRANSFER_USER_DEBIT', 'TRANSFER_EXTERNAL', 'BILL_PAYMENT')
		  AND created_at >= $2 AND created_at < $3
	`
	var total int64
	err := u.tx.QueryRow(ctx, query, accountID, day, day.Add(24*time.Hour)).Scan(&total)
	return total, err
}

func (u *ledgerUnit) SetAccountBalance(ctx context.Context, accountID uuid.UUID, balance int64) error {
	tag, err := u.tx.Exec(ctx, `UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2`, balance, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (u *ledgerUnit) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, user_id, type, amount, currency,
			from_account_id, to_account_id, related_user_id, beneficiary_id,
			idempotency_key, reference, description,
			service_code, service_name, bill_number, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := u.tx.Exec(ctx, query,
		tx.ID, tx.UserID, tx.Type, tx.Amount, tx.Currency,
		tx.FromAccountID, tx.ToAccountID, tx.RelatedUserID, tx.BeneficiaryID,
		tx.IdempotencyKey, tx.Reference, nullIfEmpty(tx.Description),
		nullIfEmpty(tx.ServiceCode), nullIfEmpty(tx.ServiceName), nullIfEmpty(tx.BillNumber),
		tx.Status, tx.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode && pgErr.ConstraintName == "transactions_idempotency_key_key" {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
