/**
 * @description
 * This file contains the core business logic of the ledger service. The `Service`
 * struct is the only writer of account balances and the only creator of ledger
 * entries; every money-movement operation (deposit, withdrawal, the three transfer
 * variants, bill payment) runs through the same protocol:
 *
 *   validate input -> idempotency check -> load and lock accounts -> rule set ->
 *   apply deltas -> append entries -> commit as one unit -> publish event.
 *
 * The idempotency check, account locks, daily-cap aggregation, balance writes and
 * entry inserts all happen inside one `store.LedgerUnit`, so a failure at any point
 * after locking rolls the whole operation back. Event publishing happens after the
 * commit and is best-effort: a failed publish never changes the operation outcome.
 *
 * @dependencies
 * - github.com/google/uuid: For entry and account identifiers.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For the notification event producer.
 */

package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sunubank/ledger-service/internal/domain"
	"github.com/sunubank/ledger-service/internal/store"
	"github.com/sunubank/ledger-service/pkg/rabbitmq"
)

const accountNumberAttempts = 5

// Service provides the core business logic for ledger operations.
type Service struct {
	repo     store.Repository
	events   rabbitmq.Publisher
	exchange string
	limits   Limits
	currency string
}

// NewService creates a new ledger service instance. events may be nil when no
// broker is configured; the service then skips publishing entirely.
func NewService(repo store.Repository, events rabbitmq.Publisher, exchange string, limits Limits, currency string) *Service {
	return &Service{
		repo:     repo,
		events:   events,
		exchange: exchange,
		limits:   limits,
		currency: currency,
	}
}

// operationEvent is the payload published to the notification exchange after a
// successful commit.
type operationEvent struct {
	UserID     uuid.UUID `json:"user_id"`
	Operation  string    `json:"operation"`
	Reference  string    `json:"reference"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	OccurredAt time.Time `json:"occurred_at"`
}

// participant couples a locked account with the balance delta the operation
// applies to it.
type participant struct {
	account *domain.Account
	delta   int64
}

// CreateAccount opens a new account for the user: a CURRENT account at
// onboarding, SAVINGS or BUSINESS on demand. One account per type per user.
func (s *Service) CreateAccount(ctx context.Context, userID uuid.UUID, req domain.CreateAccountRequest) (*domain.Account, error) {
	accountType := req.Type
	if accountType == "" {
		accountType = domain.AccountTypeCurrent
	}
	if !accountType.Valid() {
		return nil, ErrInvalidAccountType
	}

	if _, err := s.repo.FindAccountByUserAndType(ctx, userID, accountType); err == nil {
		return nil, ErrAccountAlreadyExists
	} else if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = s.currency
	}

	var account *domain.Account
	for i := 0; i < accountNumberAttempts; i++ {
		candidate := newAccountNumber()
		exists, err := s.repo.AccountNumberExists(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		attempt := &domain.Account{
			ID:       uuid.New(),
			UserID:   userID,
			Number:   candidate,
			Type:     accountType,
			Balance:  0,
			Currency: currency,
			Status:   domain.AccountStatusActive,
		}
		err = s.repo.CreateAccount(ctx, attempt)
		if err == nil {
			account = attempt
			break
		}
		if errors.Is(err, store.ErrDuplicateAccountNumber) {
			// Lost the race on the number itself; draw a new one.
			continue
		}
		if errors.Is(err, store.ErrDuplicateAccount) {
			return nil, ErrAccountAlreadyExists
		}
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("could not allocate a unique account number after %d attempts", accountNumberAttempts)
	}

	log.Printf("level=info component=ledger msg=\"account created\" user_id=%s account_id=%s type=%s", userID, account.ID, account.Type)
	return s.repo.FindAccountByID(ctx, account.ID)
}

// ListAccounts returns all accounts owned by the user.
func (s *Service) ListAccounts(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	return s.repo.FindAccountsByUserID(ctx, userID)
}

// GetAccount returns one account, scoped to its owner.
func (s *Service) GetAccount(ctx context.Context, accountID, userID uuid.UUID) (*domain.Account, error) {
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.UserID != userID {
		// Another user's account is indistinguishable from a missing one.
		return nil, store.ErrAccountNotFound
	}
	return account, nil
}

// GetHistory returns the caller's ledger entries, newest first.
func (s *Service) GetHistory(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	return s.repo.FindTransactionsByUserID(ctx, userID)
}

// Deposit credits one of the caller's accounts and records a DEPOSIT entry.
func (s *Service) Deposit(ctx context.Context, userID uuid.UUID, req domain.DepositRequest) (*domain.OperationResult, error) {
	if err := validateAmount(req.Amount, s.limits); err != nil {
		return nil, err
	}

	result, err := s.runOperation(ctx, req.IdempotencyKey, func(u store.LedgerUnit) (*domain.OperationResult, error) {
		account, err := s.ownAccountForUpdate(ctx, u, req.AccountID, userID)
		if err != nil {
			return nil, err
		}
		entry := &domain.Transaction{
			UserID:         userID,
			Type:           domain.TransactionTypeDeposit,
			Amount:         req.Amount,
			Currency:       account.Currency,
			ToAccountID:    &account.ID,
			IdempotencyKey: keyPtr(req.IdempotencyKey),
			Reference:      orReference(req.Reference),
			Description:    req.Description,
		}
		return s.settle(ctx, u, []participant{{account, req.Amount}}, entry)
	})
	if err != nil {
		return nil, err
	}
	s.publishCompleted(ctx, "deposit", userID, result)
	return result, nil
}

// Withdraw debits one of the caller's accounts and records a WITHDRAWAL entry.
func (s *Service) Withdraw(ctx context.Context, userID uuid.UUID, req domain.WithdrawRequest) (*domain.OperationResult, error) {
	if err := validateAmount(req.Amount, s.limits); err != nil {
		return nil, err
	}

	result, err := s.runOperation(ctx, req.IdempotencyKey, func(u store.LedgerUnit) (*domain.OperationResult, error) {
		account, err := s.ownAccountForUpdate(ctx, u, req.AccountID, userID)
		if err != nil {
			return nil, err
		}
		if err := s.checkDailyCap(ctx, u, account.ID, req.Amount); err != nil {
			return nil, err
		}
		entry := &domain.Transaction{
			UserID:         userID,
			Type:           domain.TransactionTypeWithdrawal,
			Amount:         req.Amount,
			Currency:       account.Currency,
			FromAccountID:  &account.ID,
			IdempotencyKey: keyPtr(req.IdempotencyKey),
			Reference:      orReference(req.Reference),
			Description:    req.Description,
		}
		return s.settle(ctx, u, []participant{{account, -req.Amount}}, entry)
	})
	if err != nil {
		return nil, err
	}
	s.publishCompleted(ctx, "withdrawal", userID, result)
	return result, nil
}

// TransferInternal moves funds between two of the caller's own accounts. The
// account-type pair must include exactly one CURRENT side.
func (s *Service) TransferInternal(ctx context.Context, userID uuid.UUID, req domain.InternalTransferRequest) (*domain.OperationResult, error) {
	if err := validateAmount(req.Amount, s.limits); err != nil {
		return nil, err
	}
	if req.FromAccountID == req.ToAccountID {
		return nil, ErrSameAccount
	}

	result, err := s.runOperation(ctx, req.IdempotencyKey, func(u store.LedgerUnit) (*domain.OperationResult, error) {
		from, to, err := s.lockPair(ctx, u, req.FromAccountID, req.ToAccountID)
		if err != nil {
			return nil, err
		}
		if from.UserID != userID || to.UserID != userID {
			return nil, store.ErrAccountNotFound
		}
		if !from.Usable() || !to.Usable() {
			return nil, ErrAccountNotUsable
		}
		if !internalPairAllowed(from.Type, to.Type) {
			return nil, ErrTransferNotAllowed
		}
		if err := s.checkDailyCap(ctx, u, from.ID, req.Amount); err != nil {
			return nil, err
		}

		base := orReference(req.Reference)
		debitRef, creditRef := pairReferences(base)
		debit := &domain.Transaction{
			UserID:         userID,
			Type:           domain.TransactionTypeInternalDebit,
			Amount:         req.Amount,
			Currency:       from.Currency,
			FromAccountID:  &from.ID,
			ToAccountID:    &to.ID,
			IdempotencyKey: keyPtr(req.IdempotencyKey),
			Reference:      debitRef,
			Description:    req.Description,
		}
		credit := &domain.Transaction{
			UserID:        userID,
			Type:          domain.TransactionTypeInternalCredit,
			Amount:        req.Amount,
			Currency:      to.Currency,
			FromAccountID: &from.ID,
			ToAccountID:   &to.ID,
			Reference:     creditRef,
			Description:   req.Description,
		}
		return s.settle(ctx, u, []participant{{from, -req.Amount}, {to, req.Amount}}, debit, credit)
	})
	if err != nil {
		return nil, err
	}
	s.publishCompleted(ctx, "transfer.internal", userID, result)
	return result, nil
}

// TransferToUser moves funds from the caller's CURRENT account to another
// user's CURRENT account.
func (s *Service) TransferToUser(ctx context.Context, userID uuid.UUID, req domain.UserTransferRequest) (*domain.OperationResult, error) {
	if err := validateAmount(req.Amount, s.limits); err != nil {
		return nil, err
	}
	if req.ToUserID == userID {
		return nil, ErrSelfTransferNotAllowed
	}

	// Resolve both CURRENT account ids with plain reads first, so the locks
	// below can be taken in the global account-id order.
	fromRef, err := s.repo.FindAccountByUserAndType(ctx, userID, domain.AccountTypeCurrent)
	if err != nil {
		return nil, err
	}
	toRef, err := s.repo.FindAccountByUserAndType(ctx, req.ToUserID, domain.AccountTypeCurrent)
	if err != nil {
		return nil, err
	}

	result, err := s.runOperation(ctx, req.IdempotencyKey, func(u store.LedgerUnit) (*domain.OperationResult, error) {
		from, to, err := s.lockPair(ctx, u, fromRef.ID, toRef.ID)
		if err != nil {
			return nil, err
		}
		if from.UserID != userID || to.UserID != req.ToUserID {
			return nil, store.ErrAccountNotFound
		}
		if !from.Usable() || !to.Usable() {
			return nil, ErrAccountNotUsable
		}
		if err := s.checkDailyCap(ctx, u, from.ID, req.Amount); err != nil {
			return nil, err
		}

		base := orReference(req.Reference)
		debitRef, creditRef := pairReferences(base)
		toUserID := req.ToUserID
		debit := &domain.Transaction{
			UserID:         userID,
			Type:           domain.TransactionTypeUserDebit,
			Amount:         req.Amount,
			Currency:       from.Currency,
			FromAccountID:  &from.ID,
			ToAccountID:    &to.ID,
			RelatedUserID:  &toUserID,
			IdempotencyKey: keyPtr(req.IdempotencyKey),
			Reference:      debitRef,
			Description:    req.Description,
		}
		callerID := userID
		credit := &domain.Transaction{
			UserID:        req.ToUserID,
			Type:          domain.TransactionTypeUserCredit,
			Amount:        req.Amount,
			Currency:      to.Currency,
			FromAccountID: &from.ID,
			ToAccountID:   &to.ID,
			RelatedUserID: &callerID,
			Reference:     creditRef,
			Description:   req.Description,
		}
		return s.settle(ctx, u, []participant{{from, -req.Amount}, {to, req.Amount}}, debit, credit)
	})
	if err != nil {
		return nil, err
	}
	s.publishCompleted(ctx, "transfer.user", userID, result)
	return result, nil
}

// TransferToBeneficiary moves funds from one of the caller's accounts to a saved
// beneficiary. Only INTERNAL beneficiaries linked to a platform user with an
// active CURRENT account are payable; the debit side is recorded as
// TRANSFER_EXTERNAL to mark the operation as beneficiary-directed, the credit
// side as TRANSFER_USER_CREDIT like any other credit landing in a user's
// CURRENT account.
func (s *Service) TransferToBeneficiary(ctx context.Context, userID uuid.UUID, req domain.BeneficiaryTransferRequest) (*domain.OperationResult, error) {
	if err := validateAmount(req.Amount, s.limits); err != nil {
		return nil, err
	}

	beneficiary, err := s.repo.FindBeneficiaryByID(ctx, req.BeneficiaryID, userID)
	if err != nil {
		return nil, err
	}
	if beneficiary.Type != domain.BeneficiaryTypeInternal || beneficiary.LinkedUserID == nil {
		return nil, ErrTransferNotAllowed
	}
	linkedUserID := *beneficiary.LinkedUserID
	if linkedUserID == userID {
		return nil, ErrSelfTransferNotAllowed
	}

	// Resolve the recipient's CURRENT account id with a plain read first, so
	// both rows can be locked in the global account-id order.
	recipientRef, err := s.repo.FindAccountByUserAndType(ctx, linkedUserID, domain.AccountTypeCurrent)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrTransferNotAllowed
		}
		return nil, err
	}

	result, err := s.runOperation(ctx, req.IdempotencyKey, func(u store.LedgerUnit) (*domain.OperationResult, error) {
		from, to, err := s.lockPair(ctx, u, req.FromAccountID, recipientRef.ID)
		if err != nil {
			return nil, err
		}
		if from.UserID != userID {
			return nil, store.ErrAccountNotFound
		}
		if !from.Usable() {
			return nil, ErrAccountNotUsable
		}
		if to.UserID != linkedUserID || to.Type != domain.AccountTypeCurrent || !to.Usable() {
			return nil, ErrTransferNotAllowed
		}
		if err := s.checkDailyCap(ctx, u, from.ID, req.Amount); err != nil {
			return nil, err
		}

		base := orReference(req.Reference)
		debitRef, creditRef := pairReferences(base)
		beneficiaryID := beneficiary.ID
		linkedID := linkedUserID
		callerID := userID
		debit := &domain.Transaction{
			UserID:         userID,
			Type:           domain.TransactionTypeExternal,
			Amount:         req.Amount,
			Currency:       from.Currency,
			FromAccountID:  &from.ID,
			ToAccountID:    &to.ID,
			RelatedUserID:  &linkedID,
			BeneficiaryID:  &beneficiaryID,
			IdempotencyKey: keyPtr(req.IdempotencyKey),
			Reference:      debitRef,
			Description:    req.Description,
		}
		credit := &domain.Transaction{
			UserID:        linkedUserID,
			Type:          domain.TransactionTypeUserCredit,
			Amount:        req.Amount,
			Currency:      to.Currency,
			FromAccountID: &from.ID,
			ToAccountID:   &to.ID,
			RelatedUserID: &callerID,
			BeneficiaryID: &beneficiaryID,
			Reference:     creditRef,
			Description:   req.Description,
		}
		return s.settle(ctx, u, []participant{{from, -req.Amount}, {to, req.Amount}}, debit, credit)
	})
	if err != nil {
		return nil, err
	}
	s.publishCompleted(ctx, "transfer.beneficiary", userID, result)
	return result, nil
}

// PayBill debits the caller's CURRENT account for a utility bill. The service
// code is checked against the allow-list before any storage read.
func (s *Service) PayBill(ctx context.Context, userID uuid.UUID, req domain.BillPaymentRequest) (*domain.OperationResult, error) {
	serviceName, ok := billServiceName(req.ServiceCode)
	if !ok {
		return nil, ErrUnknownBillService
	}
	if req.BillNumber == "" {
		return nil, ErrBillNumberRequired
	}
	if err := validateAmount(req.Amount, s.limits); err != nil {
		return nil, err
	}

	result, err := s.runOperation(ctx, req.IdempotencyKey, func(u store.LedgerUnit) (*domain.OperationResult, error) {
		account, err := u.AccountByUserAndTypeForUpdate(ctx, userID, domain.AccountTypeCurrent)
		if err != nil {
			return nil, err
		}
		if !account.Usable() {
			return nil, ErrAccountNotUsable
		}
		if err := s.checkDailyCap(ctx, u, account.ID, req.Amount); err != nil {
			return nil, err
		}
		entry := &domain.Transaction{
			UserID:         userID,
			Type:           domain.TransactionTypeBillPayment,
			Amount:         req.Amount,
			Currency:       account.Currency,
			FromAccountID:  &account.ID,
			IdempotencyKey: keyPtr(req.IdempotencyKey),
			Reference:      orReference(req.Reference),
			Description:    req.Description,
			ServiceCode:    req.ServiceCode,
			ServiceName:    serviceName,
			BillNumber:     req.BillNumber,
		}
		return s.settle(ctx, u, []participant{{account, -req.Amount}}, entry)
	})
	if err != nil {
		return nil, err
	}
	s.publishCompleted(ctx, "bill_payment", userID, result)
	return result, nil
}

// runOperation wraps one ledger operation in a single atomic unit and layers the
// idempotency guard around it. When a key is supplied and already recorded, the
// stored outcome is replayed instead of executing op. When two concurrent
// requests race past the lookup with the same key, the loser's insert fails on
// the unique index and its result is replayed in a fresh unit.
func (s *Service) runOperation(ctx context.Context, idempotencyKey string, op func(store.LedgerUnit) (*domain.OperationResult, error)) (*domain.OperationResult, error) {
	var result *domain.OperationResult
	err := s.repo.ExecuteLedgerUnit(ctx, func(u store.LedgerUnit) error {
		if idempotencyKey != "" {
			replay, rerr := s.replay(ctx, u, idempotencyKey)
			if rerr == nil {
				result = replay
				return nil
			}
			if !errors.Is(rerr, store.ErrTransactionNotFound) {
				return rerr
			}
		}
		r, oerr := op(u)
		if oerr != nil {
			return oerr
		}
		result = r
		return nil
	})
	if err != nil && idempotencyKey != "" && store.IsIdempotencyConflict(err) {
		err = s.repo.ExecuteLedgerUnit(ctx, func(u store.LedgerUnit) error {
			replay, rerr := s.replay(ctx, u, idempotencyKey)
			if rerr != nil {
				return rerr
			}
			result = replay
			return nil
		})
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// replay reassembles the stored outcome of a previously executed operation:
// the entry (or pair) recorded under the key plus the participants' balances.
func (s *Service) replay(ctx context.Context, u store.LedgerUnit, key string) (*domain.OperationResult, error) {
	recorded, err := u.TransactionByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	entries, err := u.TransactionsByReferencePrefix(ctx, referenceBase(recorded.Reference))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		entries = []domain.Transaction{*recorded}
	}

	balances := make(map[uuid.UUID]int64)
	for _, e := range entries {
		for _, id := range []*uuid.UUID{e.FromAccountID, e.ToAccountID} {
			if id == nil {
				continue
			}
			if _, seen := balances[*id]; seen {
				continue
			}
			account, err := u.AccountForUpdate(ctx, *id)
			if err != nil {
				return nil, err
			}
			balances[account.ID] = account.Balance
		}
	}
	return &domain.OperationResult{Transactions: entries, Balances: balances, Replayed: true}, nil
}

// settle applies all deltas and appends all entries as one unit. Any delta that
// would drive a balance negative aborts the operation before anything is
// written; a failed write aborts it with the surrounding unit rolled back.
func (s *Service) settle(ctx context.Context, u store.LedgerUnit, participants []participant, entries ...*domain.Transaction) (*domain.OperationResult, error) {
	for _, p := range participants {
		if p.account.Balance+p.delta < 0 {
			return nil, store.ErrInsufficientFunds
		}
	}

	balances := make(map[uuid.UUID]int64, len(participants))
	for _, p := range participants {
		next := p.account.Balance + p.delta
		if err := u.SetAccountBalance(ctx, p.account.ID, next); err != nil {
			return nil, err
		}
		p.account.Balance = next
		balances[p.account.ID] = next
	}

	result := &domain.OperationResult{Balances: balances}
	now := time.Now().UTC()
	for _, e := range entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.Currency == "" {
			e.Currency = s.currency
		}
		e.Status = domain.TransactionStatusSuccess
		e.CreatedAt = now
		if err := u.InsertTransaction(ctx, e); err != nil {
			return nil, err
		}
		result.Transactions = append(result.Transactions, *e)
	}
	return result, nil
}

// ownAccountForUpdate loads and locks an account addressed by id, verifying the
// caller owns it and that it is usable. Another user's account is reported as
// missing rather than forbidden.
func (s *Service) ownAccountForUpdate(ctx context.Context, u store.LedgerUnit, accountID, userID uuid.UUID) (*domain.Account, error) {
	account, err := u.AccountForUpdate(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.UserID != userID {
		return nil, store.ErrAccountNotFound
	}
	if !account.Usable() {
		return nil, ErrAccountNotUsable
	}
	return account, nil
}

// lockPair locks two accounts addressed by id in the global lock order (account
// id bytes). Every transfer variant resolves its participants to account ids
// before locking, so any two operations touching the same rows acquire the
// locks in the same sequence and cannot deadlock, whichever direction the money
// moves. Returns them in the caller's (first, second) order.
func (s *Service) lockPair(ctx context.Context, u store.LedgerUnit, firstID, secondID uuid.UUID) (*domain.Account, *domain.Account, error) {
	aID, bID := firstID, secondID
	swapped := false
	if bytes.Compare(aID[:], bID[:]) > 0 {
		aID, bID = bID, aID
		swapped = true
	}
	a, err := u.AccountForUpdate(ctx, aID)
	if err != nil {
		return nil, nil, err
	}
	b, err := u.AccountForUpdate(ctx, bID)
	if err != nil {
		return nil, nil, err
	}
	if swapped {
		return b, a, nil
	}
	return a, b, nil
}

// checkDailyCap aggregates today's successful debits against the account and
// enforces the daily ceiling. The aggregation runs inside the surrounding unit
// so concurrent operations cannot both read the pre-operation total.
func (s *Service) checkDailyCap(ctx context.Context, u store.LedgerUnit, accountID uuid.UUID, amount int64) error {
	if s.limits.DailyDebitLimit <= 0 {
		return nil
	}
	total, err := u.DailyDebitTotal(ctx, accountID, time.Now().UTC())
	if err != nil {
		return err
	}
	return checkDailyDebit(total, amount, s.limits)
}

// publishCompleted emits a ledger event after a committed operation. Replayed
// results were already announced by the original execution.
func (s *Service) publishCompleted(ctx context.Context, operation string, userID uuid.UUID, result *domain.OperationResult) {
	if s.events == nil || result.Replayed || len(result.Transactions) == 0 {
		return
	}
	first := result.Transactions[0]
	event := operationEvent{
		UserID:     userID,
		Operation:  operation,
		Reference:  referenceBase(first.Reference),
		Amount:     first.Amount,
		Currency:   first.Currency,
		OccurredAt: first.CreatedAt,
	}
	if err := s.events.Publish(ctx, s.exchange, "ledger."+operation+".completed", event); err != nil {
		log.Printf("level=warn component=ledger msg=\"event publish failed\" operation=%s reference=%s err=%v", operation, event.Reference, err)
	}
}

func keyPtr(key string) *string {
	if key == "" {
		return nil
	}
	return &key
}

func orReference(reference string) string {
	if reference != "" {
		return reference
	}
	return newReference()
}
