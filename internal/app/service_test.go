package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sunubank/ledger-service/internal/domain"
	"github.com/sunubank/ledger-service/internal/store"
)

// fakeLedgerStore is an in-memory store.Repository with real unit semantics:
// everything done inside ExecuteLedgerUnit is rolled back when the callback
// returns an error, so the atomicity of operations can be observed from tests.
type fakeLedgerStore struct {
	accounts      map[uuid.UUID]*domain.Account
	beneficiaries map[uuid.UUID]*domain.Beneficiary
	entries       []domain.Transaction

	insertErrOn int // 1-based insert ordinal that fails; 0 disables
	insertCount int

	missKeyLookups    int // idempotency-key lookups that miss before behaving normally
	createNumberRaces int // CreateAccount calls that lose the number race first

	lockOrder []uuid.UUID // account ids in the order AccountForUpdate locked them
}

func newFakeLedgerStore() *fakeLedgerStore {
	return &fakeLedgerStore{
		accounts:      make(map[uuid.UUID]*domain.Account),
		beneficiaries: make(map[uuid.UUID]*domain.Beneficiary),
	}
}

func (f *fakeLedgerStore) addAccount(userID uuid.UUID, accountType domain.AccountType, balance int64, status domain.AccountStatus) *domain.Account {
	account := &domain.Account{
		ID:       uuid.New(),
		UserID:   userID,
		Number:   newAccountNumber(),
		Type:     accountType,
		Balance:  balance,
		Currency: "XOF",
		Status:   status,
	}
	f.accounts[account.ID] = account
	return account
}

func (f *fakeLedgerStore) CreateAccount(ctx context.Context, account *domain.Account) error {
	if f.createNumberRaces > 0 {
		f.createNumberRaces--
		return store.ErrDuplicateAccountNumber
	}
	for _, existing := range f.accounts {
		if existing.UserID == account.UserID && existing.Type == account.Type {
			return store.ErrDuplicateAccount
		}
	}
	copied := *account
	f.accounts[account.ID] = &copied
	return nil
}

func (f *fakeLedgerStore) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	account, ok := f.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (f *fakeLedgerStore) FindAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	var accounts []domain.Account
	for _, account := range f.accounts {
		if account.UserID == userID {
			accounts = append(accounts, *account)
		}
	}
	return accounts, nil
}

func (f *fakeLedgerStore) FindAccountByUserAndType(ctx context.Context, userID uuid.UUID, accountType domain.AccountType) (*domain.Account, error) {
	for _, account := range f.accounts {
		if account.UserID == userID && account.Type == accountType {
			copied := *account
			return &copied, nil
		}
	}
	return nil, store.ErrAccountNotFound
}

func (f *fakeLedgerStore) AccountNumberExists(ctx context.Context, number string) (bool, error) {
	for _, account := range f.accounts {
		if account.Number == number {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLedgerStore) FindBeneficiaryByID(ctx context.Context, beneficiaryID uuid.UUID, ownerID uuid.UUID) (*domain.Beneficiary, error) {
	beneficiary, ok := f.beneficiaries[beneficiaryID]
	if !ok || beneficiary.UserID != ownerID {
		return nil, store.ErrBeneficiaryNotFound
	}
	copied := *beneficiary
	return &copied, nil
}

func (f *fakeLedgerStore) FindTransactionsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	var entries []domain.Transaction
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].UserID == userID {
			entries = append(entries, f.entries[i])
		}
	}
	return entries, nil
}

func (f *fakeLedgerStore) ExecuteLedgerUnit(ctx context.Context, fn func(store.LedgerUnit) error) error {
	snapshotAccounts := make(map[uuid.UUID]*domain.Account, len(f.accounts))
	for id, account := range f.accounts {
		copied := *account
		snapshotAccounts[id] = &copied
	}
	snapshotEntries := make([]domain.Transaction, len(f.entries))
	copy(snapshotEntries, f.entries)

	if err := fn(&fakeLedgerUnit{store: f}); err != nil {
		f.accounts = snapshotAccounts
		f.entries = snapshotEntries
		return err
	}
	return nil
}

type fakeLedgerUnit struct {
	store *fakeLedgerStore
}

func (u *fakeLedgerUnit) AccountForUpdate(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	u.store.lockOrder = append(u.store.lockOrder, accountID)
	return u.store.FindAccountByID(ctx, accountID)
}

func (u *fakeLedgerUnit) AccountByUserAndTypeForUpdate(ctx context.Context, userID uuid.UUID, accountType domain.AccountType) (*domain.Account, error) {
	return u.store.FindAccountByUserAndType(ctx, userID, accountType)
}

func (u *fakeLedgerUnit) TransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	if u.store.missKeyLookups > 0 {
		u.store.missKeyLookups--
		return nil, store.ErrTransactionNotFound
	}
	for i := range u.store.entries {
		if u.store.entries[i].IdempotencyKey != nil && *u.store.entries[i].IdempotencyKey == key {
			copied := u.store.entries[i]
			return &copied, nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (u *fakeLedgerUnit) TransactionsByReferencePrefix(ctx context.Context, prefix string) ([]domain.Transaction, error) {
	var entries []domain.Transaction
	for _, entry := range u.store.entries {
		if strings.HasPrefix(entry.Reference, prefix) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (u *fakeLedgerUnit) DailyDebitTotal(ctx context.Context, accountID uuid.UUID, at time.Time) (int64, error) {
	day := at.UTC().Format("20060102")
	var total int64
	for _, entry := range u.store.entries {
		if entry.FromAccountID == nil || *entry.FromAccountID != accountID {
			continue
		}
		if !entry.Type.Debit() || entry.Status != domain.TransactionStatusSuccess {
			continue
		}
		if entry.CreatedAt.UTC().Format("20060102") == day {
			total += entry.Amount
		}
	}
	return total, nil
}

func (u *fakeLedgerUnit) SetAccountBalance(ctx context.Context, accountID uuid.UUID, balance int64) error {
	account, ok := u.store.accounts[accountID]
	if !ok {
		return store.ErrAccountNotFound
	}
	account.Balance = balance
	return nil
}

func (u *fakeLedgerUnit) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	u.store.insertCount++
	if u.store.insertErrOn > 0 && u.store.insertCount == u.store.insertErrOn {
		return errors.New("insert failed")
	}
	if tx.IdempotencyKey != nil {
		for i := range u.store.entries {
			if u.store.entries[i].IdempotencyKey != nil && *u.store.entries[i].IdempotencyKey == *tx.IdempotencyKey {
				return store.ErrIdempotencyConflict
			}
		}
	}
	u.store.entries = append(u.store.entries, *tx)
	return nil
}

func newTestService(repo *fakeLedgerStore) *Service {
	return NewService(repo, nil, "bank.events", Limits{
		MinAmount:       100,
		MaxAmount:       1000000,
		DailyDebitLimit: 2000000,
	}, "XOF")
}

func TestTransferInternal_MovesFundsBetweenOwnAccounts(t *testing.T) {
	repo := newFakeLedgerStore()
	userID := uuid.New()
	current := repo.addAccount(userID, domain.AccountTypeCurrent, 10000, domain.AccountStatusActive)
	savings := repo.addAccount(userID, domain.AccountTypeSavings, 0, domain.AccountStatusActive)
	svc := newTestService(repo)

	result, err := svc.TransferInternal(context.Background(), userID, domain.InternalTransferRequest{
		FromAccountID: current.ID,
		ToAccountID:   savings.ID,
		Amount:        3000,
	})
	if err != nil {
		t.Fatalf("TransferInternal returned error: %v", err)
	}

	if got := result.Balances[current.ID]; got != 7000 {
		t.Fatalf("expected source balance 7000, got %d", got)
	}
	if got := result.Balances[savings.ID]; got != 3000 {
		t.Fatalf("expected destination balance 3000, got %d", got)
	}
	if len(result.Transactions) != 2 {
		t.Fatalf("expected a debit/credit pair, got %d entries", len(result.Transactions))
	}

	debit, credit := result.Transactions[0], result.Transactions[1]
	if debit.Type != domain.TransactionTypeInternalDebit || credit.Type != domain.TransactionTypeInternalCredit {
		t.Fatalf("unexpected entry types %s/%s", debit.Type, credit.Type)
	}
	if debit.Amount != credit.Amount {
		t.Fatalf("pair amounts diverge: %d vs %d", debit.Amount, credit.Amount)
	}
	if !strings.HasSuffix(debit.Reference, "-D") || !strings.HasSuffix(credit.Reference, "-C") {
		t.Fatalf("unexpected pair references %q/%q", debit.Reference, credit.Reference)
	}
	if referenceBase(debit.Reference) != referenceBase(credit.Reference) {
		t.Fatalf("pair references do not share a base: %q vs %q", debit.Reference, credit.Reference)
	}

	// The pair must net to zero: total funds are conserved.
	if total := repo.accounts[current.ID].Balance + repo.accounts[savings.ID].Balance; total != 10000 {
		t.Fatalf("expected total funds 10000 after transfer, got %d", total)
	}
}

func TestTransferInternal_RejectsPairWithoutCurrentSide(t *testing.T) {
	repo := newFakeLedgerStore()
	userID := uuid.New()
	savings := repo.addAccount(userID, domain.AccountTypeSavings, 5000, domain.AccountStatusActive)
	business := repo.addAccount(userID, domain.AccountTypeBusiness, 0, domain.AccountStatusActive)
	svc := newTestService(repo)

	_, err := svc.TransferInternal(context.Background(), userID, domain.InternalTransferRequest{
		FromAccountID: savings.ID,
		ToAccountID:   business.ID,
		Amount:        1000,
	})
	if !errors.Is(err, ErrTransferNotAllowed) {
		t.Fatalf("expected ErrTransferNotAllowed, got %v", err)
	}
	if repo.accounts[savings.ID].Balance != 5000 || repo.accounts[business.ID].Balance != 0 {
		t.Fatalf("balances changed after rejected transfer")
	}
	if len(repo.entries) != 0 {
		t.Fatalf("expected no entries after rejected transfer, got %d", len(repo.entries))
	}
}

func TestTransferInternal_InsufficientFundsLeavesStateUntouched(t *testing.T) {
	repo := newFakeLedgerStore()
	userID := uuid.New()
	current := repo.addAccount(userID, domain.AccountTypeCurrent, 200, domain.AccountStatusActive)
	savings := repo.addAccount(userID, domain.AccountTypeSavings, 0, domain.AccountStatusActive)
	svc := newTestService(repo)

	_, err := svc.TransferInternal(context.Background(), userID, domain.InternalTransferRequest{
		FromAccountID: current.ID,
		ToAccountID:   savings.ID,
		Amount:        5000,
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if repo.accounts[current.ID].Balance != 200 {
		t.Fatalf("expected source balance 200 after failed transfer, got %d", repo.accounts[current.ID].Balance)
	}
	if len(repo.entries) != 0 {
		t.Fatalf("expected no entries after failed transfer, got %d", len(repo.entries))
	}
}

func TestTransferInternal_AbortsWholeUnitWhenInsertFails(t *testing.T) {
	repo := newFakeLedgerStore()
	userID := uuid.New()
	current := repo.addAccount(userID, domain.AccountTypeCurrent, 10000, domain.AccountStatusActive)
	savings := repo.addAccount(userID, domain.AccountTypeSavings, 0, domain.AccountStatusActive)
	repo.insertErrOn = 2 // debit row lands, credit row fails
	svc := newTestService(repo)

	_, err := svc.TransferInternal(context.Background(), userID, domain.InternalTransferRequest{
		FromAccountID: current.ID,
		ToAccountID:   savings.ID,
		Amount:        3000,
	})
	if err == nil {
		t.Fatal("expected an error when the credit insert fails")
	}
	if repo.accounts[current.ID].Balance != 10000 || repo.accounts[savings.ID].Balance != 0 {
		t.Fatalf("expected balances rolled back, got %d/%d",
			repo.accounts[current.ID].Balance, repo.accounts[savings.ID].Balance)
	}
	if len(repo.entries) != 0 {
		t.Fatalf("expected no entries after rollback, got %d", len(repo.entries))
	}
}

func TestOperationAmountBounds(t *testing.T) {
	repo := newFakeLedgerStore()
	userID := uuid.New()
	current := repo.addAccount(userID, domain.AccountTypeCurrent, 10000, domain.AccountStatusActive)
	svc := newTestService(repo)

	tests := []struct {
		name    string
		amount  int64
		wantErr error
	}{
		{name: "zero amount", amount: 0, wantErr: ErrInvalidAmount},
		{name: "negative amount", amount: -500, wantErr: ErrInvalidAmount},
		{name: "below minimum", amount: 50, wantErr: ErrInvalidAmount},
		{name: "above per-transaction limit", amount: 1000001, wantErr: ErrLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Deposit(context.Background(), userID, domain.DepositRequest{
				AccountID: current.ID,
				Amount:    tt.amount,
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if len(repo.entries) != 0 {
		t.Fatalf("expected no entries recorded for rejected amounts, got %d", len(repo.entries))
	}
}

func TestWithdraw_DailyDebitCapBlocksExcess(t *testing.T) {
	repo := newFakeLedgerStore()
	userID := uuid.New()
	current := repo.addAccount(userID, domain.AccountTypeCurrent, 3000000, domain.AccountStatusActive)
	svc := newTestService(repo)

	// Two withdrawals bring the day's debits to 1,900,000 out of 2,000,000.
	for _, amount := range []int64{1000000, 900000} {
		if _, err := svc.Withdraw(context.Background(), userID, domain.WithdrawRequest{
			AccountID: current.ID,
			Amount:    amount,
		}); err != nil {
			t.Fatalf("seed withdrawal of %d failed: %v", amount, err)
		}
	}

	_, err := svc.Withdraw(context.Background(), userID, domain.WithdrawRequest{
		AccountID: current.ID,
		Amount:    200000,
	})
	if !errors.Is(err, ErrDailyLimitExceeded) {
		t.Fatalf("expected ErrDailyLimitExceeded, got %v", err)
	}
	if repo.accounts[current.ID].Balance != 1100000 {
		t.Fatalf("expected balance 1100000 after rejected withdrawal, got %d", repo.accounts[current.ID].Balance)
	}

	// Exactly reaching the cap is still allowed.
	if _, err := svc.Withdraw(context.Background(), userID, domain.WithdrawRequest{
		AccountID: current.ID,
		Amount:    100000,
	}); err != nil {
		t.Fatalf("withdrawal reaching the cap exactly failed: %v", err)
	}
}

func TestDeposit_ReplaysStoredResultForSameKey(t *testing.T) {
	repo := newFakeLedgerStore()
	userID := uuid.New()
	current := repo.addAccount(userID, domain.AccountTypeCurrent, 0, domain.AccountStatusActive)
	svc := newTestService(repo)

	req := domain.DepositRequest{
		AccountID:      current.ID,
		Amount:         5000,
		IdempotencyKey: "dep-key-1",
	}

	first, err := svc.Deposit(context.Background(), userID, req)
	if err != nil {
		t.Fatalf("first deposit failed: %v", err)
	}
	second, err := svc.Deposit(context.Background(), userID, req)
	if err != nil {
		t.Fatalf("replayed deposit failed: %v", err)
	}

	if !second.Replayed {
		t.Fatal("expected second submission to be marked as replayed")
	}
	if first.Replayed {
		t.Fatal("first submission must not be marked as replayed")
	}
	if second.Transactions[0].Reference != first.Transactions[0].Reference {
		t.Fatalf("replay returned a different reference: %q vs %q",
			second.Transactions[0].Reference, first.Transactions[0].Reference)
	}
	if !second.Transactions[0].CreatedAt.Equal(first.Transactions[0].CreatedAt) {
		t.Fatalf("replay returned a different timestamp: %v vs %v",
			second.Transactions[0].CreatedAt, first.Transactions[0].CreatedAt)
	}
	if repo.accounts[current.ID].Balance != 5000 {
		t.Fatalf("expected balance credited exactly once, got %d", repo.accounts[current.ID].Balance)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("expected one recorded entry, got %d", len(repo.entries))
	}
}

func TestTransferToUser_CreditsRecipientCurrentAccount(t *testing.T) {
	repo := newFakeLedgerStore()
	senderID := uuid.New()
	recipientID := uuid.New()
	sender := repo.addAccount(senderID, domain.AccountTypeCurrent, 10000, domain.AccountStatusActive)
	recipient := repo.addAccount(recipientID, domain.AccountTypeCurrent, 500, domain.AccountStatusActive)
	svc := newTestService(repo)

	result, err := svc.TransferToUser(context.Background(), senderID, domain.UserTransferRequest{
		ToUserID: recipientID,
		Amount:   2500,
	})
	if err != nil {
		t.Fatalf("TransferToUser returned error: %v", err)
	}

	if repo.accounts[sender.ID].Balance != 7500 || repo.accounts[recipient.ID].Balance != 3000 {
		t.Fatalf("unexpected balances %d/%d", repo.accounts[sender.ID].Balance, repo.accounts[recipient.ID].Balance)
	}

	debit, credit := result.Transactions[0], result.Transactions[1]
	if debit.UserID != senderID || credit.UserID != recipientID {
		t.Fatalf("entry ownership wrong: debit=%s credit=%s", debit.UserID, credit.UserID)
	}
	if debit.RelatedUserID == nil || *debit.RelatedUserID != recipientID {
		t.Fatal("debit entry must reference the recipient")
	}
	if credit.RelatedUserID == nil || *credit.RelatedUserID != senderID {
		t.Fatal("credit entry must reference the sender")
	}
}

func TestTransferToUser_RejectsSelfTransfer(t *testing.T) {
	repo := newFakeLedgerStore()
	userID := uuid.New()
	repo.addAccount(userID, domain.AccountTypeCurrent, 10000, domain.AccountStatusActive)
	svc := newTestService(repo)

	_, err := svc.TransferToUser(context.Background(), userID, domain.UserTransferRequest{
		ToUserID: userID,
		Amount:   1000,
	})
	if !errors.Is(err, ErrSelfTransferNotAllowed) {
		t.Fatalf("expected ErrSelfTransferNotAllowed, got %v", err)
	}
}

func TestTransferToBeneficiary_Policy(t *testing.T) {
	ownerID := uuid.New()
	linkedID := uuid.New()

	tests := []struct {
		name    string
		setup   func(repo *fakeLedgerStore)
		wantErr error
	}{
		{
			name: "external beneficiary is not payable",
			setup: func(repo *fakeLedgerStore) {
				beneficiary := &domain.Beneficiary{ID: uuid.New(), UserID: ownerID, Type: domain.BeneficiaryTypeExternal}
				repo.beneficiaries[beneficiary.ID] = beneficiary
			},
			wantErr: ErrTransferNotAllowed,
		},
		{
			name: "internal beneficiary without a linked user is not payable",
			setup: func(repo *fakeLedgerStore) {
				beneficiary := &domain.Beneficiary{ID: uuid.New(), UserID: ownerID, Type: domain.BeneficiaryTypeInternal}
				repo.beneficiaries[beneficiary.ID] = beneficiary
			},
			wantErr: ErrTransferNotAllowed,
		},
		{
			name: "beneficiary linked to the caller is a self transfer",
			setup: func(repo *fakeLedgerStore) {
				self := ownerID
				beneficiary := &domain.Beneficiary{ID: uuid.New(), UserID: ownerID, Type: domain.BeneficiaryTypeInternal, LinkedUserID: &self}
				repo.beneficiaries[beneficiary.ID] = beneficiary
			},
			wantErr: ErrSelfTransferNotAllowed,
		},
		{
			name: "linked user without a current account is not payable",
			setup: func(repo *fakeLedgerStore) {
				linked := linkedID
				beneficiary := &domain.Beneficiary{ID: uuid.New(), UserID: ownerID, Type: domain.BeneficiaryTypeInternal, LinkedUserID: &linked}
				repo.beneficiaries[beneficiary.ID] = beneficiary
			},
			wantErr: ErrTransferNotAllowed,
		},
		{
			name: "linked user with a blocked current account is not payable",
			setup: func(repo *fakeLedgerStore) {
				linked := linkedID
				beneficiary := &domain.Beneficiary{ID: uuid.New(), UserID: ownerID, Type: domain.BeneficiaryTypeInternal, LinkedUserID: &linked}
				repo.beneficiaries[beneficiary.ID] = beneficiary
				repo.addAccount(linkedID, domain.AccountTypeCurrent, 0, domain.AccountStatusBlocked)
			},
			wantErr: ErrTransferNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeLedgerStore()
			source := repo.addAccount(ownerID, domain.AccountTypeCurrent, 10000, domain.AccountStatusActive)
			tt.setup(repo)

			var beneficiaryID uuid.UUID
			for id := range repo.beneficiaries {
				beneficiaryID = id
			}

			svc := newTestService(repo)
			_, err := svc.TransferToBeneficiary(context.Background(), ownerID, domain.BeneficiaryTransferRequest{
				FromAccountID: source.ID,
				BeneficiaryID: beneficiaryID,
				Amount:        1000,
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if repo.accounts[source.ID].Balance != 10000 {
				t.Fatalf("source balance changed after rejected transfer: %d", repo.accounts[source.ID].Balance)
			}
		})
	}
}

func TestTransferToBeneficiary_RecordsExternalDebitAndUserCredit(t *testing.T) {
	repo := newFakeLedgerStore()
	ownerID := uuid.New()
	linkedID := uuid.New()
	source := repo.addAccount(ownerID, domain.AccountTypeCurrent, 10000, domain.AccountStatusActive)
	target := repo.addAccount(linkedID, domain.AccountTypeCurrent, 0, domain.AccountStatusActive)

	linked := linkedID
	beneficiary := &domain.Beneficiary{
		ID:           uuid.New(),
		UserID:       ownerID,
		Type:         domain.BeneficiaryTypeInternal,
		LinkedUserID: &linked,
	}
	repo.beneficiaries[beneficiary.ID] = beneficiary
	svc := newTestService(repo)

	result, err := svc.TransferToBeneficiary(context.Background(), ownerID, domain.BeneficiaryTransferRequest{
		FromAccountID: source.ID,
		BeneficiaryID: beneficiary.ID,
		Amount:        4000,
	})
	if err != nil {
		t.Fatalf("TransferToBeneficiary returned error: %v", err)
	}

	debit, credit := result.Transactions[0], result.Transactions[1]
	if debit.Type != domain.TransactionTypeExternal {
		t.Fatalf("expected debit type TRANSFER_EXTERNAL, got %s", debit.Type)
	}
	if credit.Type != domain.TransactionTypeUserCredit {
		t.Fatalf("expected credit type TRANSFER_USER_CREDIT, got %s", credit.Type)
	}
	if debit.BeneficiaryID == nil || *debit.BeneficiaryID != beneficiary.ID {
		t.Fatal("debit entry must carry the beneficiary id")
	}
	if repo.accounts[source.ID].Balance != 6000 || repo.accounts[target.ID].Balance != 4000 {
		t.Fatalf("unexpected balances %d/%d", repo.accounts[source.ID].Balance, repo.accounts[target.ID].Balance)
	}
}

func TestPayBill_RejectsUnknownServiceBeforeStorage(t *testing.T) {
	repo := newFakeLedgerStore()
	userID := uuid.New()
	repo.addAccount(userID, domain.AccountTypeCurrent, 10000, domain.AccountStatusActive)
	svc := newTestService(repo)

	_, err := svc.PayBill(context.Background(), userID, domain.BillPaymentRequest{
		ServiceCode: "GAS",
		BillNumber:  "FACT-123",
		Amount:      1000,
	})
	if !errors.Is(err, ErrUnknownBillService) {
		t.Fatalf("expected ErrUnknownBillService, got %v", err)
	}

	_, err = svc.PayBill(context.Background(), userID, domain.BillPaymentRequest{
		ServiceCode: "EAU",
		Amount:      1000,
	})
	if !errors.Is(err, ErrBillNumberRequired) {
		t.Fatalf("expected ErrBillNumberRequired, got %v", err)
	}

	if len(repo.entries) != 0 {
		t.Fatalf("expected no entries recorded for rejected bill payments, got %d", len(repo.entries))
	}
}

func TestPayBill_DebitsCurrentAccount(t *testing.T) {
	repo := newFakeLedgerStore()
	userID := uuid.New()
	current := repo.addAccount(userID, domain.AccountTypeCurrent, 10000, domain.AccountStatusActive)
	svc := newTestService(repo)

	result, err := svc.PayBill(context.Background(), userID, domain.BillPaymentRequest{
		ServiceCode: "ELECTRICITE",
		BillNumber:  "FACT-2026-08",
		Amount:      4500,
	})
	if err != nil {
		t.Fatalf("PayBill returned error: %v", err)
	}

	entry := result.Transactions[0]
	if entry.Type != domain.TransactionTypeBillPayment {
		t.Fatalf("expected BILL_PAYMENT entry, got %s", entry.Type)
	}
	if entry.ServiceCode != "ELECTRICITE" || entry.ServiceName != "Electricite" || entry.BillNumber != "FACT-2026-08" {
		t.Fatalf("bill fields not recorded: %+v", entry)
	}
	if repo.accounts[current.ID].Balance != 5500 {
		t.Fatalf("expected balance 5500, got %d", repo.accounts[current.ID].Balance)
	}
}

func TestBlockedAccountCannotOperate(t *testing.T) {
	repo := newFakeLedgerStore()
	userID := uuid.New()
	blocked := repo.addAccount(userID, domain.AccountTypeCurrent, 10000, domain.AccountStatusBlocked)
	svc := newTestService(repo)

	_, err := svc.Deposit(context.Background(), userID, domain.DepositRequest{
		AccountID: blocked.ID,
		Amount:    1000,
	})
	if !errors.Is(err, ErrAccountNotUsable) {
		t.Fatalf("expected ErrAccountNotUsable, got %v", err)
	}
	if repo.accounts[blocked.ID].Balance != 10000 {
		t.Fatalf("blocked account balance changed: %d", repo.accounts[blocked.ID].Balance)
	}
}

func TestCreateAccount_OnePerType(t *testing.T) {
	repo := newFakeLedgerStore()
	userID := uuid.New()
	repo.addAccount(userID, domain.AccountTypeCurrent, 0, domain.AccountStatusActive)
	svc := newTestService(repo)

	_, err := svc.CreateAccount(context.Background(), userID, domain.CreateAccountRequest{Type: domain.AccountTypeCurrent})
	if !errors.Is(err, ErrAccountAlreadyExists) {
		t.Fatalf("expected ErrAccountAlreadyExists, got %v", err)
	}

	savings, err := svc.CreateAccount(context.Background(), userID, domain.CreateAccountRequest{Type: domain.AccountTypeSavings})
	if err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}
	if savings.Type != domain.AccountTypeSavings || savings.Balance != 0 {
		t.Fatalf("unexpected account %+v", savings)
	}
	if !strings.HasPrefix(savings.Number, "SN-") {
		t.Fatalf("unexpected account number format %q", savings.Number)
	}

	_, err = svc.CreateAccount(context.Background(), userID, domain.CreateAccountRequest{Type: "PREMIUM"})
	if !errors.Is(err, ErrInvalidAccountType) {
		t.Fatalf("expected ErrInvalidAccountType, got %v", err)
	}
}

func TestDeposit_ReplaysWhenInsertLosesKeyRace(t *testing.T) {
	repo := newFakeLedgerStore()
	userID := uuid.New()
	current := repo.addAccount(userID, domain.AccountTypeCurrent, 0, domain.AccountStatusActive)
	svc := newTestService(repo)

	req := domain.DepositRequest{
		AccountID:      current.ID,
		Amount:         5000,
		IdempotencyKey: "dep-key-race",
	}

	first, err := svc.Deposit(context.Background(), userID, req)
	if err != nil {
		t.Fatalf("first deposit failed: %v", err)
	}

	// A concurrent submission can pass the in-unit lookup before the first one
	// commits; its insert then collides on the unique key and the stored result
	// must be replayed, not surfaced as a failure.
	repo.missKeyLookups = 1
	second, err := svc.Deposit(context.Background(), userID, req)
	if err != nil {
		t.Fatalf("racing deposit failed instead of replaying: %v", err)
	}

	if !second.Replayed {
		t.Fatal("expected the racing submission to be marked as replayed")
	}
	if second.Transactions[0].Reference != first.Transactions[0].Reference {
		t.Fatalf("replay returned a different reference: %q vs %q",
			second.Transactions[0].Reference, first.Transactions[0].Reference)
	}
	if repo.accounts[current.ID].Balance != 5000 {
		t.Fatalf("expected balance credited exactly once, got %d", repo.accounts[current.ID].Balance)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("expected one recorded entry, got %d", len(repo.entries))
	}
}

func TestTransfers_LockAccountsInGlobalOrder(t *testing.T) {
	repo := newFakeLedgerStore()
	userA := uuid.New()
	userB := uuid.New()
	accountA := repo.addAccount(userA, domain.AccountTypeCurrent, 10000, domain.AccountStatusActive)
	accountB := repo.addAccount(userB, domain.AccountTypeCurrent, 10000, domain.AccountStatusActive)

	linkedA, linkedB := userA, userB
	beneficiaryOfA := &domain.Beneficiary{ID: uuid.New(), UserID: userA, Type: domain.BeneficiaryTypeInternal, LinkedUserID: &linkedB}
	beneficiaryOfB := &domain.Beneficiary{ID: uuid.New(), UserID: userB, Type: domain.BeneficiaryTypeInternal, LinkedUserID: &linkedA}
	repo.beneficiaries[beneficiaryOfA.ID] = beneficiaryOfA
	repo.beneficiaries[beneficiaryOfB.ID] = beneficiaryOfB
	svc := newTestService(repo)

	// Opposite-direction operations over the same two rows must lock them in
	// the same sequence, or two of them running concurrently would deadlock.
	ops := []struct {
		name string
		run  func() error
	}{
		{name: "user transfer a to b", run: func() error {
			_, err := svc.TransferToUser(context.Background(), userA, domain.UserTransferRequest{ToUserID: userB, Amount: 500})
			return err
		}},
		{name: "user transfer b to a", run: func() error {
			_, err := svc.TransferToUser(context.Background(), userB, domain.UserTransferRequest{ToUserID: userA, Amount: 500})
			return err
		}},
		{name: "beneficiary transfer a to b", run: func() error {
			_, err := svc.TransferToBeneficiary(context.Background(), userA, domain.BeneficiaryTransferRequest{
				FromAccountID: accountA.ID, BeneficiaryID: beneficiaryOfA.ID, Amount: 500,
			})
			return err
		}},
		{name: "beneficiary transfer b to a", run: func() error {
			_, err := svc.TransferToBeneficiary(context.Background(), userB, domain.BeneficiaryTransferRequest{
				FromAccountID: accountB.ID, BeneficiaryID: beneficiaryOfB.ID, Amount: 500,
			})
			return err
		}},
	}

	for _, op := range ops {
		t.Run(op.name, func(t *testing.T) {
			repo.lockOrder = nil
			if err := op.run(); err != nil {
				t.Fatalf("operation failed: %v", err)
			}
			if len(repo.lockOrder) != 2 {
				t.Fatalf("expected two locked accounts, got %d", len(repo.lockOrder))
			}
			firstLock, secondLock := repo.lockOrder[0], repo.lockOrder[1]
			if bytes.Compare(firstLock[:], secondLock[:]) > 0 {
				t.Fatalf("accounts locked out of global order: %s before %s", firstLock, secondLock)
			}
		})
	}
}

func TestCreateAccount_RetriesWhenNumberRaceIsLost(t *testing.T) {
	repo := newFakeLedgerStore()
	userID := uuid.New()
	repo.createNumberRaces = 1
	svc := newTestService(repo)

	account, err := svc.CreateAccount(context.Background(), userID, domain.CreateAccountRequest{Type: domain.AccountTypeCurrent})
	if err != nil {
		t.Fatalf("CreateAccount failed after a lost number race: %v", err)
	}
	if !strings.HasPrefix(account.Number, "SN-") {
		t.Fatalf("unexpected account number format %q", account.Number)
	}
	if repo.createNumberRaces != 0 {
		t.Fatal("expected the injected number race to be consumed")
	}
}

func TestGetAccount_OtherUsersAccountLooksMissing(t *testing.T) {
	repo := newFakeLedgerStore()
	ownerID := uuid.New()
	strangerID := uuid.New()
	account := repo.addAccount(ownerID, domain.AccountTypeCurrent, 1000, domain.AccountStatusActive)
	svc := newTestService(repo)

	_, err := svc.GetAccount(context.Background(), account.ID, strangerID)
	if !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
