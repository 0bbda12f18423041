package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Lagnajit09/swiftpay-infraops-sub000/internal/domain"
)

func activeWallet(id, userID string, balance int64) domain.Wallet {
	return domain.Wallet{
		ID:       id,
		UserID:   userID,
		Currency: "INR",
		Balance:  balance,
		Status:   domain.WalletActive,
	}
}

func TestCreditIncreasesBalance(t *testing.T) {
	store := newMemStore()
	store.addWallet(activeWallet("w1", "u1", 0))
	eng := NewEngine(store, 3)

	res, err := eng.Credit(context.Background(), MutationParams{WalletID: "w1", Amount: 250})
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if res.Balance != 250 {
		t.Errorf("expected balance 250, got %d", res.Balance)
	}
	if !res.Applied {
		t.Error("expected Applied=true for a fresh credit")
	}
	if got := store.entrySum("w1"); got != 250 {
		t.Errorf("entry sum %d does not match balance 250", got)
	}
}

func TestDebitRejectsZeroAndNegativeAmounts(t *testing.T) {
	store := newMemStore()
	store.addWallet(activeWallet("w1", "u1", 100))
	eng := NewEngine(store, 3)

	for _, amount := range []int64{0, -5} {
		_, err := eng.Debit(context.Background(), MutationParams{WalletID: "w1", Amount: amount})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	if store.entryCount("w1") != 0 {
		t.Error("rejected amounts must not create entries")
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	store := newMemStore()
	store.addWallet(activeWallet("w1", "u1", 99))
	eng := NewEngine(store, 3)

	_, err := eng.Debit(context.Background(), MutationParams{WalletID: "w1", Amount: 100})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if store.entryCount("w1") != 0 {
		t.Error("failed debit must not create an entry")
	}
}

func TestMutationOnMissingWallet(t *testing.T) {
	eng := NewEngine(newMemStore(), 3)
	_, err := eng.Credit(context.Background(), MutationParams{WalletID: "nope", Amount: 10})
	if !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestMutationOnSuspendedWallet(t *testing.T) {
	store := newMemStore()
	w := activeWallet("w1", "u1", 100)
	w.Status = domain.WalletSuspended
	store.addWallet(w)
	eng := NewEngine(store, 3)

	_, err := eng.Credit(context.Background(), MutationParams{WalletID: "w1", Amount: 10})
	if !errors.Is(err, ErrWalletNotActive) {
		t.Fatalf("expected ErrWalletNotActive, got %v", err)
	}
}

func TestIdempotentReplayCredit(t *testing.T) {
	store := newMemStore()
	store.addWallet(activeWallet("w1", "u1", 0))
	eng := NewEngine(store, 3)
	p := MutationParams{WalletID: "w1", Amount: 100, IdempotencyKey: "K"}

	first, err := eng.Credit(context.Background(), p)
	if err != nil {
		t.Fatalf("first credit failed: %v", err)
	}
	second, err := eng.Credit(context.Background(), p)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if second.Applied {
		t.Error("replay must report Applied=false")
	}
	if second.Balance != first.Balance || second.EntryID != first.EntryID {
		t.Errorf("replay returned (%d,%s), original (%d,%s)",
			second.Balance, second.EntryID, first.Balance, first.EntryID)
	}
	if store.entryCount("w1") != 1 {
		t.Errorf("expected one entry, got %d", store.entryCount("w1"))
	}
	if got := store.entrySum("w1"); got != 100 {
		t.Errorf("balance incremented more than once: entry sum %d", got)
	}
}

// The worked example: a wallet holding 1000 paise is drained by one debit,
// the identical retry replays the stored outcome, and a further debit of a
// single paisa fails cleanly.
func TestDebitDrainAndReplay(t *testing.T) {
	store := newMemStore()
	store.addWallet(activeWallet("w1", "u1", 1000))
	eng := NewEngine(store, 3)
	ctx := context.Background()

	first, err := eng.Debit(ctx, MutationParams{WalletID: "w1", Amount: 1000, IdempotencyKey: "a"})
	if err != nil {
		t.Fatalf("drain debit failed: %v", err)
	}
	if first.Balance != 0 {
		t.Fatalf("expected balance 0, got %d", first.Balance)
	}

	replay, err := eng.Debit(ctx, MutationParams{WalletID: "w1", Amount: 1000, IdempotencyKey: "a"})
	if err != nil {
		t.Fatalf("replay must succeed even at zero balance: %v", err)
	}
	if replay.Balance != 0 || replay.EntryID != first.EntryID {
		t.Errorf("replay returned (%d,%s), want (0,%s)", replay.Balance, replay.EntryID, first.EntryID)
	}
	if store.entryCount("w1") != 1 {
		t.Errorf("replay created a second entry: count %d", store.entryCount("w1"))
	}

	_, err = eng.Debit(ctx, MutationParams{WalletID: "w1", Amount: 1, IdempotencyKey: "b"})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if store.entryCount("w1") != 1 {
		t.Error("failed debit created an entry")
	}
}

func TestP2PTransferMovesBothLegs(t *testing.T) {
	store := newMemStore()
	store.addWallet(activeWallet("wa", "ua", 100))
	store.addWallet(activeWallet("wb", "ub", 10))
	eng := NewEngine(store, 3)

	res, err := eng.P2PTransfer(context.Background(), TransferParams{
		SenderWalletID:    "wa",
		RecipientWalletID: "wb",
		Amount:            50,
	})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if res.SenderBalance != 50 || res.RecipientBalance != 60 {
		t.Errorf("balances (%d,%d), want (50,60)", res.SenderBalance, res.RecipientBalance)
	}
	if store.entrySum("wa") != -50 || store.entrySum("wb") != 50 {
		t.Error("entry sums do not reflect the transfer")
	}
}

func TestP2PTransferAtomicOnFailure(t *testing.T) {
	store := newMemStore()
	store.addWallet(activeWallet("wa", "ua", 30))
	store.addWallet(activeWallet("wb", "ub", 0))
	eng := NewEngine(store, 3)

	_, err := eng.P2PTransfer(context.Background(), TransferParams{
		SenderWalletID:    "wa",
		RecipientWalletID: "wb",
		Amount:            50,
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	wa, _ := store.GetWallet(context.Background(), "wa")
	wb, _ := store.GetWallet(context.Background(), "wb")
	if wa.Balance != 30 || wb.Balance != 0 {
		t.Errorf("failed transfer mutated balances: (%d,%d)", wa.Balance, wb.Balance)
	}
	if store.entryCount("wa")+store.entryCount("wb") != 0 {
		t.Error("failed transfer wrote entries")
	}
}

func TestP2PTransferToSuspendedRecipient(t *testing.T) {
	store := newMemStore()
	store.addWallet(activeWallet("wa", "ua", 100))
	wb := activeWallet("wb", "ub", 0)
	wb.Status = domain.WalletSuspended
	store.addWallet(wb)
	eng := NewEngine(store, 3)

	_, err := eng.P2PTransfer(context.Background(), TransferParams{
		SenderWalletID:    "wa",
		RecipientWalletID: "wb",
		Amount:            10,
	})
	if !errors.Is(err, ErrWalletNotActive) {
		t.Fatalf("expected ErrWalletNotActive, got %v", err)
	}
}

func TestP2PTransferIdempotentReplay(t *testing.T) {
	store := newMemStore()
	store.addWallet(activeWallet("wa", "ua", 100))
	store.addWallet(activeWallet("wb", "ub", 0))
	eng := NewEngine(store, 3)
	p := TransferParams{
		SenderWalletID:    "wa",
		RecipientWalletID: "wb",
		Amount:            40,
		IdempotencyKey:    "t1",
	}

	first, err := eng.P2PTransfer(context.Background(), p)
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	replay, err := eng.P2PTransfer(context.Background(), p)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if replay.Applied {
		t.Error("replay must report Applied=false")
	}
	if replay.SenderBalance != first.SenderBalance || replay.DebitEntryID != first.DebitEntryID {
		t.Error("replay did not return the original outcome")
	}
	if store.entryCount("wa") != 1 || store.entryCount("wb") != 1 {
		t.Error("replay wrote additional entries")
	}
}

// Exactly the subset of concurrent debits that fits the balance commits.
func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	store := newMemStore()
	store.addWallet(activeWallet("w1", "u1", 500))
	eng := NewEngine(store, 100)

	const workers = 10
	var wg sync.WaitGroup
	results := make([]error, workers)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := eng.Debit(context.Background(), MutationParams{WalletID: "w1", Amount: 100})
			results[i] = err
		}(i)
	}
	wg.Wait()

	succeeded, insufficient := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientFunds):
			insufficient++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 5 {
		t.Errorf("expected exactly 5 debits to fit, got %d", succeeded)
	}
	if insufficient != workers-5 {
		t.Errorf("expected %d insufficient-funds failures, got %d", workers-5, insufficient)
	}
	w, _ := store.GetWallet(context.Background(), "w1")
	if w.Balance != 0 {
		t.Errorf("final balance %d, want 0", w.Balance)
	}
	if w.Balance != store.entrySum("w1")+500 {
		t.Error("balance does not equal opening balance plus entry sum")
	}
}

// Concurrent credits with distinct keys both land and the version counter
// advances by exactly one per committed mutation.
func TestConcurrentCreditsVersionMonotonic(t *testing.T) {
	store := newMemStore()
	store.addWallet(activeWallet("w1", "u1", 0))
	eng := NewEngine(store, 100)

	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := eng.Credit(context.Background(), MutationParams{
				WalletID:       "w1",
				Amount:         10,
				IdempotencyKey: string(rune('a' + i)),
			})
			if err != nil {
				t.Errorf("credit %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	w, _ := store.GetWallet(context.Background(), "w1")
	if w.Balance != workers*10 {
		t.Errorf("final balance %d, want %d", w.Balance, workers*10)
	}
	if w.Version != workers {
		t.Errorf("version %d, want %d (one increment per commit)", w.Version, workers)
	}
}

func TestVersionConflictRetries(t *testing.T) {
	store := newMemStore()
	store.addWallet(activeWallet("w1", "u1", 0))
	eng := NewEngine(store, 3)

	// Another writer commits between the engine's read and its write.
	interfered := false
	store.beforeApply = func() {
		if interfered {
			return
		}
		interfered = true
		store.mu.Lock()
		store.wallets["w1"].Version++
		store.wallets["w1"].Balance += 7
		store.mu.Unlock()
	}

	res, err := eng.Credit(context.Background(), MutationParams{WalletID: "w1", Amount: 10})
	if err != nil {
		t.Fatalf("credit should retry past one conflict: %v", err)
	}
	if res.Balance != 17 {
		t.Errorf("expected retried read to see the interfering write, balance %d want 17", res.Balance)
	}
}

func TestRetriesExhaustedSurfacesConflict(t *testing.T) {
	store := newMemStore()
	store.addWallet(activeWallet("w1", "u1", 0))
	eng := NewEngine(store, 2)

	store.beforeApply = func() {
		store.mu.Lock()
		store.wallets["w1"].Version++
		store.mu.Unlock()
	}

	_, err := eng.Credit(context.Background(), MutationParams{WalletID: "w1", Amount: 10})
	if !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
}

// Two requests with the same key racing past the read check: the loser of
// the unique-constraint race still returns the winner's stored outcome.
func TestDuplicateKeyRaceReturnsStoredOutcome(t *testing.T) {
	store := newMemStore()
	store.addWallet(activeWallet("w1", "u1", 0))
	eng := NewEngine(store, 3)
	ctx := context.Background()

	raced := false
	store.beforeApply = func() {
		if raced {
			return
		}
		raced = true
		hook := store.beforeApply
		store.beforeApply = nil
		if _, err := eng.Credit(ctx, MutationParams{WalletID: "w1", Amount: 100, IdempotencyKey: "K"}); err != nil {
			t.Errorf("winner credit failed: %v", err)
		}
		store.beforeApply = hook
	}

	res, err := eng.Credit(ctx, MutationParams{WalletID: "w1", Amount: 100, IdempotencyKey: "K"})
	if err != nil {
		t.Fatalf("loser credit must return stored outcome: %v", err)
	}
	if res.Balance != 100 {
		t.Errorf("balance %d, want 100", res.Balance)
	}
	if store.entryCount("w1") != 1 {
		t.Errorf("expected one entry, got %d", store.entryCount("w1"))
	}
}

func TestGetOrCreateWallet(t *testing.T) {
	store := newMemStore()
	eng := NewEngine(store, 3)
	ctx := context.Background()

	w1, err := eng.GetOrCreateWallet(ctx, "u1", "INR")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if w1.Status != domain.WalletActive || w1.Balance != 0 {
		t.Errorf("new wallet should be ACTIVE with zero balance, got %s/%d", w1.Status, w1.Balance)
	}
	w2, err := eng.GetOrCreateWallet(ctx, "u1", "INR")
	if err != nil {
		t.Fatalf("second get failed: %v", err)
	}
	if w2.ID != w1.ID {
		t.Error("get-or-create created a second wallet for the same user")
	}
}

func TestSetWalletStatusClosedIsOneWay(t *testing.T) {
	store := newMemStore()
	store.addWallet(activeWallet("w1", "u1", 0))
	eng := NewEngine(store, 3)
	ctx := context.Background()

	if err := eng.SetWalletStatus(ctx, "w1", domain.WalletClosed); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	err := eng.SetWalletStatus(ctx, "w1", domain.WalletActive)
	if !errors.Is(err, ErrWalletNotActive) {
		t.Fatalf("reopening a closed wallet must fail, got %v", err)
	}
}
