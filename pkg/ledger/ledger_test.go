package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	filler = "filler-1"
	token  = big.NewInt(1)
)

func TestCreditThenBalance(t *testing.T) {
	l := New()
	if err := l.Credit(context.Background(), filler, token, big.NewInt(100)); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	avail, locked := l.Balance(filler, token)
	if avail.Cmp(big.NewInt(100)) != 0 || locked.Sign() != 0 {
		t.Fatalf("avail=%s locked=%s, want 100/0", avail, locked)
	}
}

func TestBalanceUnknownFillerIsZero(t *testing.T) {
	l := New()
	avail, locked := l.Balance("nobody", token)
	if avail.Sign() != 0 || locked.Sign() != 0 {
		t.Fatal("unknown filler should report zero balances, not an error")
	}
}

func TestLockMovesAvailableToLocked(t *testing.T) {
	l := New()
	l.Credit(context.Background(), filler, token, big.NewInt(100))

	if err := l.Lock(context.Background(), filler, token, big.NewInt(40)); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	avail, locked := l.Balance(filler, token)
	if avail.Cmp(big.NewInt(60)) != 0 || locked.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("avail=%s locked=%s, want 60/40", avail, locked)
	}
}

func TestLockInsufficientCapacity(t *testing.T) {
	l := New()
	l.Credit(context.Background(), filler, token, big.NewInt(10))
	err := l.Lock(context.Background(), filler, token, big.NewInt(20))
	if !errors.Is(err, ErrInsufficientCapacity) {
		t.Fatalf("err = %v, want ErrInsufficientCapacity", err)
	}
}

func TestLockUnknownFillerNotFound(t *testing.T) {
	l := New()
	err := l.Lock(context.Background(), "nobody", token, big.NewInt(1))
	if !errors.Is(err, ErrFillerNotFound) {
		t.Fatalf("err = %v, want ErrFillerNotFound", err)
	}
}

func TestUnlockReturnsLockedToAvailable(t *testing.T) {
	l := New()
	l.Credit(context.Background(), filler, token, big.NewInt(100))
	l.Lock(context.Background(), filler, token, big.NewInt(40))

	if err := l.Unlock(context.Background(), filler, token, big.NewInt(15)); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	avail, locked := l.Balance(filler, token)
	if avail.Cmp(big.NewInt(75)) != 0 || locked.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("avail=%s locked=%s, want 75/25", avail, locked)
	}
}

func TestUnlockInsufficientLocked(t *testing.T) {
	l := New()
	l.Credit(context.Background(), filler, token, big.NewInt(100))
	l.Lock(context.Background(), filler, token, big.NewInt(10))

	err := l.Unlock(context.Background(), filler, token, big.NewInt(50))
	if !errors.Is(err, ErrInsufficientLocked) {
		t.Fatalf("err = %v, want ErrInsufficientLocked", err)
	}
}

func TestSettleLockedCreditsHandledAmountAndIncrementsCompletedJobs(t *testing.T) {
	l := New()
	l.Credit(context.Background(), filler, token, big.NewInt(100))
	l.Lock(context.Background(), filler, token, big.NewInt(40))

	before := l.Read(filler, token)

	if err := l.SettleLocked(context.Background(), filler, token, big.NewInt(40)); err != nil {
		t.Fatalf("SettleLocked: %v", err)
	}
	avail, locked := l.Balance(filler, token)
	if avail.Cmp(big.NewInt(140)) != 0 || locked.Sign() != 0 {
		t.Fatalf("avail=%s locked=%s, want 140/0", avail, locked)
	}

	snap := l.Read(filler, token)
	if snap.CompletedJobs != 1 {
		t.Fatalf("completed jobs = %d, want 1", snap.CompletedJobs)
	}
	wantTotal := new(big.Int).Add(before.Total, big.NewInt(40))
	if snap.Total.Cmp(wantTotal) != 0 {
		t.Fatalf("total = %s, want %s (increased by exactly the settled amount)", snap.Total, wantTotal)
	}
}

func TestBalanceIdentityTotalEqualsAvailablePlusLocked(t *testing.T) {
	l := New()
	l.Credit(context.Background(), filler, token, big.NewInt(500))
	l.Lock(context.Background(), filler, token, big.NewInt(120))

	snap := l.Read(filler, token)
	sum := new(big.Int).Add(snap.Available, snap.Locked)
	if sum.Cmp(snap.Total) != 0 {
		t.Fatalf("available(%s) + locked(%s) != total(%s)", snap.Available, snap.Locked, snap.Total)
	}
}

func TestPutWalletsValidatesPercentageSum(t *testing.T) {
	l := New()
	addr1 := common.HexToAddress("0x1111111111111111111111111111111111111111")
	addr2 := common.HexToAddress("0x2222222222222222222222222222222222222222")

	if err := l.PutWallets(context.Background(), filler, []PayoutWallet{{Address: addr1, Percentage: 60}, {Address: addr2, Percentage: 30}}); !errors.Is(err, ErrInvalidWallets) {
		t.Fatalf("err = %v, want ErrInvalidWallets for sum != 100", err)
	}

	if err := l.PutWallets(context.Background(), filler, []PayoutWallet{{Address: addr1, Percentage: 70}, {Address: addr2, Percentage: 30}}); err != nil {
		t.Fatalf("PutWallets with sum 100: %v", err)
	}

	if err := l.PutWallets(context.Background(), filler, nil); err != nil {
		t.Fatalf("PutWallets clearing with empty set: %v", err)
	}
	if w := l.Wallets(filler); len(w) != 0 {
		t.Fatalf("wallets = %v, want empty after clearing", w)
	}
}

func TestAddressesRoundTrip(t *testing.T) {
	l := New()
	if _, ok := l.Addresses(filler); ok {
		t.Fatal("unregistered filler should report ok=false")
	}

	op := common.HexToAddress("0x3333333333333333333333333333333333333333")
	payout := common.HexToAddress("0x4444444444444444444444444444444444444444")
	l.SetAddresses(filler, Addresses{Operational: op, Payout: payout})

	got, ok := l.Addresses(filler)
	if !ok || got.Operational != op || got.Payout != payout {
		t.Fatalf("Addresses() = %+v, ok=%v, want %s/%s", got, ok, op, payout)
	}
}

func TestCreditDebitLockUnlockSettleSurfaceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := New()
	if err := l.Credit(ctx, filler, token, big.NewInt(1)); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Credit err = %v, want ErrCancelled", err)
	}
	if err := l.Debit(ctx, filler, token, big.NewInt(1)); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Debit err = %v, want ErrCancelled", err)
	}
	if err := l.Lock(ctx, filler, token, big.NewInt(1)); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Lock err = %v, want ErrCancelled", err)
	}
	if err := l.Unlock(ctx, filler, token, big.NewInt(1)); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Unlock err = %v, want ErrCancelled", err)
	}
	if err := l.SettleLocked(ctx, filler, token, big.NewInt(1)); !errors.Is(err, ErrCancelled) {
		t.Fatalf("SettleLocked err = %v, want ErrCancelled", err)
	}
	if err := l.PutWallets(ctx, filler, nil); !errors.Is(err, ErrCancelled) {
		t.Fatalf("PutWallets err = %v, want ErrCancelled", err)
	}
}
