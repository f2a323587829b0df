// Package ledger implements the filler ledger (C4): per-filler,
// per-token balance accounting split into available and locked
// portions, plus payout wallet configuration. Grounded on the
// validator/delegation accounting pattern, generalized from
// stake/commission bookkeeping to lock/unlock/credit/debit operations.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrFillerNotFound is returned when a filler has never deposited
	// against the requested token.
	ErrFillerNotFound = errors.New("ledger: filler not found")
	// ErrInsufficientCapacity is returned when a lock or debit would
	// drive the available balance negative.
	ErrInsufficientCapacity = errors.New("ledger: insufficient available balance")
	// ErrInsufficientLocked is returned when an unlock or settle would
	// drive the locked balance negative.
	ErrInsufficientLocked = errors.New("ledger: insufficient locked balance")
	// ErrInvalidWallets is returned when a payout wallet set's
	// percentages do not sum to exactly 0 or exactly 100.
	ErrInvalidWallets = errors.New("ledger: payout wallet percentages must sum to 0 or 100")
	// ErrCancelled is returned when a caller's context is done before a
	// mutator runs (§5 "Cancellation and timeouts"); no balance is moved.
	ErrCancelled = errors.New("ledger: cancelled")
)

// PayoutWallet is one destination in a filler's payout split.
type PayoutWallet struct {
	Address    common.Address
	Percentage uint8 // 0-100
}

// Addresses are the two on-chain addresses the batch builder needs for
// a filler: where its Transfer leg lands, and where its BridgeOut leg
// resolves. Splitting a claim across payout wallets is left to the
// claim submitter (open question, resolved: the core only validates
// percentages), so these addresses are independent of the wallet set.
type Addresses struct {
	Operational common.Address
	Payout      common.Address
}

type balance struct {
	available     *big.Int
	locked        *big.Int
	completedJobs uint64
}

// Snapshot is the read-only view returned for an RPC read query.
type Snapshot struct {
	Total         *big.Int
	Available     *big.Int
	Locked        *big.Int
	CompletedJobs uint64
	Wallets       []PayoutWallet
}

type fillerKey struct {
	fillerID string
	tokenID  string // big.Int.String(), since *big.Int is not map-key-able
}

// Ledger is the in-memory filler ledger. All state is protected by a
// single mutex; balance identity (available + locked == total) holds
// by construction since total is reported as available + locked and
// every mutator keeps both fields non-negative. Lock and Unlock move
// amounts between them; Credit, Debit and the credit half of
// SettleLocked are the only points where value enters or leaves.
type Ledger struct {
	mu        sync.RWMutex
	bal       map[fillerKey]*balance
	wallets   map[string][]PayoutWallet
	addresses map[string]Addresses
}

// New constructs an empty ledger.
func New() *Ledger {
	return &Ledger{
		bal:       make(map[fillerKey]*balance),
		wallets:   make(map[string][]PayoutWallet),
		addresses: make(map[string]Addresses),
	}
}

// SetAddresses registers a filler's operational and payout addresses.
// Idempotent: a later call replaces the prior registration.
func (l *Ledger) SetAddresses(fillerID string, addrs Addresses) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addresses[fillerID] = addrs
}

// Addresses returns a filler's registered addresses and whether any
// have been registered.
func (l *Ledger) Addresses(fillerID string) (Addresses, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.addresses[fillerID]
	return a, ok
}

func key(fillerID string, tokenID *big.Int) fillerKey {
	return fillerKey{fillerID: fillerID, tokenID: tokenID.String()}
}

func (l *Ledger) entry(k fillerKey) *balance {
	b, ok := l.bal[k]
	if !ok {
		b = &balance{available: big.NewInt(0), locked: big.NewInt(0)}
		l.bal[k] = b
	}
	return b
}

// Balance reports the available and locked balances for a filler/token
// pair. Returns zero balances, not an error, for an unknown pair: a
// filler with no prior activity simply has nothing.
func (l *Ledger) Balance(fillerID string, tokenID *big.Int) (available, locked *big.Int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.bal[key(fillerID, tokenID)]
	if !ok {
		return big.NewInt(0), big.NewInt(0)
	}
	return new(big.Int).Set(b.available), new(big.Int).Set(b.locked)
}

// Credit increases a filler's available balance (e.g. on operator-
// confirmed deposit). amount must be positive.
func (l *Ledger) Credit(ctx context.Context, fillerID string, tokenID, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("ledger: credit amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.entry(key(fillerID, tokenID))
	b.available.Add(b.available, amount)
	return nil
}

// Debit decreases a filler's available balance (e.g. on withdrawal).
func (l *Ledger) Debit(ctx context.Context, fillerID string, tokenID, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("ledger: debit amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bal[key(fillerID, tokenID)]
	if !ok {
		return ErrFillerNotFound
	}
	if b.available.Cmp(amount) < 0 {
		return ErrInsufficientCapacity
	}
	b.available.Sub(b.available, amount)
	return nil
}

// Lock moves amount from available to locked, used when a filler is
// assigned an order to fill. Fails rather than partially locking.
func (l *Ledger) Lock(ctx context.Context, fillerID string, tokenID, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("ledger: lock amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bal[key(fillerID, tokenID)]
	if !ok {
		return ErrFillerNotFound
	}
	if b.available.Cmp(amount) < 0 {
		return ErrInsufficientCapacity
	}
	b.available.Sub(b.available, amount)
	b.locked.Add(b.locked, amount)
	return nil
}

// Unlock moves amount from locked back to available, used to release a
// lock when a fill is abandoned or compensated.
func (l *Ledger) Unlock(ctx context.Context, fillerID string, tokenID, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("ledger: unlock amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bal[key(fillerID, tokenID)]
	if !ok {
		return ErrFillerNotFound
	}
	if b.locked.Cmp(amount) < 0 {
		return ErrInsufficientLocked
	}
	b.locked.Sub(b.locked, amount)
	b.available.Add(b.available, amount)
	return nil
}

// SettleLocked releases amount from locked back to available (the
// filler's escrow obligation is discharged) and then credits the
// filler the same amount again: a filler's Transfer/BridgeOut sealing
// in a batch is exactly the credit event of §4.4, so the filler's
// total balance increases by the amount it handled, not merely
// returns to where it started. It also increments the filler's
// completed-job counter. Both moves happen under one lock so a reader
// never observes the intermediate (released-but-not-yet-credited)
// state.
func (l *Ledger) SettleLocked(ctx context.Context, fillerID string, tokenID, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("ledger: settle amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bal[key(fillerID, tokenID)]
	if !ok {
		return ErrFillerNotFound
	}
	if b.locked.Cmp(amount) < 0 {
		return ErrInsufficientLocked
	}
	b.locked.Sub(b.locked, amount)
	b.available.Add(b.available, amount) // release the escrow
	b.available.Add(b.available, amount) // credit (§4.4) for the handled amount
	b.completedJobs++
	return nil
}

// Read returns the full ledger snapshot for an RPC read query:
// total, available, locked, completed jobs, and payout wallets.
// Unknown fillers return a zeroed snapshot with no wallets, matching
// Balance's "no prior activity" convention.
func (l *Ledger) Read(fillerID string, tokenID *big.Int) Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.bal[key(fillerID, tokenID)]
	if !ok {
		return Snapshot{Total: big.NewInt(0), Available: big.NewInt(0), Locked: big.NewInt(0)}
	}
	total := new(big.Int).Add(b.available, b.locked)
	var wallets []PayoutWallet
	if w := l.wallets[fillerID]; w != nil {
		wallets = make([]PayoutWallet, len(w))
		copy(wallets, w)
	}
	return Snapshot{
		Total:         total,
		Available:     new(big.Int).Set(b.available),
		Locked:        new(big.Int).Set(b.locked),
		CompletedJobs: b.completedJobs,
		Wallets:       wallets,
	}
}

// PutWallets replaces a filler's payout wallet set wholesale. An empty
// slice clears the configuration. Percentages must sum to exactly 0
// (when clearing) or exactly 100. The set is only stored and validated:
// the batch builder takes a filler's payout address from Addresses, not
// from this set.
func (l *Ledger) PutWallets(ctx context.Context, fillerID string, wallets []PayoutWallet) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	var sum int
	for _, w := range wallets {
		sum += int(w.Percentage)
	}
	if sum != 0 && sum != 100 {
		return ErrInvalidWallets
	}

	cp := make([]PayoutWallet, len(wallets))
	copy(cp, wallets)
	sort.Slice(cp, func(i, j int) bool {
		return cp[i].Address.Hex() < cp[j].Address.Hex()
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	l.wallets[fillerID] = cp
	return nil
}

// Wallets returns a filler's configured payout split, or nil if none
// has been set.
func (l *Ledger) Wallets(fillerID string) []PayoutWallet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w := l.wallets[fillerID]
	if w == nil {
		return nil
	}
	cp := make([]PayoutWallet, len(w))
	copy(cp, w)
	return cp
}
