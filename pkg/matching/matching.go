// Package matching implements the matching engine (C5): a periodic
// discovery-promotion task plus the RPC-driven locking and payment-
// proof flows. Grounded on the AggLayer Sender/Oracle ticker-task
// shape (Start/Stop over a context, time.Ticker loop) generalized from
// certificate polling to order-pool scanning.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/offramp-labs/settlement-core/pkg/ledger"
	"github.com/offramp-labs/settlement-core/pkg/orders"
)

// ErrForbidden is returned when a caller's filler_id does not match
// the lock owner on an order.
var ErrForbidden = errors.New("matching: filler does not hold this order's lock")

// ErrAmountMismatch is returned when a lock request's amount does not
// equal the order's full amount: partial fills are not supported.
var ErrAmountMismatch = errors.New("matching: lock amount must equal order amount")

// Stats are running performance counters for the matching engine,
// read through Stats().
type Stats struct {
	OrdersPromoted uint64
	OrdersLocked   uint64

	mu sync.Mutex
}

// Engine runs discovery promotion and serves the locking/payment-proof
// operations. It holds no exclusive ownership over orders between
// calls; every operation re-reads and CAS-transitions.
type Engine struct {
	store  orders.Store
	ledger *ledger.Ledger
	logger *log.Logger
	stats  Stats

	discoveryInterval time.Duration
	lockTimeout       time.Duration
}

// Config collects the engine's operator-tunable intervals.
type Config struct {
	DiscoveryInterval time.Duration
	LockTimeout       time.Duration
}

// New constructs a matching engine over the given order store and
// filler ledger.
func New(store orders.Store, l *ledger.Ledger, cfg Config, logger *log.Logger) *Engine {
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = 5 * time.Second
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		store:             store,
		ledger:            l,
		logger:            logger,
		discoveryInterval: cfg.DiscoveryInterval,
		lockTimeout:       cfg.LockTimeout,
	}
}

// Run is the discovery-promotion task: on each tick it scans Pending
// BridgeIn orders and promotes them to Discovery, and reclaims Locked
// orders that have sat past lockTimeout. It runs until ctx is
// cancelled, matching the single cooperative-task topology.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.discoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.promotePending()
			e.reclaimExpiredLocks()
		}
	}
}

// promotePending and reclaimExpiredLocks are driven by Run's ticker,
// not a client RPC deadline, so their store/ledger calls use a
// background context rather than threading one in from outside.
func (e *Engine) promotePending() {
	pending := e.store.ListByStatusKind(orders.StatusPending, orders.KindBridgeIn)
	for _, o := range pending {
		if _, err := e.store.Transition(context.Background(), o.ID, o.UpdatedAt, orders.StatusDiscovery, nil); err != nil {
			if !errors.Is(err, orders.ErrConflict) {
				e.logger.Printf("matching: promote %s failed: %v", o.ID, err)
			}
			continue
		}
		e.stats.mu.Lock()
		e.stats.OrdersPromoted++
		e.stats.mu.Unlock()
	}
}

func (e *Engine) reclaimExpiredLocks() {
	deadline := time.Now().Add(-e.lockTimeout)
	locked := e.store.ListByStatusKind(orders.StatusLocked, orders.KindBridgeIn)
	for _, o := range locked {
		if o.UpdatedAt.After(deadline) {
			continue
		}
		fillerID, lockedAmount := o.FillerID, o.LockedAmount
		_, err := e.store.Transition(context.Background(), o.ID, o.UpdatedAt, orders.StatusDiscovery, func(mut *orders.Order) {
			mut.FillerID = ""
			mut.LockedAmount = nil
		})
		if err != nil {
			if !errors.Is(err, orders.ErrConflict) {
				e.logger.Printf("matching: reclaim %s failed: %v", o.ID, err)
			}
			continue
		}
		if fillerID != "" && lockedAmount != nil {
			if err := e.ledger.Unlock(context.Background(), fillerID, o.TokenID, lockedAmount); err != nil {
				e.logger.Printf("matching: reclaim unlock %s/%s failed: %v", fillerID, o.ID, err)
			}
		}
	}
}

// LockOrder implements lock_order: loads the order, requires
// BridgeIn/Discovery, requires amount equal to the order's full
// amount, locks the filler ledger, then transitions the order to
// Locked. If the ledger lock succeeds but the store transition fails,
// it compensates by unlocking before returning.
func (e *Engine) LockOrder(ctx context.Context, orderID uuid.UUID, fillerID string, amount *big.Int) (*orders.Order, error) {
	o, err := e.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Kind != orders.KindBridgeIn || o.Status != orders.StatusDiscovery {
		return nil, fmt.Errorf("%w: order not in Discovery", orders.ErrIllegalTransition)
	}
	if amount == nil || amount.Cmp(o.Amount) != 0 {
		return nil, ErrAmountMismatch
	}

	if err := e.ledger.Lock(ctx, fillerID, o.TokenID, amount); err != nil {
		return nil, err
	}

	updated, err := e.store.Transition(ctx, o.ID, o.UpdatedAt, orders.StatusLocked, func(mut *orders.Order) {
		mut.FillerID = fillerID
		mut.LockedAmount = new(big.Int).Set(amount)
	})
	if err != nil {
		if unlockErr := e.ledger.Unlock(context.Background(), fillerID, o.TokenID, amount); unlockErr != nil {
			e.logger.Printf("matching: compensation unlock failed for order %s: %v", o.ID, unlockErr)
		}
		return nil, err
	}
	e.stats.mu.Lock()
	e.stats.OrdersLocked++
	e.stats.mu.Unlock()
	return updated, nil
}

// Stats returns a snapshot of the engine's running counters.
func (e *Engine) Stats() Stats {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	return Stats{OrdersPromoted: e.stats.OrdersPromoted, OrdersLocked: e.stats.OrdersLocked}
}

// SubmitPaymentProof implements submit_payment_proof: requires the
// order Locked with a matching filler_id, stores the banking hash,
// and transitions to MarkPaid. The hash is a commitment only; nothing
// here verifies it against a banking rail.
func (e *Engine) SubmitPaymentProof(ctx context.Context, orderID uuid.UUID, fillerID string, bankingHash [32]byte) (*orders.Order, error) {
	o, err := e.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != orders.StatusLocked {
		return nil, fmt.Errorf("%w: order not Locked", orders.ErrIllegalTransition)
	}
	if o.FillerID != fillerID {
		return nil, ErrForbidden
	}

	return e.store.Transition(ctx, o.ID, o.UpdatedAt, orders.StatusMarkPaid, func(mut *orders.Order) {
		mut.BankingHash = bankingHash
	})
}

// MarkDiscovery implements mark_discovery: an operator/administrative
// escape hatch that forces a Pending BridgeIn order straight to
// Discovery, bypassing the periodic scan.
func (e *Engine) MarkDiscovery(ctx context.Context, orderID uuid.UUID) (*orders.Order, error) {
	o, err := e.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != orders.StatusPending {
		return nil, fmt.Errorf("%w: order not Pending", orders.ErrIllegalTransition)
	}
	return e.store.Transition(ctx, o.ID, o.UpdatedAt, orders.StatusDiscovery, nil)
}

// ListDiscovery implements list_discovery: returns up to limit
// BridgeIn orders currently available for locking.
func (e *Engine) ListDiscovery(limit int) []*orders.Order {
	all := e.store.ListByStatusKind(orders.StatusDiscovery, orders.KindBridgeIn)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}
