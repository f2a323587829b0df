// Package orders implements the order lifecycle state machine (C3):
// a persistent store of BridgeIn/BridgeOut/Transfer orders gated by an
// exhaustive (kind, status) transition table, with idempotent lookups
// by id, status, and filler.
package orders

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/offramp-labs/settlement-core/pkg/merkle"
)

// Kind is re-exported from merkle so leaf encoding and order bookkeeping
// never disagree about the tag values committed on-chain.
type Kind = merkle.OrderKind

const (
	KindBridgeIn  = merkle.KindBridgeIn
	KindBridgeOut = merkle.KindBridgeOut
	KindTransfer  = merkle.KindTransfer
)

// Status is a node in the order state-machine diagram (§4.3).
type Status int

const (
	StatusPending Status = iota
	StatusDiscovery
	StatusLocked
	StatusMarkPaid
	StatusSettled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDiscovery:
		return "discovery"
	case StatusLocked:
		return "locked"
	case StatusMarkPaid:
		return "mark_paid"
	case StatusSettled:
		return "settled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is legal from s.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusFailed
}

var (
	ErrNotFound          = errors.New("orders: not found")
	ErrIllegalTransition = errors.New("orders: illegal transition")
	ErrConflict          = errors.New("orders: conflicting update")
	ErrInvalid           = errors.New("orders: invalid order")
	// ErrCancelled is returned when a caller's context is already done
	// on entry to a store method (§5 "Cancellation and timeouts"). The
	// method then applies no side effects.
	ErrCancelled = errors.New("orders: cancelled")
)

// Order is the full persisted row (§3 "Entities: Order").
type Order struct {
	ID              uuid.UUID
	Kind            Kind
	Status          Status
	FromAddress     common.Address
	ToAddress       common.Address
	TokenID         *big.Int
	Amount          *big.Int
	BankingHash     [32]byte
	FillerID        string // empty until locked
	LockedAmount    *big.Int
	BatchID         *uint32
	OnChainOrderID  *uint64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone returns a defensive copy so callers never mutate store-owned state.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.TokenID != nil {
		c.TokenID = new(big.Int).Set(o.TokenID)
	}
	if o.Amount != nil {
		c.Amount = new(big.Int).Set(o.Amount)
	}
	if o.LockedAmount != nil {
		v := new(big.Int).Set(o.LockedAmount)
		c.LockedAmount = v
	}
	if o.BatchID != nil {
		v := *o.BatchID
		c.BatchID = &v
	}
	if o.OnChainOrderID != nil {
		v := *o.OnChainOrderID
		c.OnChainOrderID = &v
	}
	return &c
}

// validateCreate enforces the entity invariants from §3 for a fresh
// BridgeIn/BridgeOut/Transfer order before it is persisted.
func validateCreate(kind Kind, amount *big.Int, tokenID *big.Int, bankingHash [32]byte) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalid)
	}
	if tokenID == nil || tokenID.Sign() == 0 {
		return fmt.Errorf("%w: token_id must be non-zero", ErrInvalid)
	}
	if kind == KindBridgeIn && bankingHash == ([32]byte{}) {
		return fmt.Errorf("%w: banking_hash required for BridgeIn", ErrInvalid)
	}
	return nil
}
