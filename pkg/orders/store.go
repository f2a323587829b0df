package orders

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Store is the persistent collection of orders plus their indexes. The
// in-memory implementation below satisfies it; a SQL-backed one is an
// external collaborator's concern (§1) the core does not fix.
//
// Every method that can suspend on backing-store I/O takes a context
// first and checks it before doing any work, returning ErrCancelled if
// it is already done (§5 "Cancellation and timeouts"). ListByStatusKind,
// ListByFiller, and NextOnChainOrderID are in-memory reads that return
// no error; they are called mostly by the discovery-promotion and
// batch-worker background tasks (ListByStatusKind also serves
// list_discovery), are not suspension points in the §5 sense, and take
// no context.
type Store interface {
	Create(ctx context.Context, kind Kind, from, to common.Address, tokenID, amount *big.Int, bankingHash [32]byte) (*Order, error)
	CreateSettledSynthetic(ctx context.Context, kind Kind, from, to common.Address, tokenID, amount *big.Int, bankingHash [32]byte, batchID uint32, onChainOrderID uint64) (*Order, error)
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	ListByStatusKind(status Status, kind Kind) []*Order
	ListByFiller(fillerID string, status Status) []*Order
	// Transition performs a single-row compare-and-swap: it fails with
	// ErrConflict if expectedUpdatedAt no longer matches the stored row,
	// ErrIllegalTransition if (kind, current, to) is not in the table,
	// and ErrNotFound if id is unknown. mutate, if non-nil, is applied to
	// the row (to stamp filler_id, locked_amount, batch_id, ...) after
	// the transition is validated and before it is persisted.
	Transition(ctx context.Context, id uuid.UUID, expectedUpdatedAt time.Time, to Status, mutate func(*Order)) (*Order, error)
	// NextOnChainOrderID allocates a strictly increasing id, unique
	// across all batches ever produced, from a persistent monotonic
	// counter independent of row ids (so the id space survives test
	// resets that preserve the chain counter).
	NextOnChainOrderID() uint64
	// StampBatchID claims a MarkPaid order for batchID at the store
	// level without changing its status (§4.6 step 1 "lock them at the
	// store level by stamping batch_id"). Fails ErrConflict on a
	// concurrent claim or stale expectedUpdatedAt, ErrIllegalTransition
	// if the order is not MarkPaid or already carries a batch_id.
	StampBatchID(ctx context.Context, id uuid.UUID, expectedUpdatedAt time.Time, batchID uint32) (*Order, error)
	// ClearBatchID reverts a failed batch's claim, returning the order
	// to an unclaimed MarkPaid state.
	ClearBatchID(ctx context.Context, id uuid.UUID, expectedUpdatedAt time.Time) (*Order, error)
}

// memStore is the in-memory Store implementation. All mutation is
// serialized by mu; per-order atomicity is by construction since every
// write holds the same lock for its whole critical section.
type memStore struct {
	mu          sync.RWMutex
	byID        map[uuid.UUID]*Order
	nextOnChain uint64 // monotonic counter per §9 "synthetic order ids"
}

// NewMemStore constructs an empty in-memory order store.
func NewMemStore() Store {
	return &memStore{byID: make(map[uuid.UUID]*Order)}
}

func (s *memStore) Create(ctx context.Context, kind Kind, from, to common.Address, tokenID, amount *big.Int, bankingHash [32]byte) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	if err := validateCreate(kind, amount, tokenID, bankingHash); err != nil {
		return nil, err
	}

	now := time.Now()
	o := &Order{
		ID:          uuid.New(),
		Kind:        kind,
		Status:      StatusPending,
		FromAddress: from,
		ToAddress:   to,
		TokenID:     new(big.Int).Set(tokenID),
		Amount:      new(big.Int).Set(amount),
		BankingHash: bankingHash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[o.ID] = o
	return o.Clone(), nil
}

func (s *memStore) CreateSettledSynthetic(ctx context.Context, kind Kind, from, to common.Address, tokenID, amount *big.Int, bankingHash [32]byte, batchID uint32, onChainOrderID uint64) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	if kind == KindBridgeIn {
		return nil, fmt.Errorf("%w: BridgeIn cannot be created settled", ErrInvalid)
	}
	if err := validateCreate(kind, amount, tokenID, bankingHash); err != nil {
		return nil, err
	}

	now := time.Now()
	bid := batchID
	ocid := onChainOrderID
	o := &Order{
		ID:             uuid.New(),
		Kind:           kind,
		Status:         StatusSettled,
		FromAddress:    from,
		ToAddress:      to,
		TokenID:        new(big.Int).Set(tokenID),
		Amount:         new(big.Int).Set(amount),
		BankingHash:    bankingHash,
		BatchID:        &bid,
		OnChainOrderID: &ocid,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[o.ID] = o
	return o.Clone(), nil
}

func (s *memStore) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (s *memStore) ListByStatusKind(status Status, kind Kind) []*Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Order
	for _, o := range s.byID {
		if o.Status == status && o.Kind == kind {
			out = append(out, o.Clone())
		}
	}
	return out
}

func (s *memStore) ListByFiller(fillerID string, status Status) []*Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Order
	for _, o := range s.byID {
		if o.FillerID == fillerID && o.Status == status {
			out = append(out, o.Clone())
		}
	}
	return out
}

func (s *memStore) Transition(ctx context.Context, id uuid.UUID, expectedUpdatedAt time.Time, to Status, mutate func(*Order)) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !o.UpdatedAt.Equal(expectedUpdatedAt) {
		return nil, ErrConflict
	}
	if !canTransition(o.Kind, o.Status, to) {
		return nil, fmt.Errorf("%w: %s (%d -> %d)", ErrIllegalTransition, o.Kind, o.Status, to)
	}

	o.Status = to
	if mutate != nil {
		mutate(o)
	}
	o.UpdatedAt = time.Now()
	return o.Clone(), nil
}

func (s *memStore) StampBatchID(ctx context.Context, id uuid.UUID, expectedUpdatedAt time.Time, batchID uint32) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !o.UpdatedAt.Equal(expectedUpdatedAt) {
		return nil, ErrConflict
	}
	if o.Status != StatusMarkPaid || o.BatchID != nil {
		return nil, fmt.Errorf("%w: order not an unclaimed MarkPaid row", ErrIllegalTransition)
	}

	bid := batchID
	o.BatchID = &bid
	o.UpdatedAt = time.Now()
	return o.Clone(), nil
}

func (s *memStore) ClearBatchID(ctx context.Context, id uuid.UUID, expectedUpdatedAt time.Time) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !o.UpdatedAt.Equal(expectedUpdatedAt) {
		return nil, ErrConflict
	}

	o.BatchID = nil
	o.UpdatedAt = time.Now()
	return o.Clone(), nil
}

// NextOnChainOrderID allocates a strictly increasing id, unique across
// all batches ever produced (§9: allocated from a persistent monotonic
// counter, not row ids, so the id space survives test resets that
// preserve the chain counter).
func (s *memStore) NextOnChainOrderID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOnChain++
	return s.nextOnChain
}
