// Package batch implements the batch builder (C6), the heart of the
// system: it opens a batch, selects MarkPaid BridgeIn orders, derives
// their synthetic Transfer/BridgeOut counterparts, applies account
// deltas, commits both trees, requests a proof, and seals. Grounded on
// the bridge package's staged request/confirm/complete lifecycle,
// generalized from a single cross-chain transfer to a batch of orders.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/offramp-labs/settlement-core/pkg/accounts"
	"github.com/offramp-labs/settlement-core/pkg/ledger"
	"github.com/offramp-labs/settlement-core/pkg/merkle"
	"github.com/offramp-labs/settlement-core/pkg/orders"
	"github.com/offramp-labs/settlement-core/pkg/proof"
	"golang.org/x/sync/errgroup"
)

// Status is a batch's place in the §4.6 pipeline.
type Status int

const (
	StatusBuilding Status = iota
	StatusProving
	StatusSubmitting
	StatusSubmitted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusBuilding:
		return "building"
	case StatusProving:
		return "proving"
	case StatusSubmitting:
		return "submitting"
	case StatusSubmitted:
		return "submitted"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrBusy is returned by StartBatch when a batch is already Building.
	ErrBusy = errors.New("batch: a batch is already building")
	// ErrNotFound is returned when a batch id or claim is unknown.
	ErrNotFound = errors.New("batch: not found")
	// ErrIllegalState is returned when finalize is called on a batch not
	// in Building state.
	ErrIllegalState = errors.New("batch: illegal state for operation")
	// ErrCancelled is returned when a caller's context is already done
	// when start_batch or finalize_batch is called. Once finalize_batch
	// is underway the pipeline runs to its commit point regardless (§5
	// "Batch-worker operations do not honor cancellation past step 8").
	ErrCancelled = errors.New("batch: cancelled")
)

// LeafRecord is one committed orders-tree leaf together with enough
// provenance to answer get_claim_proof later.
type LeafRecord struct {
	Index    int
	OrderID  uuid.UUID
	Fields   merkle.OrderLeafFields
	Hash     merkle.Root
}

// Batch is the full persisted row for one sealed (or in-flight) batch.
type Batch struct {
	ID             uint32
	PrevBatchID    uint32
	PrevStateRoot  merkle.Root
	PrevOrdersRoot merkle.Root
	NewStateRoot   merkle.Root
	NewOrdersRoot  merkle.Root
	Status         Status
	SellerOrders   []uuid.UUID
	Leaves         []LeafRecord
	Proof          []byte
	CreatedAt      time.Time
}

// clone returns a defensive copy for callers outside the builder's lock.
func (b *Batch) clone() *Batch {
	c := *b
	c.SellerOrders = append([]uuid.UUID(nil), b.SellerOrders...)
	c.Leaves = append([]LeafRecord(nil), b.Leaves...)
	c.Proof = append([]byte(nil), b.Proof...)
	return &c
}

// Stats are running performance counters for the batch builder, read
// through Stats().
type Stats struct {
	BatchesSealed    uint64
	LastBatchLatency time.Duration

	mu sync.Mutex
}

// Builder owns the process-wide "current building batch" and
// "submitted chain head" singletons (§9): all mutation to either goes
// through Builder's exported operations. mu guards the builder's fields
// and is held only for short sections. The building field stays set from
// start_batch until seal or failure, which is what keeps a second batch
// from starting; runFinalize, including the (potentially long-running)
// prover call, runs without holding mu.
type Builder struct {
	mu sync.Mutex

	store    orders.Store
	accounts *accounts.Store
	ledger   *ledger.Ledger
	prover   proof.Prover
	logger   *log.Logger
	stats    Stats

	maxOrdersPerBatch int

	batches       map[uint32]*Batch
	building      *Batch
	lastSubmitted uint32 // id of the last sealed batch; 0 until the first seal
}

// Config collects the builder's operator-tunable parameters.
type Config struct {
	MaxOrdersPerBatch int
}

// New constructs a batch builder over the given collaborators.
func New(store orders.Store, acct *accounts.Store, l *ledger.Ledger, prover proof.Prover, cfg Config, logger *log.Logger) *Builder {
	if cfg.MaxOrdersPerBatch <= 0 {
		cfg.MaxOrdersPerBatch = 100
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Builder{
		store:             store,
		accounts:          acct,
		ledger:            l,
		prover:            prover,
		logger:            logger,
		maxOrdersPerBatch: cfg.MaxOrdersPerBatch,
		batches:           make(map[uint32]*Batch),
	}
}

// StartBatch implements start_batch: requires no batch currently
// Building, allocates batch_id = lastSubmitted+1, and persists a
// Building row whose prev_* roots equal the last sealed batch's
// new_* roots (all-zero for the genesis case).
func (b *Builder) StartBatch(ctx context.Context) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.building != nil {
		return 0, ErrBusy
	}

	id := b.lastSubmitted + 1
	prevState, prevOrders := merkle.ZeroRoot, merkle.ZeroRoot
	if prev, ok := b.batches[b.lastSubmitted]; ok {
		prevState, prevOrders = prev.NewStateRoot, prev.NewOrdersRoot
	}

	newBatch := &Batch{
		ID:             id,
		PrevBatchID:    b.lastSubmitted,
		PrevStateRoot:  prevState,
		PrevOrdersRoot: prevOrders,
		Status:         StatusBuilding,
		CreatedAt:      time.Now(),
	}
	b.building = newBatch
	b.batches[id] = newBatch
	return id, nil
}

// sellerJob is one BridgeIn order selected for this batch, with its
// derived synthetic orders filled in as the steps proceed.
type sellerJob struct {
	seller      *orders.Order
	onChainID   uint64
	transferID  uuid.UUID
	bridgeOutID uuid.UUID
}

// FinalizeBatch implements finalize_batch. It must be called by the
// sole batch worker on a Building batch; concurrent finalize calls on
// different ids are impossible by construction since only one batch
// may be Building at a time.
func (b *Builder) FinalizeBatch(ctx context.Context, batchID uint32) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	b.mu.Lock()
	if b.building == nil || b.building.ID != batchID {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: batch %d is not the Building batch", ErrIllegalState, batchID)
	}
	working := b.building
	b.mu.Unlock()

	start := time.Now()
	result, err := b.runFinalize(working)
	if err != nil {
		b.fail(working, err)
		return nil, err
	}
	b.recordSeal(time.Since(start))

	b.mu.Lock()
	b.building = nil
	b.lastSubmitted = result.ID
	b.batches[result.ID] = result
	b.mu.Unlock()

	return result.clone(), nil
}

func (b *Builder) recordSeal(latency time.Duration) {
	b.stats.mu.Lock()
	defer b.stats.mu.Unlock()
	b.stats.BatchesSealed++
	b.stats.LastBatchLatency = latency
}

// Stats returns a snapshot of the builder's running counters.
func (b *Builder) Stats() Stats {
	b.stats.mu.Lock()
	defer b.stats.mu.Unlock()
	return Stats{BatchesSealed: b.stats.BatchesSealed, LastBatchLatency: b.stats.LastBatchLatency}
}

func (b *Builder) fail(working *Batch, cause error) {
	b.mu.Lock()
	working.Status = StatusFailed
	b.building = nil
	b.mu.Unlock()

	for _, oid := range working.SellerOrders {
		o, err := b.store.Get(context.Background(), oid)
		if err != nil {
			b.logger.Printf("batch: fail-compensation lookup %s: %v", oid, err)
			continue
		}
		if o.Status != orders.StatusMarkPaid {
			continue
		}
		if _, err := b.store.ClearBatchID(context.Background(), o.ID, o.UpdatedAt); err != nil && !errors.Is(err, orders.ErrConflict) {
			b.logger.Printf("batch: fail-compensation clear batch_id %s: %v", oid, err)
		}
	}
	b.logger.Printf("batch: batch %d failed: %v", working.ID, cause)
}

// runFinalize executes steps 1-8 of §4.6 without holding the builder
// lock across the prover call.
func (b *Builder) runFinalize(working *Batch) (*Batch, error) {
	// step 1: select orders, stamp batch_id at the store level.
	candidates := b.store.ListByStatusKind(orders.StatusMarkPaid, orders.KindBridgeIn)
	if len(candidates) > b.maxOrdersPerBatch {
		candidates = candidates[:b.maxOrdersPerBatch]
	}

	jobs := make([]*sellerJob, 0, len(candidates))
	for _, o := range candidates {
		stamped, err := b.store.StampBatchID(context.Background(), o.ID, o.UpdatedAt, working.ID)
		if err != nil {
			if errors.Is(err, orders.ErrConflict) || errors.Is(err, orders.ErrIllegalTransition) {
				continue // lost a race to another reader; skip, not fatal
			}
			return nil, err
		}
		working.SellerOrders = append(working.SellerOrders, stamped.ID)
		// step 2: assign on-chain order ids.
		jobs = append(jobs, &sellerJob{seller: stamped, onChainID: b.store.NextOnChainOrderID()})
	}

	// step 3: derive synthetic orders and step 4: compute deltas.
	var deltas []accounts.Delta
	for _, j := range jobs {
		s := j.seller
		addrs, ok := b.ledger.Addresses(s.FillerID)
		if !ok {
			return nil, fmt.Errorf("batch: filler %s has no registered addresses", s.FillerID)
		}

		transfer, err := b.store.CreateSettledSynthetic(context.Background(), orders.KindTransfer, s.FromAddress, addrs.Operational, s.TokenID, s.Amount, [32]byte{}, working.ID, b.store.NextOnChainOrderID())
		if err != nil {
			return nil, err
		}
		j.transferID = transfer.ID

		bridgeOut, err := b.store.CreateSettledSynthetic(context.Background(), orders.KindBridgeOut, common.Address{}, addrs.Payout, s.TokenID, s.Amount, [32]byte{}, working.ID, b.store.NextOnChainOrderID())
		if err != nil {
			return nil, err
		}
		j.bridgeOutID = bridgeOut.ID

		deltas = append(deltas,
			accounts.Delta{Address: s.FromAddress, TokenID: s.TokenID, Amount: new(big.Int).Neg(s.Amount)},
			accounts.Delta{Address: addrs.Operational, TokenID: s.TokenID, Amount: new(big.Int).Set(s.Amount)},
			accounts.Delta{Address: addrs.Operational, TokenID: s.TokenID, Amount: new(big.Int).Neg(s.Amount)},
			accounts.Delta{Address: addrs.Payout, TokenID: s.TokenID, Amount: new(big.Int).Set(s.Amount)},
		)

		if err := b.ledger.SettleLocked(context.Background(), s.FillerID, s.TokenID, s.LockedAmount); err != nil {
			return nil, fmt.Errorf("batch: settle filler %s: %w", s.FillerID, err)
		}
	}

	newStateRoot, err := b.accounts.Apply(deltas)
	if err != nil {
		return nil, err
	}

	// step 5: build orders tree in deterministic leaf order. Each job's
	// three leaves are pure functions of already-collected data, so
	// they fan out across an errgroup; the deterministic index order
	// is restored afterward from each job's fixed slot.
	triples := make([][3]LeafRecord, len(jobs))
	var g errgroup.Group
	for idx, j := range jobs {
		idx, j := idx, j
		g.Go(func() error {
			s := j.seller
			addrs, ok := b.ledger.Addresses(s.FillerID)
			if !ok {
				return fmt.Errorf("batch: filler %s has no registered addresses", s.FillerID)
			}

			sellerFields := merkle.OrderLeafFields{
				BatchID: working.ID, OrderID: orderID16(s.ID), Kind: orders.KindBridgeIn,
				From: s.FromAddress, To: s.ToAddress, TokenID: s.TokenID, Amount: s.Amount,
			}
			transferFields := merkle.OrderLeafFields{
				BatchID: working.ID, OrderID: orderID16(j.transferID), Kind: orders.KindTransfer,
				From: s.FromAddress, To: addrs.Operational, TokenID: s.TokenID, Amount: s.Amount,
			}
			bridgeOutFields := merkle.OrderLeafFields{
				BatchID: working.ID, OrderID: orderID16(j.bridgeOutID), Kind: orders.KindBridgeOut,
				From: common.Address{}, To: addrs.Payout, TokenID: s.TokenID, Amount: s.Amount,
			}

			triples[idx] = [3]LeafRecord{
				{OrderID: s.ID, Fields: sellerFields, Hash: merkle.OrderLeaf(sellerFields)},
				{OrderID: j.transferID, Fields: transferFields, Hash: merkle.OrderLeaf(transferFields)},
				{OrderID: j.bridgeOutID, Fields: bridgeOutFields, Hash: merkle.OrderLeaf(bridgeOutFields)},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	leaves := make([]LeafRecord, 0, len(jobs)*3)
	hashes := make([]merkle.Root, 0, len(jobs)*3)
	for _, triple := range triples {
		for _, rec := range triple {
			rec.Index = len(leaves)
			leaves = append(leaves, rec)
			hashes = append(hashes, rec.Hash)
		}
	}
	newOrdersRoot := merkle.Build(hashes).Root()

	// step 7: request proof. No builder lock is held here: the prover
	// call may suspend for seconds to minutes and must not block
	// other readers of the builder's current-batch state.
	public := proof.PublicInputs{
		BatchID:        working.ID,
		PrevBatchID:    working.PrevBatchID,
		PrevStateRoot:  working.PrevStateRoot,
		PrevOrdersRoot: working.PrevOrdersRoot,
		NewStateRoot:   newStateRoot,
		NewOrdersRoot:  newOrdersRoot,
	}
	proofBytes, err := b.prover.Prove(public, proof.BatchWitness{Public: public})
	if err != nil {
		return nil, err
	}

	// step 8: seal. This is the commit point: everything after this is
	// immutable, and only chain submission may still fail (retried
	// idempotently on (batch_id, proof) by the chain adapter).
	for _, j := range jobs {
		if _, err := b.store.Transition(context.Background(), j.seller.ID, j.seller.UpdatedAt, orders.StatusSettled, func(mut *orders.Order) {
			id := j.onChainID
			mut.OnChainOrderID = &id
		}); err != nil {
			return nil, fmt.Errorf("fatal: seal seller order %s: %w", j.seller.ID, err)
		}
	}

	working.NewStateRoot = newStateRoot
	working.NewOrdersRoot = newOrdersRoot
	working.Proof = proofBytes
	working.Leaves = leaves
	working.Status = StatusSubmitting
	return working, nil
}

// GetClaimProof implements get_claim_proof: reconstructs the BridgeOut
// leaf for onChainOrderID within batchID and returns its inclusion
// path against the batch's orders root.
func (b *Builder) GetClaimProof(batchID uint32, onChainOrderID uint64) (merkle.OrderLeafFields, []merkle.Root, error) {
	b.mu.Lock()
	bt, ok := b.batches[batchID]
	b.mu.Unlock()
	if !ok {
		return merkle.OrderLeafFields{}, nil, ErrNotFound
	}

	hashes := make([]merkle.Root, len(bt.Leaves))
	for i, l := range bt.Leaves {
		hashes[i] = l.Hash
	}
	tree := merkle.Build(hashes)

	for _, l := range bt.Leaves {
		if l.Fields.Kind != orders.KindBridgeOut {
			continue
		}
		o, err := b.store.Get(context.Background(), l.OrderID)
		if err != nil {
			continue
		}
		if o.OnChainOrderID != nil && *o.OnChainOrderID == onChainOrderID {
			return l.Fields, tree.Proof(l.Index), nil
		}
	}
	return merkle.OrderLeafFields{}, nil, ErrNotFound
}

// Get returns a sealed or in-flight batch by id.
func (b *Builder) Get(batchID uint32) (*Batch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bt, ok := b.batches[batchID]
	if !ok {
		return nil, ErrNotFound
	}
	return bt.clone(), nil
}

// MarkSubmitted records chain confirmation of a sealed batch (called
// by the chain adapter once submitProof lands).
func (b *Builder) MarkSubmitted(batchID uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bt, ok := b.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	bt.Status = StatusSubmitted
	return nil
}

func orderID16(id uuid.UUID) [16]byte {
	var out [16]byte
	copy(out[:], id[:])
	return out
}
