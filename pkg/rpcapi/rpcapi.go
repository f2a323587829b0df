// Package rpcapi implements the §6 RPC surface as a transport-agnostic
// service struct: one method per operation, taking a context first and
// returning plain Go values/errors. Grounded on the EthAPI/Backend
// service-struct shape, generalized from Ethereum JSON-RPC methods to
// the settlement core's order/ledger/batch operations. A JSON-over-
// HTTP transport (or any other) wraps this service without touching
// its logic.
package rpcapi

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/offramp-labs/settlement-core/pkg/batch"
	"github.com/offramp-labs/settlement-core/pkg/ledger"
	"github.com/offramp-labs/settlement-core/pkg/matching"
	"github.com/offramp-labs/settlement-core/pkg/merkle"
	"github.com/offramp-labs/settlement-core/pkg/orders"
)

// ErrCancelled is returned by every Service method when the caller's
// context is already done (§5 "Cancellation and timeouts", §7
// "Cancelled"). It is checked once at each method's entry, the RPC
// surface's own suspension point, ahead of any store or ledger call.
var ErrCancelled = errors.New("rpcapi: cancelled")

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return nil
}

// Service implements every operation in the external RPC surface over
// an order store, matching engine, filler ledger, and batch builder.
type Service struct {
	store    orders.Store
	matching *matching.Engine
	ledger   *ledger.Ledger
	builder  *batch.Builder
}

// New constructs the RPC service over its collaborators.
func New(store orders.Store, m *matching.Engine, l *ledger.Ledger, b *batch.Builder) *Service {
	return &Service{store: store, matching: m, ledger: l, builder: b}
}

// CreateOrder implements create_order.
func (s *Service) CreateOrder(ctx context.Context, kind orders.Kind, from, to common.Address, tokenID, amount *big.Int, bankingHash [32]byte) (*orders.Order, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	return s.store.Create(ctx, kind, from, to, tokenID, amount, bankingHash)
}

// GetOrder implements get_order.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*orders.Order, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, orderID)
}

// ListDiscovery implements list_discovery.
func (s *Service) ListDiscovery(ctx context.Context, limit int) ([]*orders.Order, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	return s.matching.ListDiscovery(limit), nil
}

// LockOrder implements lock_order.
func (s *Service) LockOrder(ctx context.Context, orderID uuid.UUID, fillerID string, amount *big.Int) (*orders.Order, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	return s.matching.LockOrder(ctx, orderID, fillerID, amount)
}

// SubmitPaymentProof implements submit_payment_proof.
func (s *Service) SubmitPaymentProof(ctx context.Context, orderID uuid.UUID, fillerID string, bankingHash [32]byte) (*orders.Order, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	return s.matching.SubmitPaymentProof(ctx, orderID, fillerID, bankingHash)
}

// MarkDiscovery implements mark_discovery.
func (s *Service) MarkDiscovery(ctx context.Context, orderID uuid.UUID) (*orders.Order, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	return s.matching.MarkDiscovery(ctx, orderID)
}

// GetFillerBalance implements get_filler_balance.
func (s *Service) GetFillerBalance(ctx context.Context, fillerID string, tokenID *big.Int) (ledger.Snapshot, error) {
	if err := checkCancelled(ctx); err != nil {
		return ledger.Snapshot{}, err
	}
	return s.ledger.Read(fillerID, tokenID), nil
}

// PutFillerWallets implements put_filler_wallets.
func (s *Service) PutFillerWallets(ctx context.Context, fillerID string, wallets []ledger.PayoutWallet) error {
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	return s.ledger.PutWallets(ctx, fillerID, wallets)
}

// StartBatch implements start_batch.
func (s *Service) StartBatch(ctx context.Context) (uint32, error) {
	if err := checkCancelled(ctx); err != nil {
		return 0, err
	}
	return s.builder.StartBatch(ctx)
}

// FinalizeBatchResult is the response shape for finalize_batch.
type FinalizeBatchResult struct {
	NewStateRoot  merkle.Root
	NewOrdersRoot merkle.Root
	Proof         []byte
	OrdersCount   int
}

// FinalizeBatch implements finalize_batch.
func (s *Service) FinalizeBatch(ctx context.Context, batchID uint32) (FinalizeBatchResult, error) {
	if err := checkCancelled(ctx); err != nil {
		return FinalizeBatchResult{}, err
	}
	bt, err := s.builder.FinalizeBatch(ctx, batchID)
	if err != nil {
		return FinalizeBatchResult{}, err
	}
	return FinalizeBatchResult{
		NewStateRoot:  bt.NewStateRoot,
		NewOrdersRoot: bt.NewOrdersRoot,
		Proof:         bt.Proof,
		OrdersCount:   len(bt.Leaves),
	}, nil
}

// ClaimProofResult is the response shape for get_claim_proof.
type ClaimProofResult struct {
	Leaf merkle.OrderLeafFields
	Path []merkle.Root
}

// GetClaimProof implements get_claim_proof.
func (s *Service) GetClaimProof(ctx context.Context, batchID uint32, onChainOrderID uint64) (ClaimProofResult, error) {
	if err := checkCancelled(ctx); err != nil {
		return ClaimProofResult{}, err
	}
	leaf, path, err := s.builder.GetClaimProof(batchID, onChainOrderID)
	if err != nil {
		return ClaimProofResult{}, err
	}
	return ClaimProofResult{Leaf: leaf, Path: path}, nil
}
