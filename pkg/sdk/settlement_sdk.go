// Package sdk provides a thin client over the settlement core's RPC
// surface for sellers and fillers, grounded on the teacher's
// LightChainSDK shape: a single client struct constructed from
// configuration, one method per operation, plain Go values in and
// out. HTTP/REST transport is out of scope, so the client wraps an
// in-process rpcapi.Service rather than dialing a network endpoint;
// a future transport would sit behind the same Service without this
// package changing.
package sdk

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/offramp-labs/settlement-core/internal/config"
	"github.com/offramp-labs/settlement-core/internal/node"
	"github.com/offramp-labs/settlement-core/pkg/ledger"
	"github.com/offramp-labs/settlement-core/pkg/merkle"
	"github.com/offramp-labs/settlement-core/pkg/orders"
	"github.com/offramp-labs/settlement-core/pkg/rpcapi"
)

// Client wraps the settlement engine's RPC surface for a single
// operator process. It owns the engine's lifecycle: Close stops the
// background tasks the same way the daemon's shutdown path does.
type Client struct {
	engine *node.Engine
	rpc    *rpcapi.Service
}

// Dial constructs an engine from the configuration at path, starts its
// background tasks, and returns a client over its RPC surface. This is
// the in-process analogue of dialing a node: there is no network hop,
// but the client is otherwise unaware of that.
func Dial(path string) (*Client, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("sdk: load config: %w", err)
	}
	return New(cfg)
}

// New constructs a client over a freshly-built engine from cfg,
// starting its background tasks.
func New(cfg *config.Config) (*Client, error) {
	engine, err := node.New(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("sdk: construct engine: %w", err)
	}
	if err := engine.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("sdk: start engine: %w", err)
	}
	return &Client{engine: engine, rpc: engine.RPC}, nil
}

// Close stops the underlying engine's background tasks.
func (c *Client) Close() error {
	return c.engine.Stop()
}

// CreateOrder submits a new seller/filler order (create_order).
func (c *Client) CreateOrder(ctx context.Context, kind orders.Kind, from, to common.Address, tokenID, amount *big.Int, bankingHash [32]byte) (*orders.Order, error) {
	return c.rpc.CreateOrder(ctx, kind, from, to, tokenID, amount, bankingHash)
}

// GetOrder fetches a single order by id (get_order).
func (c *Client) GetOrder(ctx context.Context, orderID uuid.UUID) (*orders.Order, error) {
	return c.rpc.GetOrder(ctx, orderID)
}

// ListDiscovery lists orders available for a filler to lock
// (list_discovery).
func (c *Client) ListDiscovery(ctx context.Context, limit int) ([]*orders.Order, error) {
	return c.rpc.ListDiscovery(ctx, limit)
}

// LockOrder claims an order for fulfillment (lock_order).
func (c *Client) LockOrder(ctx context.Context, orderID uuid.UUID, fillerID string, amount *big.Int) (*orders.Order, error) {
	return c.rpc.LockOrder(ctx, orderID, fillerID, amount)
}

// SubmitPaymentProof records a filler's off-chain payment confirmation
// (submit_payment_proof).
func (c *Client) SubmitPaymentProof(ctx context.Context, orderID uuid.UUID, fillerID string, bankingHash [32]byte) (*orders.Order, error) {
	return c.rpc.SubmitPaymentProof(ctx, orderID, fillerID, bankingHash)
}

// GetFillerBalance reads a filler's ledger snapshot for one token
// (get_filler_balance).
func (c *Client) GetFillerBalance(ctx context.Context, fillerID string, tokenID *big.Int) (ledger.Snapshot, error) {
	return c.rpc.GetFillerBalance(ctx, fillerID, tokenID)
}

// PutFillerWallets configures a filler's payout wallet split
// (put_filler_wallets).
func (c *Client) PutFillerWallets(ctx context.Context, fillerID string, wallets []ledger.PayoutWallet) error {
	return c.rpc.PutFillerWallets(ctx, fillerID, wallets)
}

// StartBatch begins building the next batch (start_batch). Normally
// driven by the engine's own ticker; exposed here for operator tooling
// and tests that need to force a cut.
func (c *Client) StartBatch(ctx context.Context) (uint32, error) {
	return c.rpc.StartBatch(ctx)
}

// FinalizeBatch seals a building batch (finalize_batch).
func (c *Client) FinalizeBatch(ctx context.Context, batchID uint32) (rpcapi.FinalizeBatchResult, error) {
	return c.rpc.FinalizeBatch(ctx, batchID)
}

// GetClaimProof fetches an inclusion proof for an on-chain order id
// within a sealed batch (get_claim_proof).
func (c *Client) GetClaimProof(ctx context.Context, batchID uint32, onChainOrderID uint64) (rpcapi.ClaimProofResult, error) {
	return c.rpc.GetClaimProof(ctx, batchID, onChainOrderID)
}

// ToWei scales a decimal token amount to its 18-decimal integer
// representation, matching the convention the on-chain leg expects.
func ToWei(amount float64) *big.Int {
	wei := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(1e18))
	result, _ := wei.Int(nil)
	return result
}

// FromWei converts an 18-decimal integer amount back to a float for
// display.
func FromWei(wei *big.Int) float64 {
	f := new(big.Float).SetInt(wei)
	f = f.Quo(f, big.NewFloat(1e18))
	result, _ := f.Float64()
	return result
}

// MerkleRootHex formats a merkle root the way CLI output and claim
// tooling present it.
func MerkleRootHex(root merkle.Root) string {
	return common.Hash(root).Hex()
}
