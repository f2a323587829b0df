package rpcapi

import (
	"context"
	"errors"
	"log"
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/offramp-labs/settlement-core/pkg/accounts"
	"github.com/offramp-labs/settlement-core/pkg/batch"
	"github.com/offramp-labs/settlement-core/pkg/ledger"
	"github.com/offramp-labs/settlement-core/pkg/matching"
	"github.com/offramp-labs/settlement-core/pkg/orders"
	"github.com/offramp-labs/settlement-core/pkg/proof"
)

func testLogger() *log.Logger { return log.New(os.Stderr, "", 0) }

func newService(t *testing.T) (*Service, orders.Store, *ledger.Ledger, *batch.Builder, *accounts.Store) {
	t.Helper()
	store := orders.NewMemStore()
	l := ledger.New()
	acct := accounts.New()
	m := matching.New(store, l, matching.Config{}, testLogger())
	b := batch.New(store, acct, l, proof.NewMVPProver(), batch.Config{MaxOrdersPerBatch: 10}, testLogger())
	return New(store, m, l, b), store, l, b, acct
}

func TestServiceEndToEndSettlement(t *testing.T) {
	ctx := context.Background()
	s, store, l, _, acct := newService(t)

	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	op := common.HexToAddress("0x3333333333333333333333333333333333333333")
	pay := common.HexToAddress("0x4444444444444444444444444444444444444444")
	tokenID := big.NewInt(1)

	o, err := s.CreateOrder(ctx, orders.KindBridgeIn, from, to, tokenID, big.NewInt(200), [32]byte{1})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if _, err := s.MarkDiscovery(ctx, o.ID); err != nil {
		t.Fatalf("MarkDiscovery: %v", err)
	}

	discovery, err := s.ListDiscovery(ctx, 10)
	if err != nil {
		t.Fatalf("ListDiscovery: %v", err)
	}
	if len(discovery) != 1 {
		t.Fatalf("discovery list = %d, want 1", len(discovery))
	}

	l.Credit(ctx, "filler-1", tokenID, big.NewInt(200))
	locked, err := s.LockOrder(ctx, o.ID, "filler-1", big.NewInt(200))
	if err != nil {
		t.Fatalf("LockOrder: %v", err)
	}

	if _, err := s.SubmitPaymentProof(ctx, locked.ID, "filler-1", [32]byte{9}); err != nil {
		t.Fatalf("SubmitPaymentProof: %v", err)
	}

	if err := s.PutFillerWallets(ctx, "filler-1", []ledger.PayoutWallet{{Address: pay, Percentage: 100}}); err != nil {
		t.Fatalf("PutFillerWallets: %v", err)
	}
	l.SetAddresses("filler-1", ledger.Addresses{Operational: op, Payout: pay})
	if _, err := acct.Apply([]accounts.Delta{{Address: from, TokenID: tokenID, Amount: big.NewInt(200)}}); err != nil {
		t.Fatalf("seed payer balance: %v", err)
	}

	batchID, err := s.StartBatch(ctx)
	if err != nil {
		t.Fatalf("StartBatch: %v", err)
	}
	result, err := s.FinalizeBatch(ctx, batchID)
	if err != nil {
		t.Fatalf("FinalizeBatch: %v", err)
	}
	if result.OrdersCount != 3 {
		t.Fatalf("orders count = %d, want 3", result.OrdersCount)
	}
	if len(result.Proof) == 0 {
		t.Fatal("expected a non-empty proof")
	}

	bal, err := s.GetFillerBalance(ctx, "filler-1", tokenID)
	if err != nil {
		t.Fatalf("GetFillerBalance: %v", err)
	}
	if bal.Locked.Sign() != 0 {
		t.Fatalf("locked balance = %s, want 0 after settlement", bal.Locked)
	}
	if bal.CompletedJobs != 1 {
		t.Fatalf("completed jobs = %d, want 1", bal.CompletedJobs)
	}

	bridgeOuts := store.ListByStatusKind(orders.StatusSettled, orders.KindBridgeOut)
	if len(bridgeOuts) != 1 {
		t.Fatalf("bridge outs = %d, want 1", len(bridgeOuts))
	}
	claim, err := s.GetClaimProof(ctx, batchID, *bridgeOuts[0].OnChainOrderID)
	if err != nil {
		t.Fatalf("GetClaimProof: %v", err)
	}
	if claim.Leaf.Kind != orders.KindBridgeOut {
		t.Fatalf("claim leaf kind = %v, want BridgeOut", claim.Leaf.Kind)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	s, _, _, _, _ := newService(t)
	_, err := s.GetOrder(context.Background(), uuid.New())
	if !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("err = %v, want orders.ErrNotFound for an unknown order id", err)
	}
}

func TestServiceMethodsSurfaceCancelled(t *testing.T) {
	s, _, _, _, _ := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.CreateOrder(ctx, orders.KindBridgeIn, common.Address{}, common.Address{}, big.NewInt(1), big.NewInt(1), [32]byte{}); !errors.Is(err, ErrCancelled) {
		t.Fatalf("CreateOrder err = %v, want ErrCancelled", err)
	}
	if _, err := s.GetOrder(ctx, uuid.New()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("GetOrder err = %v, want ErrCancelled", err)
	}
	if _, err := s.StartBatch(ctx); !errors.Is(err, ErrCancelled) {
		t.Fatalf("StartBatch err = %v, want ErrCancelled", err)
	}
	if _, err := s.FinalizeBatch(ctx, 1); !errors.Is(err, ErrCancelled) {
		t.Fatalf("FinalizeBatch err = %v, want ErrCancelled", err)
	}
	if err := s.PutFillerWallets(ctx, "filler-1", nil); !errors.Is(err, ErrCancelled) {
		t.Fatalf("PutFillerWallets err = %v, want ErrCancelled", err)
	}
}
