package accounts

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	addrA = common.HexToAddress("0x1111111111111111111111111111111111111111")
	addrB = common.HexToAddress("0x2222222222222222222222222222222222222222")
	token = big.NewInt(1)
)

func TestGetDefaultsToZero(t *testing.T) {
	s := New()
	if s.Get(addrA, token).Sign() != 0 {
		t.Fatal("unknown account should default to zero")
	}
}

func TestApplyCreditThenDebit(t *testing.T) {
	s := New()
	if _, err := s.Apply([]Delta{{Address: addrA, TokenID: token, Amount: big.NewInt(100)}}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if got := s.Get(addrA, token); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("balance = %s, want 100", got)
	}

	if _, err := s.Apply([]Delta{{Address: addrA, TokenID: token, Amount: big.NewInt(-40)}}); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if got := s.Get(addrA, token); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("balance = %s, want 60", got)
	}
}

func TestApplyRejectsNegativeResultAndTouchesNothing(t *testing.T) {
	s := New()
	s.Apply([]Delta{{Address: addrA, TokenID: token, Amount: big.NewInt(10)}})

	_, err := s.Apply([]Delta{
		{Address: addrA, TokenID: token, Amount: big.NewInt(-100)},
		{Address: addrB, TokenID: token, Amount: big.NewInt(500)},
	})
	if !errors.Is(err, ErrNegativeBalance) {
		t.Fatalf("err = %v, want ErrNegativeBalance", err)
	}

	if got := s.Get(addrA, token); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("addrA balance = %s, want unchanged 10", got)
	}
	if got := s.Get(addrB, token); got.Sign() != 0 {
		t.Fatalf("addrB balance = %s, want unchanged 0", got)
	}
}

func TestApplyConservesValueAcrossTransfer(t *testing.T) {
	s := New()
	s.Apply([]Delta{{Address: addrA, TokenID: token, Amount: big.NewInt(1000)}})

	totalBefore := s.Get(addrA, token)
	totalBefore.Add(totalBefore, s.Get(addrB, token))

	if _, err := s.Apply([]Delta{
		{Address: addrA, TokenID: token, Amount: big.NewInt(-300)},
		{Address: addrB, TokenID: token, Amount: big.NewInt(300)},
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	totalAfter := s.Get(addrA, token)
	totalAfter.Add(totalAfter, s.Get(addrB, token))

	if totalBefore.Cmp(totalAfter) != 0 {
		t.Fatalf("value was not conserved: before=%s after=%s", totalBefore, totalAfter)
	}
}

func TestApplyMultipleDeltasSameAccountInOneCall(t *testing.T) {
	s := New()
	_, err := s.Apply([]Delta{
		{Address: addrA, TokenID: token, Amount: big.NewInt(100)},
		{Address: addrA, TokenID: token, Amount: big.NewInt(-30)},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := s.Get(addrA, token); got.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("balance = %s, want 70", got)
	}
}

func TestSnapshotRootDeterministicAndOrderIndependent(t *testing.T) {
	s1 := New()
	s1.Apply([]Delta{{Address: addrA, TokenID: token, Amount: big.NewInt(5)}})
	s1.Apply([]Delta{{Address: addrB, TokenID: token, Amount: big.NewInt(7)}})

	s2 := New()
	s2.Apply([]Delta{{Address: addrB, TokenID: token, Amount: big.NewInt(7)}})
	s2.Apply([]Delta{{Address: addrA, TokenID: token, Amount: big.NewInt(5)}})

	root1, leaves1 := s1.Snapshot()
	root2, leaves2 := s2.Snapshot()

	if root1 != root2 {
		t.Fatal("state root depends on delta application order")
	}
	if len(leaves1) != 2 || len(leaves2) != 2 {
		t.Fatalf("expected 2 leaves in each snapshot, got %d and %d", len(leaves1), len(leaves2))
	}
}

func TestSnapshotCanonicalAddressOrder(t *testing.T) {
	s := New()
	s.Apply([]Delta{{Address: addrB, TokenID: token, Amount: big.NewInt(1)}})
	s.Apply([]Delta{{Address: addrA, TokenID: token, Amount: big.NewInt(1)}})

	_, leaves := s.Snapshot()
	if len(leaves) != 2 {
		t.Fatalf("want 2 leaves, got %d", len(leaves))
	}
	if leaves[0].Address != addrA || leaves[1].Address != addrB {
		t.Fatalf("leaves not in canonical ascending address order: %v", leaves)
	}
}
