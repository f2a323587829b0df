package merkle

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestOrderLeafDeterministic(t *testing.T) {
	f := OrderLeafFields{
		BatchID: 3,
		OrderID: [16]byte{1, 2, 3},
		Kind:    KindTransfer,
		From:    common.HexToAddress("0x1111111111111111111111111111111111111111"),
		To:      common.HexToAddress("0x2222222222222222222222222222222222222222"),
		TokenID: big.NewInt(7),
		Amount:  big.NewInt(1000),
	}
	a := OrderLeaf(f)
	b := OrderLeaf(f)
	if a != b {
		t.Fatal("OrderLeaf is not deterministic for identical fields")
	}
}

func TestOrderLeafSensitiveToEveryField(t *testing.T) {
	base := OrderLeafFields{
		BatchID: 1,
		OrderID: [16]byte{9},
		Kind:    KindBridgeIn,
		From:    common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		To:      common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		TokenID: big.NewInt(1),
		Amount:  big.NewInt(100),
	}
	baseHash := OrderLeaf(base)

	variants := []OrderLeafFields{base, base, base, base, base, base, base}
	variants[0].BatchID = 2
	variants[1].OrderID = [16]byte{8}
	variants[2].Kind = KindBridgeOut
	variants[3].From = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	variants[4].To = common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")
	variants[5].TokenID = big.NewInt(2)
	variants[6].Amount = big.NewInt(200)

	for i, v := range variants {
		if OrderLeaf(v) == baseHash {
			t.Fatalf("variant %d did not change the leaf hash", i)
		}
	}
}

func TestAccountLeafDeterministicAndSensitive(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	token := big.NewInt(1)
	bal := big.NewInt(500)

	a := AccountLeaf(addr, token, bal)
	b := AccountLeaf(addr, token, bal)
	if a != b {
		t.Fatal("AccountLeaf is not deterministic")
	}

	if AccountLeaf(addr, token, big.NewInt(501)) == a {
		t.Fatal("AccountLeaf did not change with balance")
	}
	if AccountLeaf(addr, big.NewInt(2), bal) == a {
		t.Fatal("AccountLeaf did not change with token id")
	}
}

func TestEncodeUintLeftPads(t *testing.T) {
	got := encodeUint(big.NewInt(1))
	if len(got) != 32 {
		t.Fatalf("encodeUint length = %d, want 32", len(got))
	}
	for i := 0; i < 31; i++ {
		if got[i] != 0 {
			t.Fatalf("encodeUint byte %d = %d, want 0", i, got[i])
		}
	}
	if got[31] != 1 {
		t.Fatalf("encodeUint last byte = %d, want 1", got[31])
	}
}

func TestEncodeAddressRightAligned(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	got := encodeAddress(addr)
	for i := 0; i < 12; i++ {
		if got[i] != 0 {
			t.Fatalf("encodeAddress byte %d = %d, want 0", i, got[i])
		}
	}
}
