package merkle

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// OrderKind mirrors the kind tag carried on every order leaf. Defined
// here (not in the orders package) so the leaf encoding has no
// dependency on order-store bookkeeping types.
type OrderKind uint8

const (
	KindBridgeIn  OrderKind = 0
	KindBridgeOut OrderKind = 1
	KindTransfer  OrderKind = 2
)

// OrderLeafFields are the exact fields committed into an orders-tree leaf.
type OrderLeafFields struct {
	BatchID uint32
	OrderID [16]byte // u256-slot encoded, but ids are 128-bit
	Kind    OrderKind
	From    common.Address
	To      common.Address
	TokenID *big.Int
	Amount  *big.Int
}

// OrderLeaf computes keccak256(encode(batch_id, order_id, kind, from, to,
// token_id, amount)) using 32-byte big-endian slots, matching the
// on-chain verifier's ABI-style packing exactly. From is the zero
// address for BridgeOut leaves per the spec's chosen convention (§9).
func OrderLeaf(f OrderLeafFields) Root {
	buf := make([]byte, 0, 7*32)
	buf = append(buf, encodeUint(new(big.Int).SetUint64(uint64(f.BatchID)))...)
	buf = append(buf, encodeBytes16(f.OrderID)...)
	buf = append(buf, encodeUint(new(big.Int).SetUint64(uint64(f.Kind)))...)
	buf = append(buf, encodeAddress(f.From)...)
	buf = append(buf, encodeAddress(f.To)...)
	buf = append(buf, encodeUint(f.TokenID)...)
	buf = append(buf, encodeUint(f.Amount)...)
	return Root(crypto.Keccak256Hash(buf))
}

// AccountLeaf computes keccak256(encode(address, token_id, balance)).
func AccountLeaf(address common.Address, tokenID *big.Int, balance *big.Int) Root {
	buf := make([]byte, 0, 3*32)
	buf = append(buf, encodeAddress(address)...)
	buf = append(buf, encodeUint(tokenID)...)
	buf = append(buf, encodeUint(balance)...)
	return Root(crypto.Keccak256Hash(buf))
}

// encodeUint left-pads v into a 32-byte big-endian slot.
func encodeUint(v *big.Int) []byte {
	var u uint256.Int
	u.SetFromBig(v)
	b := u.Bytes32()
	return b[:]
}

// encodeAddress right-aligns a 20-byte address into a 32-byte slot.
func encodeAddress(a common.Address) []byte {
	var slot [32]byte
	copy(slot[12:], a.Bytes())
	return slot[:]
}

// encodeBytes16 right-aligns a 16-byte order id into a 32-byte slot,
// matching the u256 encoding the verifier uses for order ids.
func encodeBytes16(id [16]byte) []byte {
	var slot [32]byte
	copy(slot[16:], id[:])
	return slot[:]
}
