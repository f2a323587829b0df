// Package accounts implements the account state store (C2): a keyed
// map of (address, token_id) -> balance with atomic delta application
// and a deterministic keccak state-tree snapshot.
package accounts

import (
	"errors"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/offramp-labs/settlement-core/pkg/merkle"
)

// ErrNegativeBalance is returned when applying a set of deltas would
// drive any account below zero. No deltas in the batch are applied.
var ErrNegativeBalance = errors.New("accounts: resulting balance would be negative")

// Delta is one signed balance change to apply atomically alongside others.
type Delta struct {
	Address common.Address
	TokenID *big.Int
	Amount  *big.Int // signed
}

type key struct {
	address common.Address
	tokenID string
}

func accountKey(address common.Address, tokenID *big.Int) key {
	return key{address: address, tokenID: tokenID.String()}
}

// Leaf is one (address, token_id, balance) row as returned by Snapshot,
// in canonical leaf order.
type Leaf struct {
	Address common.Address
	TokenID *big.Int
	Balance *big.Int
}

// Store is the in-memory account state store. Mutation is serialized
// by a single mutex: apply() is specified as atomic over the whole
// delta set, which a per-key lock cannot provide without two-phase
// locking, so a single coarse lock is the simplest correct choice
// (§5 "the account state store... is the only writable shared state").
type Store struct {
	mu       sync.RWMutex
	balances map[key]*big.Int
	tokenOf  map[key]*big.Int // preserves the original *big.Int for snapshot ordering
}

// New constructs an empty account state store.
func New() *Store {
	return &Store{
		balances: make(map[key]*big.Int),
		tokenOf:  make(map[key]*big.Int),
	}
}

// Get returns the balance at (address, token_id), defaulting to 0 for
// an account that has never been credited.
func (s *Store) Get(address common.Address, tokenID *big.Int) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.balances[accountKey(address, tokenID)]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

// Apply applies every delta in the batch atomically: either all of
// them land, or none do. A resulting negative balance aborts the
// whole call with ErrNegativeBalance and leaves the store unchanged.
// Accounts are created lazily on first credit, per the entity
// invariant; none are ever removed, even if a later delta zeroes them.
func (s *Store) Apply(deltas []Delta) (merkle.Root, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// compute resulting balances in a scratch map first so a
	// mid-batch failure touches nothing.
	scratch := make(map[key]*big.Int, len(deltas))
	tokens := make(map[key]*big.Int, len(deltas))
	for _, d := range deltas {
		k := accountKey(d.Address, d.TokenID)
		cur, ok := scratch[k]
		if !ok {
			if existing, present := s.balances[k]; present {
				cur = new(big.Int).Set(existing)
			} else {
				cur = big.NewInt(0)
			}
		}
		cur = new(big.Int).Add(cur, d.Amount)
		if cur.Sign() < 0 {
			return merkle.Root{}, ErrNegativeBalance
		}
		scratch[k] = cur
		tokens[k] = d.TokenID
	}

	for k, bal := range scratch {
		s.balances[k] = bal
		s.tokenOf[k] = tokens[k]
	}

	return s.rootLocked(), nil
}

// Snapshot returns the canonical ordering of account leaves (ascending
// by (address, token_id) lexicographic byte order) and the keccak
// state-tree root of those leaves.
func (s *Store) Snapshot() (merkle.Root, []Leaf) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootLocked(), s.leavesLocked()
}

func (s *Store) leavesLocked() []Leaf {
	leaves := make([]Leaf, 0, len(s.balances))
	for k, bal := range s.balances {
		leaves = append(leaves, Leaf{
			Address: k.address,
			TokenID: s.tokenOf[k],
			Balance: new(big.Int).Set(bal),
		})
	}
	sort.Slice(leaves, func(i, j int) bool {
		ai, aj := leaves[i].Address.Bytes(), leaves[j].Address.Bytes()
		for x := 0; x < len(ai); x++ {
			if ai[x] != aj[x] {
				return ai[x] < aj[x]
			}
		}
		return leaves[i].TokenID.Cmp(leaves[j].TokenID) < 0
	})
	return leaves
}

func (s *Store) rootLocked() merkle.Root {
	leaves := s.leavesLocked()
	hashes := make([]merkle.Root, len(leaves))
	for i, l := range leaves {
		hashes[i] = merkle.AccountLeaf(l.Address, l.TokenID, l.Balance)
	}
	return merkle.Build(hashes).Root()
}
