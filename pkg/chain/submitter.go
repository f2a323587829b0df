package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthSubmitter sends submitProof transactions to the verifier
// contract over an ethclient connection, using a nonce/gas-price/
// sign/send sequence.
type EthSubmitter struct {
	client     *ethclient.Client
	chainID    *big.Int
	privateKey *ecdsa.PrivateKey
	verifier   common.Address
}

// NewEthSubmitter constructs a submitter bound to the verifier
// contract address, signing transactions with privateKey.
func NewEthSubmitter(client *ethclient.Client, chainID *big.Int, privateKey *ecdsa.PrivateKey, verifier common.Address) *EthSubmitter {
	return &EthSubmitter{client: client, chainID: chainID, privateKey: privateKey, verifier: verifier}
}

// SubmitProof sends payload as calldata to the verifier contract's
// submitProof entry point. A revert surfaced synchronously by the
// node is wrapped with Persistent so the caller does not retry it.
func (e *EthSubmitter) SubmitProof(ctx context.Context, payload []byte) (common.Hash, error) {
	if e.privateKey == nil {
		return common.Hash{}, errors.New("chain: submitter has no signing key configured")
	}

	from := crypto.PubkeyToAddress(e.privateKey.PublicKey)
	nonce, err := e.client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, err
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	tx := types.NewTransaction(nonce, e.verifier, big.NewInt(0), 500000, gasPrice, payload)
	signer := types.NewEIP155Signer(e.chainID)
	signedTx, err := types.SignTx(tx, signer, e.privateKey)
	if err != nil {
		return common.Hash{}, err
	}

	if err := e.client.SendTransaction(ctx, signedTx); err != nil {
		if isRevert(err) {
			return common.Hash{}, Persistent(fmt.Errorf("chain: submitProof reverted: %w", err))
		}
		return common.Hash{}, err
	}
	return signedTx.Hash(), nil
}

// Confirmed reports whether txHash has a mined, successful receipt.
func (e *EthSubmitter) Confirmed(ctx context.Context, txHash common.Hash) (bool, error) {
	receipt, err := e.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return false, nil // not yet mined; not an error worth surfacing
	}
	return receipt.Status == types.ReceiptStatusSuccessful, nil
}

// isRevert is a conservative heuristic: go-ethereum's JSON-RPC clients
// surface contract reverts as plain errors with no dedicated type, so
// the message is all there is to go on.
func isRevert(err error) bool {
	return err != nil && strings.Contains(err.Error(), "revert")
}
