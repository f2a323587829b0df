package proof

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

// ExternalProver calls out to a production proving service over JSON-RPC,
// dialed with go-ethereum's rpc.Client. It marshals the BatchWitness it
// is given and invokes a single "settlement_prove" method, surfacing
// ErrProverUnavailable for transport-level
// failures and ErrProverRejected when the service itself rejects the
// witness.
type ExternalProver struct {
	client *rpc.Client
}

// DialExternalProver connects to a prover service at url.
func DialExternalProver(url string) (*ExternalProver, error) {
	client, err := rpc.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProverUnavailable, err)
	}
	return &ExternalProver{client: client}, nil
}

type proveRequest struct {
	Public PublicInputs `json:"public"`
	Witness BatchWitness `json:"witness"`
}

type proveResponse struct {
	Proof   []byte `json:"proof"`
	Rejected bool  `json:"rejected"`
	Reason   string `json:"reason"`
}

// Prove implements Prover by calling the "settlement_prove" RPC method.
func (p *ExternalProver) Prove(inputs PublicInputs, witness BatchWitness) ([]byte, error) {
	var resp proveResponse
	err := p.client.CallContext(context.Background(), &resp, "settlement_prove", proveRequest{
		Public:  inputs,
		Witness: witness,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProverUnavailable, err)
	}
	if resp.Rejected {
		return nil, fmt.Errorf("%w: %s", ErrProverRejected, resp.Reason)
	}
	if len(resp.Proof) == 0 {
		return nil, errors.New("proof: external prover returned empty proof")
	}
	return resp.Proof, nil
}

// Close releases the underlying RPC connection.
func (p *ExternalProver) Close() {
	p.client.Close()
}
