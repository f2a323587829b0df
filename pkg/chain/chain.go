// Package chain implements the chain adapter (C8): inbound deposit
// event ingestion over a websocket feed, deduplicated by
// (tx_hash, log_index), and outbound proof submission with idempotent
// retry. Grounded on the bridge package's staged request lifecycle,
// replacing its placeholder lock/confirm/complete calls with real
// event consumption and a retried RPC submission.
package chain

import (
	"context"
	"errors"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/offramp-labs/settlement-core/pkg/batch"
	"github.com/offramp-labs/settlement-core/pkg/orders"
	"github.com/offramp-labs/settlement-core/pkg/proof"
	"golang.org/x/sync/errgroup"
)

// DepositEvent mirrors the bridge contract's Deposited log (§6).
type DepositEvent struct {
	TxHash      common.Hash
	LogIndex    uint
	From        common.Address
	To          common.Address
	TokenID     *big.Int
	Amount      *big.Int
	BankingHash [32]byte
}

type eventKey struct {
	txHash   common.Hash
	logIndex uint
}

// EventSource is anything that can stream deposit events; satisfied in
// production by a websocket subscription to the bridge contract's
// logs, and by a simple channel in tests.
type EventSource interface {
	Events() <-chan DepositEvent
	Close() error
}

// Submitter sends a sealed batch's proof to the verifier contract.
// Satisfied in production by an ethclient-backed transactor; tests use
// a fake that records calls.
type Submitter interface {
	SubmitProof(ctx context.Context, payload []byte) (common.Hash, error)
	Confirmed(ctx context.Context, txHash common.Hash) (bool, error)
}

// Adapter wires deposit ingestion to the order store and sealed-batch
// submission to a Submitter, with exponential backoff on transient
// failures per §7.
type Adapter struct {
	store     orders.Store
	builder   *batch.Builder
	submitter Submitter
	logger    *log.Logger

	seen map[eventKey]struct{}

	submitQueue chan uint32
	backoffBase time.Duration
	backoffMax  time.Duration
}

// Config collects the adapter's operator-tunable retry parameters.
type Config struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// New constructs a chain adapter over the given order store, batch
// builder, and on-chain submitter.
func New(store orders.Store, builder *batch.Builder, submitter Submitter, cfg Config, logger *log.Logger) *Adapter {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Adapter{
		store:       store,
		builder:     builder,
		submitter:   submitter,
		logger:      logger,
		seen:        make(map[eventKey]struct{}),
		submitQueue: make(chan uint32, 64),
		backoffBase: cfg.BackoffBase,
		backoffMax:  cfg.BackoffMax,
	}
}

// Run starts the Chain-Watcher and Chain-Submitter tasks under one
// cancellable errgroup: either task returning an error cancels the
// other via the shared context, and Run returns once both have exited.
func (a *Adapter) Run(ctx context.Context, src EventSource) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Watch(gctx, src) })
	g.Go(func() error { return a.Submit(gctx) })
	return g.Wait()
}

// Watch is the Chain-Watcher task: consumes events serially in the
// order the source delivers them (assumed to be (block_number,
// log_index) order), deduplicating and creating BridgeIn orders.
func (a *Adapter) Watch(ctx context.Context, src EventSource) error {
	defer src.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-src.Events():
			if !ok {
				return nil
			}
			if err := a.ingest(ctx, ev); err != nil {
				a.logger.Printf("chain: ingest %s#%d failed: %v", ev.TxHash, ev.LogIndex, err)
			}
		}
	}
}

// ingest applies idempotent deposit ingestion: at-least-once delivery
// from the event source is assumed, so a previously seen
// (tx_hash, log_index) is a silent no-op rather than an error.
func (a *Adapter) ingest(ctx context.Context, ev DepositEvent) error {
	k := eventKey{txHash: ev.TxHash, logIndex: ev.LogIndex}
	if _, dup := a.seen[k]; dup {
		return nil
	}

	_, err := a.store.Create(ctx, orders.KindBridgeIn, ev.From, ev.To, ev.TokenID, ev.Amount, ev.BankingHash)
	if err != nil {
		return err
	}
	a.seen[k] = struct{}{}
	return nil
}

// QueueSubmission enqueues a sealed batch for the Chain-Submitter
// task. Non-blocking up to the queue's capacity; callers that would
// block instead surface a Transient condition to the caller.
func (a *Adapter) QueueSubmission(batchID uint32) error {
	select {
	case a.submitQueue <- batchID:
		return nil
	default:
		return errors.New("chain: submission queue full")
	}
}

// Submit is the Chain-Submitter task: drains the queue of sealed
// batches and submits each with bounded exponential backoff. A
// persistent revert is logged and stops the retries; the batch's status
// is not changed and it is not marked Failed. Confirmation marks it
// Submitted.
func (a *Adapter) Submit(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case batchID := <-a.submitQueue:
			a.submitOne(ctx, batchID)
		}
	}
}

func (a *Adapter) submitOne(ctx context.Context, batchID uint32) {
	bt, err := a.builder.Get(batchID)
	if err != nil {
		a.logger.Printf("chain: submit lookup batch %d: %v", batchID, err)
		return
	}

	payload := proof.EncodePublicInputs(proof.PublicInputs{
		BatchID:        bt.ID,
		PrevBatchID:    bt.PrevBatchID,
		PrevStateRoot:  bt.PrevStateRoot,
		PrevOrdersRoot: bt.PrevOrdersRoot,
		NewStateRoot:   bt.NewStateRoot,
		NewOrdersRoot:  bt.NewOrdersRoot,
	})
	payload = append(payload, bt.Proof...)

	backoff := a.backoffBase
	for attempt := 0; ; attempt++ {
		txHash, err := a.submitter.SubmitProof(ctx, payload)
		if err == nil {
			a.awaitConfirmation(ctx, batchID, txHash)
			return
		}
		if isPersistent(err) {
			a.logger.Printf("chain: batch %d submission reverted permanently: %v", batchID, err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > a.backoffMax {
			backoff = a.backoffMax
		}
	}
}

func (a *Adapter) awaitConfirmation(ctx context.Context, batchID uint32, txHash common.Hash) {
	for {
		confirmed, err := a.submitter.Confirmed(ctx, txHash)
		if err == nil && confirmed {
			if err := a.builder.MarkSubmitted(batchID); err != nil {
				a.logger.Printf("chain: mark batch %d submitted: %v", batchID, err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// persistentError marks a Submitter error as a permanent revert rather
// than a transient failure worth retrying.
type persistentError struct{ error }

// Persistent wraps err so submitOne treats it as a permanent revert
// instead of retrying with backoff.
func Persistent(err error) error {
	if err == nil {
		return nil
	}
	return persistentError{err}
}

func isPersistent(err error) bool {
	var p persistentError
	return errors.As(err, &p)
}
