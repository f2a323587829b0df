// Package node wires the settlement core's components (C1-C8) into a
// single process with a Start/Stop lifecycle, the way the teacher's
// node package sequences state/network/consensus startup under one
// cancellable context and a shared WaitGroup.
package node

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/offramp-labs/settlement-core/internal/config"
	"github.com/offramp-labs/settlement-core/pkg/accounts"
	"github.com/offramp-labs/settlement-core/pkg/batch"
	"github.com/offramp-labs/settlement-core/pkg/chain"
	"github.com/offramp-labs/settlement-core/pkg/ledger"
	"github.com/offramp-labs/settlement-core/pkg/matching"
	"github.com/offramp-labs/settlement-core/pkg/orders"
	"github.com/offramp-labs/settlement-core/pkg/proof"
	"github.com/offramp-labs/settlement-core/pkg/rpcapi"
)

// Engine owns every long-lived component of the settlement core and
// the cooperative tasks that drive them (§5): discovery promotion,
// the single batch worker, and the chain watcher/submitter pair.
type Engine struct {
	cfg    *config.Config
	logger *log.Logger

	Orders   orders.Store
	Accounts *accounts.Store
	Ledger   *ledger.Ledger
	Matching *matching.Engine
	Batch    *batch.Builder
	Chain    *chain.Adapter
	RPC      *rpcapi.Service

	eventSource chain.EventSource

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds an Engine and all its collaborators from cfg. It does
// not start any background task; call Start for that.
func New(cfg *config.Config, logger *log.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = log.Default()
	}

	store := orders.NewMemStore()
	acct := accounts.New()
	led := ledger.New()

	matchingEngine := matching.New(store, led, matching.Config{
		DiscoveryInterval: cfg.Discovery.DiscoveryInterval(),
		LockTimeout:       cfg.Discovery.LockTimeout(),
	}, logger)

	prover, err := newProver(cfg.Prover)
	if err != nil {
		return nil, fmt.Errorf("failed to construct prover: %w", err)
	}

	batchBuilder := batch.New(store, acct, led, prover, batch.Config{
		MaxOrdersPerBatch: cfg.Batch.MaxOrdersPerBatch,
	}, logger)

	var eventSource chain.EventSource
	var submitter chain.Submitter
	if cfg.Chain.WebsocketURL != "" {
		eventSource, err = chain.DialWSEventSource(cfg.Chain.WebsocketURL)
		if err != nil {
			return nil, fmt.Errorf("failed to dial chain event feed: %w", err)
		}
	}
	if cfg.Chain.RPCURL != "" {
		submitter, err = newEthSubmitter(cfg.Chain)
		if err != nil {
			return nil, fmt.Errorf("failed to construct chain submitter: %w", err)
		}
	}

	var chainAdapter *chain.Adapter
	if submitter != nil {
		chainAdapter = chain.New(store, batchBuilder, submitter, chain.Config{}, logger)
	}

	rpc := rpcapi.New(store, matchingEngine, led, batchBuilder)

	return &Engine{
		cfg:         cfg,
		logger:      logger,
		Orders:      store,
		Accounts:    acct,
		Ledger:      led,
		Matching:    matchingEngine,
		Batch:       batchBuilder,
		Chain:       chainAdapter,
		RPC:         rpc,
		eventSource: eventSource,
	}, nil
}

func newProver(cfg config.ProverConfig) (proof.Prover, error) {
	switch cfg.Mode {
	case "external":
		return proof.DialExternalProver(cfg.ExternalURL)
	case "mvp", "":
		return proof.NewMVPProver(), nil
	default:
		return nil, fmt.Errorf("unknown prover mode: %s", cfg.Mode)
	}
}

func newEthSubmitter(cfg config.ChainConfig) (*chain.EthSubmitter, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}

	var key *ecdsa.PrivateKey
	if cfg.OperatorKey != "" {
		key, err = crypto.HexToECDSA(cfg.OperatorKey)
		if err != nil {
			return nil, fmt.Errorf("parse operator key: %w", err)
		}
	}

	verifier := common.HexToAddress(cfg.VerifierAddress)
	chainID := big.NewInt(cfg.ChainID)
	return chain.NewEthSubmitter(client, chainID, key, verifier), nil
}

// Start launches every cooperative task (discovery promotion, the
// batch worker, the chain watcher/submitter) under one cancellable
// context. It returns once all tasks have been launched, not once
// they exit; call Stop to wait for shutdown.
func (e *Engine) Start(ctx context.Context) error {
	if e.running {
		return fmt.Errorf("engine is already running")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.running = true

	e.logger.Printf("starting settlement engine...")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.Matching.Run(e.ctx); err != nil {
			e.logger.Printf("matching engine stopped: %v", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runBatchWorker(e.ctx)
	}()

	if e.Chain != nil && e.eventSource != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.Chain.Run(e.ctx, e.eventSource); err != nil {
				e.logger.Printf("chain adapter stopped: %v", err)
			}
		}()
	}

	e.logger.Printf("settlement engine started")
	return nil
}

// Stop cancels every running task and waits for them to exit.
func (e *Engine) Stop() error {
	if !e.running {
		return nil
	}
	e.logger.Printf("stopping settlement engine...")
	e.cancel()
	e.wg.Wait()
	e.running = false
	e.logger.Printf("settlement engine stopped")
	return nil
}

// IsRunning reports whether the engine's tasks have been started and
// not yet stopped.
func (e *Engine) IsRunning() bool {
	return e.running
}

// runBatchWorker is the single batch-worker task (§5, §9): on each
// tick it starts a batch and finalizes it, then queues the sealed
// batch for on-chain submission. A Busy condition (a batch already
// building) or an empty candidate set are ordinary, silent outcomes.
func (e *Engine) runBatchWorker(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Batch.BatchInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tickBatch()
		}
	}
}

func (e *Engine) tickBatch() {
	id, err := e.Batch.StartBatch(context.Background())
	if err != nil {
		if err != batch.ErrBusy {
			e.logger.Printf("batch worker: start_batch: %v", err)
		}
		return
	}

	bt, err := e.Batch.FinalizeBatch(context.Background(), id)
	if err != nil {
		e.logger.Printf("batch worker: finalize_batch %d: %v", id, err)
		return
	}
	if len(bt.Leaves) == 0 {
		return
	}

	if e.Chain != nil {
		if err := e.Chain.QueueSubmission(id); err != nil {
			e.logger.Printf("batch worker: queue submission for batch %d: %v", id, err)
		}
	}
}
