package chain

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
)

// wireDeposit is the JSON shape of one Deposited log frame pushed by
// the bridge node's event feed.
type wireDeposit struct {
	TxHash      string `json:"tx_hash"`
	LogIndex    uint   `json:"log_index"`
	From        string `json:"from"`
	To          string `json:"to"`
	TokenID     string `json:"token_id"`
	Amount      string `json:"amount"`
	BankingHash string `json:"banking_hash"`
}

// WSEventSource subscribes to the bridge contract's Deposited events
// over a websocket feed exposed by the chain RPC node, translating
// each frame into a DepositEvent. Reconnection is the caller's
// responsibility: a dropped connection closes the Events channel.
type WSEventSource struct {
	conn   *websocket.Conn
	events chan DepositEvent
	done   chan struct{}
}

// DialWSEventSource opens a websocket connection to url and begins
// reading Deposited event frames in a background goroutine.
func DialWSEventSource(url string) (*WSEventSource, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: dial event feed: %w", err)
	}

	src := &WSEventSource{
		conn:   conn,
		events: make(chan DepositEvent, 256),
		done:   make(chan struct{}),
	}
	go src.readLoop()
	return src, nil
}

func (s *WSEventSource) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var w wireDeposit
		if err := json.Unmarshal(data, &w); err != nil {
			continue // malformed frame; skip rather than kill the feed
		}

		ev, err := w.toDepositEvent()
		if err != nil {
			continue
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (w *wireDeposit) toDepositEvent() (DepositEvent, error) {
	tokenID, ok := new(big.Int).SetString(w.TokenID, 10)
	if !ok {
		return DepositEvent{}, fmt.Errorf("chain: malformed token_id %q", w.TokenID)
	}
	amount, ok := new(big.Int).SetString(w.Amount, 10)
	if !ok {
		return DepositEvent{}, fmt.Errorf("chain: malformed amount %q", w.Amount)
	}

	var bankingHash [32]byte
	copy(bankingHash[:], common.FromHex(w.BankingHash))

	return DepositEvent{
		TxHash:      common.HexToHash(w.TxHash),
		LogIndex:    w.LogIndex,
		From:        common.HexToAddress(w.From),
		To:          common.HexToAddress(w.To),
		TokenID:     tokenID,
		Amount:      amount,
		BankingHash: bankingHash,
	}, nil
}

// Events returns the channel of decoded deposit events.
func (s *WSEventSource) Events() <-chan DepositEvent { return s.events }

// Close terminates the read loop and closes the underlying connection.
func (s *WSEventSource) Close() error {
	close(s.done)
	return s.conn.Close()
}
