package agentnft

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentNFT-Chain/internal/types"
)

// Signer builds and signs transactions for one key. It tracks the next nonce
// locally after the first lookup, so consecutive sends do not wait for
// inclusion.
type Signer struct {
	client  *Client
	key     *ecdsa.PrivateKey
	address common.Address
	chainID uint64

	mu    sync.Mutex
	nonce *uint64
}

// NewSigner binds key to client for chainID.
func NewSigner(client *Client, key *ecdsa.PrivateKey, chainID uint64) (*Signer, error) {
	if client == nil {
		return nil, errors.New("agentnft: client is nil")
	}
	if key == nil {
		return nil, errors.New("agentnft: private key is nil")
	}
	return &Signer{
		client:  client,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

// Address returns the signing address.
func (s *Signer) Address() common.Address { return s.address }

// Sign builds and signs a transaction with an explicit nonce.
func (s *Signer) Sign(nonce uint64, value *big.Int, action types.Action) (*types.Transaction, error) {
	tx := types.NewTransaction(s.chainID, nonce, value, action)
	if err := tx.Sign(s.key); err != nil {
		return nil, err
	}
	return tx, nil
}

// Send signs action with the next nonce and submits it. The nonce is fetched
// from the node on first use. A submission the node rejects resets the local
// nonce so the next call re-reads it.
func (s *Signer) Send(ctx context.Context, value *big.Int, action types.Action, wait bool) (TransactionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nonce == nil {
		acct, err := s.client.Account(ctx, s.address)
		if err != nil {
			return TransactionView{}, err
		}
		next := acct.Nonce
		s.nonce = &next
	}
	tx, err := s.Sign(*s.nonce, value, action)
	if err != nil {
		return TransactionView{}, err
	}
	view, err := s.client.SubmitTransaction(ctx, tx, wait)
	if err != nil {
		s.nonce = nil
		return TransactionView{}, err
	}
	*s.nonce++
	return view, nil
}

// ResetNonce forces the next Send to read the nonce from the node.
func (s *Signer) ResetNonce() {
	s.mu.Lock()
	s.nonce = nil
	s.mu.Unlock()
}

// CreateAgent mints an agent owned by the signer.
func (s *Signer) CreateAgent(ctx context.Context, logic common.Address, uri string) (TransactionView, error) {
	action := types.MustAction(types.ActionCreateAgent, types.CreateAgentPayload{
		Owner: s.address, Logic: logic, MetadataURI: uri,
	})
	return s.Send(ctx, nil, action, true)
}

// Fund pays amount into agent id.
func (s *Signer) Fund(ctx context.Context, id uint64, amount *big.Int) (TransactionView, error) {
	action := types.MustAction(types.ActionFund, types.AgentPayload{AgentID: id})
	return s.Send(ctx, amount, action, true)
}

// Execute dispatches data to the agent's logic.
func (s *Signer) Execute(ctx context.Context, id uint64, data []byte) (TransactionView, error) {
	action := types.MustAction(types.ActionExecute, types.ExecutePayload{AgentID: id, Data: data})
	return s.Send(ctx, nil, action, true)
}

// Withdraw moves amount from agent id back to its owner.
func (s *Signer) Withdraw(ctx context.Context, id uint64, amount *big.Int) (TransactionView, error) {
	action := types.MustAction(types.ActionWithdraw, types.WithdrawPayload{
		AgentID: id, Amount: (*hexutil.Big)(amount),
	})
	return s.Send(ctx, nil, action, true)
}

// SetStatus pauses, unpauses or terminates agent id.
func (s *Signer) SetStatus(ctx context.Context, kind types.ActionKind, id uint64) (TransactionView, error) {
	switch kind {
	case types.ActionPause, types.ActionUnpause, types.ActionTerminate:
	default:
		return TransactionView{}, errors.New("agentnft: not a status action: " + string(kind))
	}
	return s.Send(ctx, nil, types.MustAction(kind, types.AgentPayload{AgentID: id}), true)
}
