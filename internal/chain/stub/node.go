// Package stub provides a scriptable chain node for tests.
package stub

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"batch-settler/internal/chain"
)

// ErrNotFound mirrors ethereum.NotFound for missing receipts.
var ErrNotFound = ethereum.NotFound

// Node is an in-memory chain.Node. Sent transactions are recorded;
// receipts, nonces and simulation results are scripted by tests.
type Node struct {
	mu sync.Mutex

	chainID      *big.Int
	pendingNonce map[common.Address]uint64
	minedNonce   map[common.Address]uint64
	gasPrice     *big.Int

	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt

	callResult []byte
	callErr    error
	gasResult  uint64
	gasErr     error
	sendErr    error
	balances   map[common.Address]map[common.Address]*big.Int
}

// New creates a stub node on chain ID 1337.
func New() *Node {
	return &Node{
		chainID:      big.NewInt(1337),
		pendingNonce: make(map[common.Address]uint64),
		minedNonce:   make(map[common.Address]uint64),
		gasPrice:     big.NewInt(1_000_000_000),
		receipts:     make(map[common.Hash]*types.Receipt),
		gasResult:    150_000,
		balances:     make(map[common.Address]map[common.Address]*big.Int),
	}
}

// SetPendingNonce scripts the pending nonce for an account.
func (n *Node) SetPendingNonce(account common.Address, nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pendingNonce[account] = nonce
}

// SetMinedNonce scripts the confirmed nonce for an account. Used to make
// the submitter observe a foreign transaction consuming its nonce.
func (n *Node) SetMinedNonce(account common.Address, nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.minedNonce[account] = nonce
}

// SetReceipt scripts a receipt for a transaction hash.
func (n *Node) SetReceipt(txHash common.Hash, receipt *types.Receipt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts[txHash] = receipt
}

// SetCallResult scripts CallContract.
func (n *Node) SetCallResult(out []byte, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callResult, n.callErr = out, err
}

// SetGasEstimate scripts EstimateGas.
func (n *Node) SetGasEstimate(gas uint64, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gasResult, n.gasErr = gas, err
}

// SetSendError makes SendTransaction fail.
func (n *Node) SetSendError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendErr = err
}

// SetBalance scripts an ERC-20 balance returned via CallContract when no
// explicit call result is scripted.
func (n *Node) SetBalance(token, owner common.Address, balance *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.balances[token] == nil {
		n.balances[token] = make(map[common.Address]*big.Int)
	}
	n.balances[token][owner] = balance
}

// Sent returns all transactions sent so far.
func (n *Node) Sent() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.Transaction(nil), n.sent...)
}

// ChainID returns the scripted chain ID.
func (n *Node) ChainID(_ context.Context) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return new(big.Int).Set(n.chainID), nil
}

// PendingNonceAt returns the scripted pending nonce.
func (n *Node) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pendingNonce[account], nil
}

// NonceAt returns the scripted mined nonce.
func (n *Node) NonceAt(_ context.Context, account common.Address, _ *big.Int) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.minedNonce[account], nil
}

// SuggestGasPrice returns the scripted gas price.
func (n *Node) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return new(big.Int).Set(n.gasPrice), nil
}

// SendTransaction records the transaction.
func (n *Node) SendTransaction(_ context.Context, tx *types.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return n.sendErr
	}
	n.sent = append(n.sent, tx)
	return nil
}

// TransactionReceipt returns the scripted receipt or ErrNotFound.
func (n *Node) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.receipts[txHash]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// CallContract returns the scripted call result, or a scripted ERC-20
// balance when the call looks like balanceOf(address).
func (n *Node) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.callErr != nil {
		return nil, n.callErr
	}
	if n.callResult != nil {
		return n.callResult, nil
	}
	if msg.To != nil && len(msg.Data) == 36 {
		owner := common.BytesToAddress(msg.Data[16:36])
		if tokenBalances, ok := n.balances[*msg.To]; ok {
			if b, ok := tokenBalances[owner]; ok {
				return common.LeftPadBytes(b.Bytes(), 32), nil
			}
		}
		return common.LeftPadBytes(nil, 32), nil
	}
	return nil, errors.New("no call result scripted")
}

// EstimateGas returns the scripted gas estimate.
func (n *Node) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.gasErr != nil {
		return 0, n.gasErr
	}
	return n.gasResult, nil
}

var _ chain.Node = (*Node)(nil)
