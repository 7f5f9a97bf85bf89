package clients

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vitwit/coffee/logger"
	"github.com/vitwit/coffee/types"
)

var _ Provider = (*EVMWallet)(nil)

const eventBuffer = 32

// Approver decides whether the wallet signs a transaction. Returning an error
// is equivalent to the user declining the signature request.
type Approver func(ctx context.Context, req types.TxRequest) error

// AutoApprove signs everything.
func AutoApprove(context.Context, types.TxRequest) error { return nil }

// SpendingLimit declines any transaction whose value exceeds limit wei.
func SpendingLimit(limit *big.Int) Approver {
	return func(_ context.Context, req types.TxRequest) error {
		if req.Value != nil && req.Value.Cmp(limit) > 0 {
			return fmt.Errorf("value %s exceeds spending limit %s", req.Value, limit)
		}
		return nil
	}
}

// DialEthclient is the default Dialer.
func DialEthclient(ctx context.Context, rpcURL string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}
	return client, nil
}

// WalletConfig configures an EVMWallet.
type WalletConfig struct {
	Key    *ecdsa.PrivateKey
	RPCUrl string

	// Chains lists the networks the wallet already knows besides the one behind RPCUrl.
	Chains  []types.ChainDescriptor
	Dial    Dialer
	Approve Approver
	Logger  logger.Logger
}

// EVMWallet is an in-process wallet: one signing key, a set of known chains and
// an active node connection. It behaves like a browser wallet towards the session:
// accounts are only exposed after RequestAccounts, and locking or switching
// chains produces notifications on Events.
type EVMWallet struct {
	mu sync.RWMutex

	key        *ecdsa.PrivateKey
	address    common.Address
	authorized bool
	locked     bool

	chains  map[string]types.ChainDescriptor
	chainID *big.Int
	backend Backend

	dial    Dialer
	approve Approver
	logger  logger.Logger

	events chan Event
	closed bool
}

// NewEVMWallet connects to cfg.RPCUrl and registers that chain as known.
func NewEVMWallet(ctx context.Context, cfg WalletConfig) (*EVMWallet, error) {
	if cfg.Key == nil {
		return nil, errors.New("wallet key is required")
	}
	if cfg.Dial == nil {
		cfg.Dial = DialEthclient
	}
	if cfg.Approve == nil {
		cfg.Approve = AutoApprove
	}

	backend, err := cfg.Dial(ctx, cfg.RPCUrl)
	if err != nil {
		return nil, err
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("chain id fetch failed: %w", err)
	}

	w := &EVMWallet{
		key:     cfg.Key,
		address: crypto.PubkeyToAddress(cfg.Key.PublicKey),
		chains:  make(map[string]types.ChainDescriptor),
		chainID: chainID,
		backend: backend,
		dial:    cfg.Dial,
		approve: cfg.Approve,
		logger:  logger.OrNoop(cfg.Logger),
		events:  make(chan Event, eventBuffer),
	}

	w.chains[types.FormatChainID(chainID)] = types.ChainDescriptor{
		ChainID:   types.FormatChainID(chainID),
		ChainName: fmt.Sprintf("chain %s", chainID),
		RPCUrls:   []string{cfg.RPCUrl},
	}
	for _, c := range cfg.Chains {
		if err := c.Validate(); err != nil {
			backend.Close()
			return nil, fmt.Errorf("invalid chain descriptor: %w", err)
		}
		id, _ := types.ParseChainID(c.ChainID)
		w.chains[types.FormatChainID(id)] = c
	}

	return w, nil
}

// Address is the wallet's signing account, whether or not it has been exposed yet.
func (w *EVMWallet) Address() common.Address {
	return w.address
}

func (w *EVMWallet) IsAvailable() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return !w.closed && w.key != nil
}

func (w *EVMWallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, newProviderError(CodeDisconnected, "wallet closed", nil)
	}
	if w.locked {
		return nil, newProviderError(CodeUserRejected, "wallet is locked", nil)
	}
	w.authorized = true
	return []common.Address{w.address}, nil
}

func (w *EVMWallet) Accounts(ctx context.Context) ([]common.Address, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.exposedAccounts(), nil
}

func (w *EVMWallet) exposedAccounts() []common.Address {
	if w.closed || w.locked || !w.authorized {
		return []common.Address{}
	}
	return []common.Address{w.address}
}

// Lock hides the account; subscribers see an empty accountsChanged.
func (w *EVMWallet) Lock() {
	w.mu.Lock()
	w.locked = true
	w.mu.Unlock()
	w.emit(Event{Kind: AccountsChanged, Accounts: []common.Address{}})
}

// Unlock re-exposes the account if it had been authorized.
func (w *EVMWallet) Unlock() {
	w.mu.Lock()
	w.locked = false
	accounts := w.exposedAccounts()
	w.mu.Unlock()
	w.emit(Event{Kind: AccountsChanged, Accounts: accounts})
}

func (w *EVMWallet) ChainID(ctx context.Context) (*big.Int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return new(big.Int).Set(w.chainID), nil
}

// SwitchChain moves the wallet onto a known chain. Unknown chains fail with
// CodeUnrecognizedChain so the caller can offer the chain through AddChain.
func (w *EVMWallet) SwitchChain(ctx context.Context, chainID *big.Int) error {
	key := types.FormatChainID(chainID)

	w.mu.RLock()
	desc, known := w.chains[key]
	current := w.chainID
	w.mu.RUnlock()

	if !known {
		return newProviderError(CodeUnrecognizedChain, fmt.Sprintf("unrecognized chain id %s", key), nil)
	}
	if current.Cmp(chainID) == 0 {
		return nil
	}

	backend, err := w.dial(ctx, desc.RPCUrls[0])
	if err != nil {
		return newProviderError(CodeInternal, "chain switch failed", err)
	}
	remote, err := backend.ChainID(ctx)
	if err != nil {
		backend.Close()
		return newProviderError(CodeInternal, "chain switch failed", err)
	}
	if remote.Cmp(chainID) != 0 {
		backend.Close()
		return newProviderError(CodeInternal, fmt.Sprintf("rpc for %s serves chain %s", key, types.FormatChainID(remote)), nil)
	}

	w.mu.Lock()
	old := w.backend
	w.backend = backend
	w.chainID = new(big.Int).Set(chainID)
	w.mu.Unlock()
	old.Close()

	w.logger.Info("wallet switched chain", map[string]any{"chain_id": key})
	w.emit(Event{Kind: ChainChanged, ChainID: new(big.Int).Set(chainID)})
	return nil
}

// AddChain registers a chain and switches to it.
func (w *EVMWallet) AddChain(ctx context.Context, chain types.ChainDescriptor) error {
	if err := chain.Validate(); err != nil {
		return newProviderError(CodeInternal, "invalid chain descriptor", err)
	}
	id, _ := types.ParseChainID(chain.ChainID)

	w.mu.Lock()
	w.chains[types.FormatChainID(id)] = chain
	w.mu.Unlock()

	return w.SwitchChain(ctx, id)
}

func (w *EVMWallet) SendTransaction(ctx context.Context, req types.TxRequest) (common.Hash, error) {
	w.mu.RLock()
	exposed := len(w.exposedAccounts()) > 0
	backend := w.backend
	chainID := new(big.Int).Set(w.chainID)
	w.mu.RUnlock()

	if !exposed {
		return common.Hash{}, newProviderError(CodeUnauthorized, "account not authorized", nil)
	}
	if err := w.approve(ctx, req); err != nil {
		return common.Hash{}, newProviderError(CodeUserRejected, "user rejected the transaction", err)
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce failed: %w", err)
	}

	gasPrice := req.GasPrice
	if gasPrice == nil {
		if gasPrice, err = backend.SuggestGasPrice(ctx); err != nil {
			return common.Hash{}, fmt.Errorf("suggest gas price failed: %w", err)
		}
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		to := req.To
		gasLimit, err = backend.EstimateGas(ctx, ethereum.CallMsg{From: w.address, To: &to, Value: value, Data: req.Data})
		if err != nil {
			return common.Hash{}, fmt.Errorf("estimate gas failed: %w", err)
		}
	}

	tx := gethtypes.NewTransaction(nonce, req.To, value, gasLimit, gasPrice, req.Data)
	signed, err := gethtypes.SignTx(tx, gethtypes.NewEIP155Signer(chainID), w.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx failed: %w", err)
	}

	if err := backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx failed: %w", err)
	}

	w.logger.Debug("transaction broadcast", map[string]any{
		"hash":  signed.Hash().Hex(),
		"to":    req.To.Hex(),
		"value": value.String(),
		"nonce": nonce,
	})
	return signed.Hash(), nil
}

func (w *EVMWallet) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return w.node().CallContract(ctx, ethereum.CallMsg{From: w.address, To: &to, Data: data}, nil)
}

func (w *EVMWallet) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return w.node().BalanceAt(ctx, account, nil)
}

func (w *EVMWallet) TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	return w.node().TransactionReceipt(ctx, hash)
}

func (w *EVMWallet) BlockNumber(ctx context.Context) (uint64, error) {
	return w.node().BlockNumber(ctx)
}

func (w *EVMWallet) Events() <-chan Event {
	return w.events
}

func (w *EVMWallet) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	backend := w.backend
	close(w.events)
	w.mu.Unlock()

	backend.Close()
}

func (w *EVMWallet) node() Backend {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.backend
}

// emit never blocks; a full buffer drops the notification and logs it.
func (w *EVMWallet) emit(ev Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("wallet event dropped", map[string]any{"kind": ev.Kind.String()})
	}
}
