package clients

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vitwit/coffee/types"
)

// Provider is the wallet capability the session and workflow drive. It mirrors what a
// browser wallet exposes: account access, chain management, signing and notifications.
type Provider interface {
	IsAvailable() bool
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	Accounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SwitchChain(ctx context.Context, chainID *big.Int) error
	AddChain(ctx context.Context, chain types.ChainDescriptor) error

	// SendTransaction signs and broadcasts a call, returning its hash.
	SendTransaction(ctx context.Context, req types.TxRequest) (common.Hash, error)
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)

	// Events delivers account and chain change notifications.
	Events() <-chan Event
	Close()
}

type EventKind int

const (
	AccountsChanged EventKind = iota + 1
	ChainChanged
)

func (k EventKind) String() string {
	switch k {
	case AccountsChanged:
		return "accountsChanged"
	case ChainChanged:
		return "chainChanged"
	default:
		return "unknown"
	}
}

// Event is a wallet-side notification. Accounts is set for AccountsChanged,
// ChainID for ChainChanged.
type Event struct {
	Kind     EventKind
	Accounts []common.Address
	ChainID  *big.Int
}

// Backend is the subset of *ethclient.Client the wallet needs from a chain node.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Dialer connects to the node behind an RPC URL.
type Dialer func(ctx context.Context, rpcURL string) (Backend, error)
