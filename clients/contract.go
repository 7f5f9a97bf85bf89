package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vitwit/coffee/types"
)

// Contract methods
const (
	MethodBuyCoffee       = "buyCoffee"
	MethodBuyCoffeeSimple = "buyCoffeeSimple"
	MethodGetBalance      = "getBalance"
	MethodWithdraw        = "withdraw"
	MethodCoffeePrices    = "coffeePrices"
)

const coffeeABI = `
[
  {
    "name": "buyCoffee",
    "type": "function",
    "stateMutability": "payable",
    "inputs": [
      { "internalType": "enum BuyMeCoffee.CoffeeSize", "name": "_size", "type": "uint8" },
      { "name": "_quantity", "type": "uint256" },
      { "name": "_name", "type": "string" },
      { "name": "_message", "type": "string" }
    ],
    "outputs": []
  },
  {
    "name": "buyCoffeeSimple",
    "type": "function",
    "stateMutability": "payable",
    "inputs": [
      { "internalType": "enum BuyMeCoffee.CoffeeSize", "name": "_size", "type": "uint8" },
      { "name": "_quantity", "type": "uint256" }
    ],
    "outputs": []
  },
  {
    "name": "getBalance",
    "type": "function",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{ "name": "", "type": "uint256" }]
  },
  {
    "name": "withdraw",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [],
    "outputs": []
  },
  {
    "name": "coffeePrices",
    "type": "function",
    "stateMutability": "view",
    "inputs": [{ "internalType": "enum BuyMeCoffee.CoffeeSize", "name": "", "type": "uint8" }],
    "outputs": [{ "name": "", "type": "uint256" }]
  }
]
`

// CallOpts carries the transaction parameters that are not method arguments.
type CallOpts struct {
	Value    *big.Int
	GasLimit uint64
	GasPrice *big.Int
}

// Pending is a submitted transaction awaiting confirmation.
type Pending interface {
	Hash() common.Hash
	Wait(ctx context.Context, confirmations uint64) (*gethtypes.Receipt, error)
}

// CoffeeContract encodes calls to the coffee contract and submits them through a Provider.
type CoffeeContract struct {
	address  common.Address
	abi      abi.ABI
	provider Provider

	// PollInterval is how often pending transactions poll for receipts.
	PollInterval time.Duration
}

func NewCoffeeContract(address common.Address, provider Provider) (*CoffeeContract, error) {
	parsed, err := abi.JSON(strings.NewReader(coffeeABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi failed: %w", err)
	}
	return &CoffeeContract{
		address:      address,
		abi:          parsed,
		provider:     provider,
		PollInterval: 2 * time.Second,
	}, nil
}

func (c *CoffeeContract) Address() common.Address {
	return c.address
}

// Pack returns the call data for method.
func (c *CoffeeContract) Pack(method string, args ...interface{}) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s call data failed: %w", method, err)
	}
	return data, nil
}

// Transact encodes method and hands it to the wallet for signing and broadcast.
func (c *CoffeeContract) Transact(ctx context.Context, method string, opts CallOpts, args ...interface{}) (Pending, error) {
	data, err := c.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	hash, err := c.provider.SendTransaction(ctx, types.TxRequest{
		To:       c.address,
		Data:     data,
		Value:    opts.Value,
		GasLimit: opts.GasLimit,
		GasPrice: opts.GasPrice,
	})
	if err != nil {
		return nil, err
	}

	return &PendingTransaction{hash: hash, provider: c.provider, interval: c.PollInterval}, nil
}

// TierPrice reads the on-chain unit price, in wei, for a CoffeeSize index.
func (c *CoffeeContract) TierPrice(ctx context.Context, index uint8) (*big.Int, error) {
	return c.callUint(ctx, MethodCoffeePrices, index)
}

// Balance reads the contract's own view of its balance, in wei.
func (c *CoffeeContract) Balance(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, MethodGetBalance)
}

func (c *CoffeeContract) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	data, err := c.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	raw, err := c.provider.Call(ctx, c.address, data)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s result failed: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s returned %d values", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", method, out[0])
	}
	return v, nil
}

// PendingTransaction polls the wallet's node until the transaction is mined.
type PendingTransaction struct {
	hash     common.Hash
	provider Provider
	interval time.Duration
}

func (p *PendingTransaction) Hash() common.Hash {
	return p.hash
}

// Wait blocks until the transaction has the requested number of confirmations
// (1 means mined), the receipt reports a revert, or ctx is done.
func (p *PendingTransaction) Wait(ctx context.Context, confirmations uint64) (*gethtypes.Receipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}
	interval := p.interval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	var receipt *gethtypes.Receipt
	for {
		if receipt == nil {
			r, err := p.provider.TransactionReceipt(ctx, p.hash)
			switch {
			case err == nil:
				receipt = r
				if receipt.Status == gethtypes.ReceiptStatusFailed {
					return receipt, ErrTransactionReverted
				}
			case errors.Is(err, ethereum.NotFound):
			default:
				return nil, fmt.Errorf("receipt fetch failed: %w", err)
			}
		}

		if receipt != nil {
			if confirmations == 1 {
				return receipt, nil
			}
			head, err := p.provider.BlockNumber(ctx)
			if err != nil {
				return nil, fmt.Errorf("block number fetch failed: %w", err)
			}
			mined := receipt.BlockNumber.Uint64()
			if head >= mined && head-mined+1 >= confirmations {
				return receipt, nil
			}
		}

		select {
		case <-ctx.Done():
			return receipt, ctx.Err()
		case <-time.After(interval):
		}
	}
}
