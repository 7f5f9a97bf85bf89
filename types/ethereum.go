package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxRequest is a contract call handed to the wallet for signing and broadcast.
type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int // wei; nil means zero
	GasLimit uint64   // zero lets the wallet estimate
	GasPrice *big.Int // nil lets the wallet suggest
}
