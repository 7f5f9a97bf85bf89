package types

import (
	"fmt"
	"math/big"
	"strings"
)

// NativeCurrency describes the base asset of a chain.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// ChainDescriptor is what a wallet needs to learn about a chain it does not know yet.
type ChainDescriptor struct {
	ChainID           string         `json:"chainId"` // 0x-prefixed hex
	ChainName         string         `json:"chainName"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	RPCUrls           []string       `json:"rpcUrls"`
	BlockExplorerUrls []string       `json:"blockExplorerUrls,omitempty"`
}

// MainnetDescriptor returns the descriptor offered to the wallet when the required chain is unknown to it.
func MainnetDescriptor(chainID *big.Int, rpcURL string) ChainDescriptor {
	return ChainDescriptor{
		ChainID:   FormatChainID(chainID),
		ChainName: "Ethereum Mainnet",
		NativeCurrency: NativeCurrency{
			Name:     "Ethereum",
			Symbol:   "ETH",
			Decimals: NativeDecimals,
		},
		RPCUrls:           []string{rpcURL},
		BlockExplorerUrls: []string{"https://etherscan.io"},
	}
}

// ParseChainID accepts either 0x-prefixed hex ("0x1") or decimal ("1").
func ParseChainID(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("chain id cannot be empty")
	}

	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
	}

	id, ok := new(big.Int).SetString(digits, base)
	if !ok || id.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id: %q", s)
	}
	return id, nil
}

// FormatChainID renders a chain id the way wallets expect it: lowercase 0x-prefixed hex.
func FormatChainID(id *big.Int) string {
	return "0x" + id.Text(16)
}

// Validate checks the fields a wallet requires before adding a chain.
func (d ChainDescriptor) Validate() error {
	if _, err := ParseChainID(d.ChainID); err != nil {
		return err
	}
	if d.ChainName == "" {
		return fmt.Errorf("chain name is required")
	}
	if len(d.RPCUrls) == 0 || d.RPCUrls[0] == "" {
		return fmt.Errorf("at least one rpc url is required")
	}
	return nil
}
