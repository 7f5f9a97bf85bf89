package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// TierID identifies one of the purchasable coffee sizes
type TierID string

const (
	TierSmall  TierID = "small"
	TierMedium TierID = "medium"
	TierLarge  TierID = "large"
)

// MaxQuantity is the upper bound for the number of coffees in one purchase.
const MaxQuantity = 100

// NativeDecimals is the number of decimals of the base asset (wei per ether).
const NativeDecimals = 18

// Tier is an immutable purchasable item.
type Tier struct {
	ID   TierID `json:"id"`
	Name string `json:"name"`

	// Index is the value of the tier in the contract's CoffeeSize enum.
	Index uint8 `json:"index"`

	// UnitPrice is expressed in base-asset units (ETH, not wei).
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// DefaultTiers returns the fixed tier set, in display order.
func DefaultTiers() []Tier {
	return []Tier{
		{ID: TierSmall, Name: "Small", Index: 0, UnitPrice: decimal.RequireFromString("0.001")},
		{ID: TierMedium, Name: "Medium", Index: 1, UnitPrice: decimal.RequireFromString("0.003")},
		{ID: TierLarge, Name: "Large", Index: 2, UnitPrice: decimal.RequireFromString("0.005")},
	}
}

// Severity tags a status message
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityLoading Severity = "loading"
)

// StatusMessage is the single user-facing status line.
type StatusMessage struct {
	Text       string   `json:"text"`
	Severity   Severity `json:"severity"`
	Generation uint64   `json:"generation"`
}

// Notifier receives user-facing status reports.
type Notifier interface {
	Report(text string, severity Severity) uint64
}

// Memo is the optional supporter note attached to a purchase.
type Memo struct {
	Name    string `json:"name" validate:"max=64"`
	Message string `json:"message" validate:"max=280"`
}

// IsEmpty reports whether the memo carries nothing worth sending on-chain.
func (m Memo) IsEmpty() bool {
	return m.Name == "" && m.Message == ""
}

// Config is the static configuration supplied at process start.
type Config struct {
	// Network
	ChainID string `yaml:"chain_id" json:"chainId" validate:"required"`
	RPCUrl  string `yaml:"rpc_url" json:"rpcUrl" validate:"required,url"`

	// Contract
	ContractAddress string `yaml:"contract_address" json:"contractAddress" validate:"required,eth_addr"`
	OwnerAddress    string `yaml:"owner_address" json:"ownerAddress" validate:"required,eth_addr"`

	// Transaction settings
	DefaultGasLimit uint64 `yaml:"default_gas_limit" json:"defaultGasLimit" validate:"gt=0"`
	GasPrice        string `yaml:"gas_price" json:"gasPrice" validate:"omitempty,numeric"`

	// Wallet key source; PrivateKey wins over Keystore when both are set.
	PrivateKey         string `yaml:"-" json:"-"`
	KeystorePath       string `yaml:"keystore_path,omitempty" json:"keystorePath,omitempty"`
	KeystorePassphrase string `yaml:"-" json:"-"`

	Server  ServerConfig  `yaml:"server" json:"server"`
	Price   PriceConfig   `yaml:"price" json:"price"`
	Timing  TimingConfig  `yaml:"timing" json:"timing"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	LedgerPath    string `yaml:"ledger_path" json:"ledgerPath"`
	EnableMetrics bool   `yaml:"enable_metrics" json:"enableMetrics"`
}

type ServerConfig struct {
	Listen string `yaml:"listen" json:"listen" validate:"required,hostname_port"`
}

type PriceConfig struct {
	URL             string        `yaml:"url" json:"url" validate:"required,url"`
	AssetID         string        `yaml:"asset_id" json:"assetId" validate:"required"`
	FiatCode        string        `yaml:"fiat_code" json:"fiatCode" validate:"required"`
	Default         string        `yaml:"default" json:"default" validate:"required,numeric"`
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refreshInterval"`
}

type TimingConfig struct {
	StatusTTL           time.Duration `yaml:"status_ttl" json:"statusTtl" validate:"gt=0"`
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout" json:"confirmationTimeout" validate:"gt=0"`
	WithdrawRecheck     time.Duration `yaml:"withdraw_recheck" json:"withdrawRecheck" validate:"gt=0"`
	RequestTimeout      time.Duration `yaml:"request_timeout" json:"requestTimeout" validate:"gt=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn error"`
	File  string `yaml:"file,omitempty" json:"file,omitempty"`
}

// DefaultConfig returns a configuration populated with the defaults used by build-config.
func DefaultConfig() *Config {
	return &Config{
		ChainID:         "0x1",
		RPCUrl:          "https://mainnet.infura.io/v3/YOUR_INFURA_KEY",
		ContractAddress: "0xA14B62b2EfC2fdA913A6c025705432c6B35c6Cf0",
		OwnerAddress:    "0x1A620655adbd8a4A25bF5F471a3D8F0a5d946570",
		DefaultGasLimit: 300000,
		GasPrice:        "10000000000",
		Server:          ServerConfig{Listen: "127.0.0.1:8080"},
		Price: PriceConfig{
			URL:      "https://api.coingecko.com/api/v3",
			AssetID:  "ethereum",
			FiatCode: "usd",
			Default:  "2000",
		},
		Timing: TimingConfig{
			StatusTTL:           5 * time.Second,
			ConfirmationTimeout: 10 * time.Minute,
			WithdrawRecheck:     3 * time.Second,
			RequestTimeout:      30 * time.Second,
		},
		Logging:    LoggingConfig{Level: "info"},
		LedgerPath: "coffee.db",
	}
}

// GasPriceWei returns the configured gas price, or nil when the wallet should suggest one.
func (c *Config) GasPriceWei() (*big.Int, error) {
	if c.GasPrice == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(c.GasPrice, 10)
	if !ok || v.Sign() < 0 {
		return nil, &CoffeeError{
			Code:    ErrCodeConfig,
			Message: fmt.Sprintf("invalid gas price: %q", c.GasPrice),
		}
	}
	return v, nil
}

// CoffeeError is the error type surfaced by every operation.
type CoffeeError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Err     error       `json:"-"`
}

func (e *CoffeeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CoffeeError) Unwrap() error {
	return e.Err
}

// Is matches any CoffeeError with the same code, so the sentinels below work with errors.Is.
func (e *CoffeeError) Is(target error) bool {
	t, ok := target.(*CoffeeError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Wrap returns a copy of the sentinel carrying a cause.
func (e *CoffeeError) Wrap(err error) *CoffeeError {
	return &CoffeeError{Code: e.Code, Message: e.Message, Err: err}
}

// WithMessage returns a copy of the sentinel with a different user-facing message.
func (e *CoffeeError) WithMessage(msg string) *CoffeeError {
	return &CoffeeError{Code: e.Code, Message: msg, Err: e.Err}
}

// Error codes
const (
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeWrongNetwork        = "WRONG_NETWORK"
	ErrCodeNoAccounts          = "NO_ACCOUNTS"
	ErrCodeNotConnected        = "NOT_CONNECTED"
	ErrCodeNoSelection         = "NO_SELECTION"
	ErrCodeTxRejected          = "TRANSACTION_REJECTED"
	ErrCodeTxError             = "TRANSACTION_ERROR"
	ErrCodeQuoteFetchFailed    = "QUOTE_FETCH_FAILED"
	ErrCodeNotPrivileged       = "NOT_PRIVILEGED"
	ErrCodeInFlight            = "OPERATION_IN_FLIGHT"
	ErrCodeControlDisabled     = "CONTROL_DISABLED"
	ErrCodeConfig              = "CONFIG_ERROR"
)

var (
	ErrProviderUnavailable = &CoffeeError{Code: ErrCodeProviderUnavailable, Message: "Please install a wallet to use this feature!"}
	ErrWrongNetwork        = &CoffeeError{Code: ErrCodeWrongNetwork, Message: "Failed to switch networks. Please switch manually in your wallet."}
	ErrNoAccounts          = &CoffeeError{Code: ErrCodeNoAccounts, Message: "No accounts found. Please make sure your wallet is unlocked."}
	ErrNotConnected        = &CoffeeError{Code: ErrCodeNotConnected, Message: "Please connect your wallet first"}
	ErrNoSelection         = &CoffeeError{Code: ErrCodeNoSelection, Message: "Please select a coffee size"}
	ErrTransactionRejected = &CoffeeError{Code: ErrCodeTxRejected, Message: "Transaction rejected"}
	ErrTransactionError    = &CoffeeError{Code: ErrCodeTxError, Message: "Transaction failed"}
	ErrQuoteFetchFailed    = &CoffeeError{Code: ErrCodeQuoteFetchFailed, Message: "price quote unavailable"}
	ErrNotPrivileged       = &CoffeeError{Code: ErrCodeNotPrivileged, Message: "Only the owner can manage the contract"}
	ErrInFlight            = &CoffeeError{Code: ErrCodeInFlight, Message: "Another operation is already in progress"}
	ErrControlDisabled     = &CoffeeError{Code: ErrCodeControlDisabled, Message: "This control is currently disabled"}
)
