package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/vitwit/coffee/types"
	"gopkg.in/yaml.v3"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Environment variables read by ApplyEnv
const (
	EnvChainID            = "COFFEE_CHAIN_ID"
	EnvRPCUrl             = "COFFEE_RPC_URL"
	EnvInfuraKey          = "COFFEE_INFURA_KEY"
	EnvContractAddress    = "COFFEE_CONTRACT_ADDRESS"
	EnvOwnerAddress       = "COFFEE_OWNER_ADDRESS"
	EnvGasLimit           = "COFFEE_GAS_LIMIT"
	EnvGasPrice           = "COFFEE_GAS_PRICE"
	EnvPrivateKey         = "COFFEE_PRIVATE_KEY"
	EnvKeystorePath       = "COFFEE_KEYSTORE"
	EnvKeystorePassphrase = "COFFEE_KEYSTORE_PASSPHRASE"
	EnvListen             = "COFFEE_LISTEN"
	EnvLogLevel           = "COFFEE_LOG_LEVEL"
	EnvLogFile            = "COFFEE_LOG_FILE"
	EnvLedgerPath         = "COFFEE_LEDGER_PATH"
	EnvMetrics            = "COFFEE_METRICS"
)

// InfuraURL builds the mainnet RPC URL for an Infura project key
func InfuraURL(key string) string {
	return "https://mainnet.infura.io/v3/" + key
}

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

// ParseConfig decodes YAML on top of the defaults and validates the result
func ParseConfig(data []byte) (*types.Config, error) {
	cfg := types.DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &types.CoffeeError{
			Code:    types.ErrCodeConfig,
			Message: fmt.Sprintf("failed to parse config: %v", err),
		}
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads path (if non-empty), applies environment overrides and validates.
// A missing path yields the defaults.
func LoadConfig(path string, lookup LookupFunc) (*types.Config, error) {
	cfg := types.DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &types.CoffeeError{
				Code:    types.ErrCodeConfig,
				Message: fmt.Sprintf("failed to read config: %v", err),
			}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &types.CoffeeError{
				Code:    types.ErrCodeConfig,
				Message: fmt.Sprintf("failed to parse config: %v", err),
			}
		}
	}

	if lookup != nil {
		if err := ApplyEnv(cfg, lookup); err != nil {
			return nil, err
		}
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any COFFEE_* variables that are set
func ApplyEnv(cfg *types.Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str(EnvChainID, &cfg.ChainID)
	if key, ok := lookup(EnvInfuraKey); ok && key != "" {
		cfg.RPCUrl = InfuraURL(key)
	}
	str(EnvRPCUrl, &cfg.RPCUrl)
	str(EnvContractAddress, &cfg.ContractAddress)
	str(EnvOwnerAddress, &cfg.OwnerAddress)
	str(EnvGasPrice, &cfg.GasPrice)
	str(EnvPrivateKey, &cfg.PrivateKey)
	str(EnvKeystorePath, &cfg.KeystorePath)
	str(EnvKeystorePassphrase, &cfg.KeystorePassphrase)
	str(EnvListen, &cfg.Server.Listen)
	str(EnvLogLevel, &cfg.Logging.Level)
	str(EnvLogFile, &cfg.Logging.File)
	str(EnvLedgerPath, &cfg.LedgerPath)

	if v, ok := lookup(EnvGasLimit); ok && v != "" {
		limit, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return &types.CoffeeError{
				Code:    types.ErrCodeConfig,
				Message: fmt.Sprintf("invalid %s: %q", EnvGasLimit, v),
				Err:     err,
			}
		}
		cfg.DefaultGasLimit = limit
	}

	if v, ok := lookup(EnvMetrics); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return &types.CoffeeError{
				Code:    types.ErrCodeConfig,
				Message: fmt.Sprintf("invalid %s: %q", EnvMetrics, v),
				Err:     err,
			}
		}
		cfg.EnableMetrics = enabled
	}

	return nil
}

// ValidateConfig runs struct-tag validation plus the checks tags cannot express
func ValidateConfig(cfg *types.Config) error {
	if err := validate.Struct(cfg); err != nil {
		return &types.CoffeeError{
			Code:    types.ErrCodeConfig,
			Message: fmt.Sprintf("validation failed: %v", err),
			Err:     err,
		}
	}

	id, err := types.ParseChainID(cfg.ChainID)
	if err != nil {
		return &types.CoffeeError{Code: types.ErrCodeConfig, Message: err.Error(), Err: err}
	}
	cfg.ChainID = types.FormatChainID(id)

	if _, err := cfg.GasPriceWei(); err != nil {
		return err
	}
	if _, err := ValidateAmount(cfg.Price.Default); err != nil {
		return &types.CoffeeError{Code: types.ErrCodeConfig, Message: "invalid default price", Err: err}
	}
	return nil
}

// ValidateMemo checks the supporter note length limits
func ValidateMemo(m types.Memo) error {
	if err := validate.Struct(m); err != nil {
		return err
	}
	return nil
}

// RenderConfig produces the YAML written by build-config. Secrets are never rendered.
func RenderConfig(cfg *types.Config) ([]byte, error) {
	var b strings.Builder
	b.WriteString("# Configuration generated by coffee build-config\n")

	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return []byte(b.String()), nil
}
