// Package coffee wires the selection, price oracle, wallet session, purchase
// workflow and status line into one application and exposes the operations a
// page triggers.
package coffee

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitwit/coffee/clients"
	"github.com/vitwit/coffee/logger"
	"github.com/vitwit/coffee/metrics"
	"github.com/vitwit/coffee/pricing"
	"github.com/vitwit/coffee/purchase"
	"github.com/vitwit/coffee/selection"
	"github.com/vitwit/coffee/session"
	"github.com/vitwit/coffee/status"
	"github.com/vitwit/coffee/storage"
	"github.com/vitwit/coffee/types"
	"github.com/vitwit/coffee/ui"
	"github.com/vitwit/coffee/utils"
)

var _ ui.Actions = (*Coffee)(nil)

// Coffee is the main struct that provides all purchase functionality.
type Coffee struct {
	cfg *types.Config

	provider  clients.Provider
	quotes    pricing.QuoteSource
	ledger    *storage.Ledger
	ownLedger bool

	reporter  *status.Reporter
	panel     *ui.Panel
	selection *selection.State
	oracle    *pricing.Oracle
	session   *session.Session
	contract  *clients.CoffeeContract
	workflow  *purchase.Workflow

	logger  logger.Logger
	metrics metrics.Recorder
	timeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates cfg and builds every component. Nothing talks to the wallet or
// the price API until Start.
func New(cfg *types.Config, opts ...Option) (*Coffee, error) {
	if cfg == nil {
		cfg = types.DefaultConfig()
	}
	if err := utils.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	c := &Coffee{
		cfg:     cfg,
		timeout: cfg.Timing.RequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.OrNoop(c.logger)
	if c.metrics == nil && cfg.EnableMetrics {
		c.metrics = metrics.NewPrometheusRecorder()
	}
	c.metrics = metrics.OrNoop(c.metrics)
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}

	chainID, err := types.ParseChainID(cfg.ChainID)
	if err != nil {
		return nil, &types.CoffeeError{Code: types.ErrCodeConfig, Message: "invalid chain id", Err: err}
	}
	gasPrice, err := cfg.GasPriceWei()
	if err != nil {
		return nil, err
	}
	initialQuote, err := decimal.NewFromString(cfg.Price.Default)
	if err != nil {
		return nil, &types.CoffeeError{Code: types.ErrCodeConfig, Message: "invalid default price", Err: err}
	}

	if c.quotes == nil {
		c.quotes = pricing.NewCoinGecko(cfg.Price.URL, cfg.Price.AssetID, cfg.Price.FiatCode, c.timeout)
	}
	if c.ledger == nil && cfg.LedgerPath != "" {
		if c.ledger, err = storage.Open(cfg.LedgerPath); err != nil {
			return nil, err
		}
		c.ownLedger = true
	}

	chain := chainDescriptor(chainID, cfg.RPCUrl)
	tiers := types.DefaultTiers()

	c.reporter = status.NewReporter(cfg.Timing.StatusTTL, c.logger)
	c.oracle = pricing.NewOracle(c.quotes, initialQuote, c.logger, c.metrics)
	c.panel = ui.NewPanel(tiers, chain.ChainName, c.oracle)

	if c.selection, err = selection.New(tiers, types.MaxQuantity, c.reporter); err != nil {
		c.closeLedger()
		return nil, err
	}

	c.session = session.New(c.provider, session.Config{
		ChainID:           chainID,
		Chain:             chain,
		PrivilegedAddress: cfg.OwnerAddress,
	}, c.reporter, c.logger, c.metrics)

	if c.contract, err = clients.NewCoffeeContract(common.HexToAddress(cfg.ContractAddress), c.provider); err != nil {
		c.closeLedger()
		return nil, err
	}

	deps := purchase.Deps{
		Contract:  c.contract,
		Wallet:    c.provider,
		Session:   c.session,
		Selection: c.selection,
		Guard:     c.panel,
		Notifier:  c.reporter,
		Fiat:      c.oracle,
		Logger:    c.logger,
		Metrics:   c.metrics,
	}
	if c.ledger != nil {
		deps.Ledger = c.ledger
	}
	c.workflow = purchase.NewWorkflow(deps, purchase.Config{
		GasLimit:            cfg.DefaultGasLimit,
		GasPrice:            gasPrice,
		ConfirmationTimeout: cfg.Timing.ConfirmationTimeout,
		WithdrawRecheck:     cfg.Timing.WithdrawRecheck,
	})

	c.reporter.Subscribe(c.panel.SetStatus)
	c.selection.Subscribe(c.panel.SetSelection)
	c.session.Subscribe(c.panel.SetSession)
	c.oracle.OnChange(func(decimal.Decimal) { c.panel.Refresh() })
	c.workflow.OnBalance(c.panel.SetBalance)
	c.panel.SetSession(c.session.Snapshot())

	return c, nil
}

// chainDescriptor is what the wallet is offered when it does not know the configured chain.
func chainDescriptor(chainID *big.Int, rpcURL string) types.ChainDescriptor {
	desc := types.MainnetDescriptor(chainID, rpcURL)
	if chainID.Cmp(big.NewInt(1)) != 0 {
		desc.ChainName = "chain " + types.FormatChainID(chainID)
		desc.BlockExplorerUrls = nil
	}
	return desc
}

// Start checks the wallet, starts quote polling and follows wallet notifications
// until ctx is done or Close is called.
func (c *Coffee) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	initCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.session.Init(initCtx)
	cancel()
	if err != nil {
		c.logger.Warn("wallet startup check failed", map[string]any{"error": err})
	}

	c.oracle.Start(ctx, c.cfg.Price.RefreshInterval)

	if c.provider != nil && c.provider.IsAvailable() {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.session.Run(ctx, c.provider.Events())
		}()
		c.verifyTierPrices(ctx)
	}
	return nil
}

// verifyTierPrices compares the local tier prices with the contract's. A
// mismatch only warns: the contract rejects underpaid purchases itself.
func (c *Coffee) verifyTierPrices(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	for _, tier := range c.selection.Tiers() {
		onChain, err := c.contract.TierPrice(ctx, tier.Index)
		if err != nil {
			c.logger.Warn("tier price check failed", map[string]any{"tier": string(tier.ID), "error": err})
			return
		}
		local, err := utils.ToBaseUnits(tier.UnitPrice, types.NativeDecimals)
		if err != nil {
			continue
		}
		if local.Cmp(onChain) != 0 {
			c.logger.Warn("tier price differs from contract", map[string]any{
				"tier":     string(tier.ID),
				"local":    local.String(),
				"on_chain": onChain.String(),
			})
		}
	}
}

func (c *Coffee) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.session.Connect(ctx)
}

func (c *Coffee) SelectTier(id types.TierID) error {
	if !c.panel.Enabled(types.ControlTiers) {
		return types.ErrControlDisabled
	}
	return c.selection.Select(id)
}

func (c *Coffee) Increase() error {
	if !c.panel.Enabled(types.ControlIncrease) {
		return types.ErrControlDisabled
	}
	c.selection.Increment()
	return nil
}

func (c *Coffee) Decrease() error {
	if !c.panel.Enabled(types.ControlDecrease) {
		return types.ErrControlDisabled
	}
	c.selection.Decrement()
	return nil
}

// Buy submits the current selection and blocks until it is confirmed or fails.
func (c *Coffee) Buy(ctx context.Context, memo types.Memo) (*purchase.Result, error) {
	return c.workflow.SubmitPurchase(ctx, memo)
}

func (c *Coffee) Purchase(ctx context.Context, memo types.Memo) error {
	_, err := c.Buy(ctx, memo)
	return err
}

func (c *Coffee) QueryBalance(ctx context.Context) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.workflow.QueryBalance(ctx)
}

func (c *Coffee) Withdraw(ctx context.Context) (common.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.workflow.Withdraw(ctx)
}

// History returns the most recent ledger entries, newest first.
func (c *Coffee) History(ctx context.Context, limit int) ([]storage.Entry, error) {
	if c.ledger == nil {
		return []storage.Entry{}, nil
	}
	return c.ledger.Recent(ctx, limit)
}

func (c *Coffee) View() ui.View {
	return c.panel.View()
}

func (c *Coffee) Panel() *ui.Panel {
	return c.panel
}

func (c *Coffee) Session() session.Snapshot {
	return c.session.Snapshot()
}

// Status returns the message currently on the status line.
func (c *Coffee) Status() types.StatusMessage {
	return c.reporter.Current()
}

// MetricsHandler is nil unless the recorder can be scraped.
func (c *Coffee) MetricsHandler() http.Handler {
	if h, ok := c.metrics.(interface{ Handler() http.Handler }); ok {
		return h.Handler()
	}
	return nil
}

// Server returns an HTTP server bound to this instance.
func (c *Coffee) Server() *ui.Server {
	return ui.NewServer(c.panel, c, ui.ServerOptions{
		Logger:         c.logger,
		Metrics:        c.MetricsHandler(),
		RequestTimeout: c.timeout,
	})
}

// Close stops background work. The provider is owned by the caller.
func (c *Coffee) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.oracle.Stop()
	c.workflow.Close()
	c.reporter.Stop()
	return c.closeLedger()
}

func (c *Coffee) closeLedger() error {
	if c.ownLedger && c.ledger != nil {
		if err := c.ledger.Close(); err != nil {
			return fmt.Errorf("close ledger: %w", err)
		}
	}
	return nil
}
