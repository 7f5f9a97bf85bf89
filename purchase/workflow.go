// Package purchase drives contract transactions from the current selection and session.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitwit/coffee/clients"
	"github.com/vitwit/coffee/logger"
	"github.com/vitwit/coffee/metrics"
	"github.com/vitwit/coffee/selection"
	"github.com/vitwit/coffee/session"
	"github.com/vitwit/coffee/storage"
	"github.com/vitwit/coffee/types"
	"github.com/vitwit/coffee/utils"
)

// Contract encodes and submits calls to the coffee contract.
type Contract interface {
	Address() common.Address
	Pack(method string, args ...interface{}) ([]byte, error)
	Transact(ctx context.Context, method string, opts clients.CallOpts, args ...interface{}) (clients.Pending, error)
	Balance(ctx context.Context) (*big.Int, error)
}

// Wallet is the part of the provider used for raw calls and balance reads.
type Wallet interface {
	SendTransaction(ctx context.Context, req types.TxRequest) (common.Hash, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
}

type Sessions interface {
	Snapshot() session.Snapshot
}

type Selections interface {
	Snapshot() selection.Snapshot
}

// Guard is the in-flight lock over user controls. Acquire is all-or-nothing.
type Guard interface {
	Acquire(controls ...types.Control) bool
	Release(controls ...types.Control)
}

// Converter renders base-asset amounts in fiat.
type Converter interface {
	ToFiat(amount decimal.Decimal) string
}

// Ledger records submitted transactions.
type Ledger interface {
	Record(ctx context.Context, e *storage.Entry) error
	MarkConfirmed(ctx context.Context, txHash string, block uint64) error
	MarkFailed(ctx context.Context, txHash string, reason string) error
}

// Config holds the transaction settings from the static configuration.
type Config struct {
	GasLimit            uint64
	GasPrice            *big.Int
	ConfirmationTimeout time.Duration
	WithdrawRecheck     time.Duration
	Confirmations       uint64
}

// Result describes a confirmed purchase.
type Result struct {
	TxHash common.Hash
	Block  uint64
	Amount decimal.Decimal
}

// Workflow orchestrates purchases and the privileged contract operations.
type Workflow struct {
	contract  Contract
	wallet    Wallet
	session   Sessions
	selection Selections
	guard     Guard
	notifier  types.Notifier
	fiat      Converter
	ledger    Ledger
	cfg       Config

	logger  logger.Logger
	metrics metrics.Recorder

	mu        sync.Mutex
	balance   *decimal.Decimal
	onBalance []func(decimal.Decimal)
	timers    map[*time.Timer]struct{}
	closed    bool
}

// Deps groups the collaborators of a Workflow. Ledger, Logger and Metrics are optional.
type Deps struct {
	Contract  Contract
	Wallet    Wallet
	Session   Sessions
	Selection Selections
	Guard     Guard
	Notifier  types.Notifier
	Fiat      Converter
	Ledger    Ledger
	Logger    logger.Logger
	Metrics   metrics.Recorder
}

func NewWorkflow(deps Deps, cfg Config) *Workflow {
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 10 * time.Minute
	}
	if cfg.WithdrawRecheck <= 0 {
		cfg.WithdrawRecheck = 3 * time.Second
	}
	return &Workflow{
		contract:  deps.Contract,
		wallet:    deps.Wallet,
		session:   deps.Session,
		selection: deps.Selection,
		guard:     deps.Guard,
		notifier:  deps.Notifier,
		fiat:      deps.Fiat,
		ledger:    deps.Ledger,
		cfg:       cfg,
		logger:    logger.OrNoop(deps.Logger),
		metrics:   metrics.OrNoop(deps.Metrics),
		timers:    make(map[*time.Timer]struct{}),
	}
}

// SubmitPurchase pays for the current selection and waits for one confirmation.
// The purchase controls are released on every return path.
func (w *Workflow) SubmitPurchase(ctx context.Context, memo types.Memo) (*Result, error) {
	sess := w.session.Snapshot()
	if !sess.Connected {
		return nil, w.fail(types.ErrNotConnected)
	}

	sel := w.selection.Snapshot()
	if sel.Tier.ID == "" || sel.Quantity < 1 {
		return nil, w.fail(types.ErrNoSelection)
	}

	if err := utils.ValidateMemo(memo); err != nil {
		return nil, w.fail(types.ErrTransactionError.WithMessage("Invalid message").Wrap(err))
	}

	if !w.guard.Acquire(types.PurchaseControls...) {
		return nil, w.fail(types.ErrInFlight)
	}
	defer w.guard.Release(types.PurchaseControls...)

	// the selection controls are locked from here on
	sel = w.selection.Snapshot()
	if sel.Tier.ID == "" || sel.Quantity < 1 {
		return nil, w.fail(types.ErrNoSelection)
	}

	start := time.Now()
	labels := map[string]string{"tier": string(sel.Tier.ID)}
	outcome := metrics.OutcomeFailed
	defer func() {
		labels["outcome"] = outcome
		w.metrics.IncCounter(metrics.EventPurchase, labels)
		w.metrics.ObserveLatency(metrics.EventPurchase, time.Since(start), labels)
	}()

	value, err := utils.ToBaseUnits(sel.Total, types.NativeDecimals)
	if err != nil {
		return nil, w.fail(types.ErrTransactionError.Wrap(err))
	}

	w.report(fmt.Sprintf("Sending %d %s coffee transaction...", sel.Quantity, sel.Tier.Name), types.SeverityLoading)

	method := clients.MethodBuyCoffeeSimple
	args := []interface{}{sel.Tier.Index, big.NewInt(int64(sel.Quantity))}
	if !memo.IsEmpty() {
		method = clients.MethodBuyCoffee
		args = append(args, memo.Name, memo.Message)
	}

	pending, err := w.contract.Transact(ctx, method, clients.CallOpts{
		Value:    value,
		GasLimit: w.cfg.GasLimit,
		GasPrice: w.cfg.GasPrice,
	}, args...)
	if err != nil {
		if clients.IsUserRejected(err) {
			outcome = metrics.OutcomeRejected
		}
		return nil, w.fail(submitError(err))
	}

	hash := pending.Hash()
	w.logger.Info("purchase submitted", map[string]any{
		"tx_hash":  hash.Hex(),
		"tier":     string(sel.Tier.ID),
		"quantity": sel.Quantity,
		"value":    value.String(),
		"method":   method,
	})
	w.record(ctx, &storage.Entry{
		TxHash:    hash.Hex(),
		Kind:      storage.KindPurchase,
		Account:   sess.Account.Hex(),
		Tier:      string(sel.Tier.ID),
		Quantity:  sel.Quantity,
		AmountWei: value.String(),
		Name:      memo.Name,
		Message:   memo.Message,
	})

	w.report("Transaction sent! Waiting for confirmation...", types.SeverityLoading)

	waitCtx, cancel := context.WithTimeout(ctx, w.cfg.ConfirmationTimeout)
	defer cancel()

	receipt, err := pending.Wait(waitCtx, w.cfg.Confirmations)
	if err != nil {
		w.markFailed(hash, err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, w.fail(types.ErrTransactionError.WithMessage("Transaction was not confirmed in time").Wrap(err))
		}
		return nil, w.fail(types.ErrTransactionError.Wrap(err))
	}

	var block uint64
	if receipt != nil && receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	w.markConfirmed(hash, block)

	outcome = metrics.OutcomeSuccess
	w.report(fmt.Sprintf("Thanks for the coffee! Transaction confirmed: %s", utils.ShortHash(hash.Hex())), types.SeveritySuccess)

	return &Result{TxHash: hash, Block: block, Amount: sel.Total}, nil
}

// QueryBalance reads the contract's native balance. Owner only.
func (w *Workflow) QueryBalance(ctx context.Context) (decimal.Decimal, error) {
	if err := w.requirePrivileged(); err != nil {
		return decimal.Zero, err
	}
	if !w.guard.Acquire(types.ControlBalance) {
		return decimal.Zero, w.fail(types.ErrInFlight)
	}
	defer w.guard.Release(types.ControlBalance)

	w.report("Getting contract balance...", types.SeverityLoading)

	balance, err := w.readBalance(ctx)
	if err != nil {
		return decimal.Zero, w.fail(types.ErrTransactionError.WithMessage("Balance check failed").Wrap(err))
	}
	w.crossCheckBalance(ctx, balance)

	w.report(fmt.Sprintf("Contract balance: %s ETH ($%s)", balance.StringFixed(6), w.toFiat(balance)), types.SeveritySuccess)
	return balance, nil
}

// Withdraw sends withdraw() to the contract and re-reads the balance after a delay.
// Owner only.
func (w *Workflow) Withdraw(ctx context.Context) (common.Hash, error) {
	sess := w.session.Snapshot()
	if err := w.requirePrivileged(); err != nil {
		return common.Hash{}, err
	}
	if !w.guard.Acquire(types.ControlWithdraw) {
		return common.Hash{}, w.fail(types.ErrInFlight)
	}
	defer w.guard.Release(types.ControlWithdraw)

	start := time.Now()
	outcome := metrics.OutcomeFailed
	defer func() {
		labels := map[string]string{"outcome": outcome}
		w.metrics.IncCounter(metrics.EventWithdraw, labels)
		w.metrics.ObserveLatency(metrics.EventWithdraw, time.Since(start), labels)
	}()

	w.report("Processing withdrawal...", types.SeverityLoading)

	balance, balanceErr := w.readBalance(ctx)
	if balanceErr != nil {
		w.logger.Warn("pre-withdraw balance read failed", map[string]any{"error": balanceErr})
	}

	data, err := w.contract.Pack(clients.MethodWithdraw)
	if err != nil {
		return common.Hash{}, w.fail(types.ErrTransactionError.Wrap(err))
	}

	hash, err := w.wallet.SendTransaction(ctx, types.TxRequest{
		To:   w.contract.Address(),
		Data: data,
	})
	if err != nil {
		if clients.IsUserRejected(err) {
			outcome = metrics.OutcomeRejected
		}
		return common.Hash{}, w.fail(submitError(err))
	}

	outcome = metrics.OutcomeSuccess
	w.logger.Info("withdrawal submitted", map[string]any{"tx_hash": hash.Hex()})

	amount := ""
	if balanceErr == nil {
		if amountWei, err := utils.ToBaseUnits(balance, types.NativeDecimals); err == nil {
			amount = amountWei.String()
		}
	}
	w.record(ctx, &storage.Entry{
		TxHash:    hash.Hex(),
		Kind:      storage.KindWithdraw,
		Account:   sess.Account.Hex(),
		AmountWei: amount,
	})

	w.report(fmt.Sprintf("Withdrawal initiated! Transaction: %s", utils.ShortHash(hash.Hex())), types.SeveritySuccess)
	w.schedule(w.cfg.WithdrawRecheck, func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.ConfirmationTimeout)
		defer cancel()
		if _, err := w.QueryBalance(ctx); err != nil {
			w.logger.Warn("post-withdraw balance recheck failed", map[string]any{"error": err})
		}
	})

	return hash, nil
}

// Balance returns the last balance read, if any.
func (w *Workflow) Balance() (decimal.Decimal, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balance == nil {
		return decimal.Zero, false
	}
	return *w.balance, true
}

// OnBalance registers fn to receive every balance read.
func (w *Workflow) OnBalance(fn func(decimal.Decimal)) {
	w.mu.Lock()
	w.onBalance = append(w.onBalance, fn)
	w.mu.Unlock()
}

// Close cancels scheduled balance rechecks.
func (w *Workflow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for t := range w.timers {
		t.Stop()
	}
	w.timers = map[*time.Timer]struct{}{}
}

func (w *Workflow) requirePrivileged() error {
	sess := w.session.Snapshot()
	if !sess.Connected {
		return w.fail(types.ErrNotConnected)
	}
	if !sess.Privileged {
		return w.fail(types.ErrNotPrivileged)
	}
	return nil
}

func (w *Workflow) readBalance(ctx context.Context) (decimal.Decimal, error) {
	start := time.Now()
	wei, err := w.wallet.BalanceAt(ctx, w.contract.Address())
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailed
	}
	w.metrics.IncCounter(metrics.EventBalance, map[string]string{"outcome": outcome})
	w.metrics.ObserveLatency(metrics.EventBalance, time.Since(start), map[string]string{"outcome": outcome})
	if err != nil {
		return decimal.Zero, err
	}

	balance := utils.FromBaseUnits(wei, types.NativeDecimals)
	w.mu.Lock()
	w.balance = &balance
	listeners := append(([]func(decimal.Decimal))(nil), w.onBalance...)
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(balance)
	}
	return balance, nil
}

// crossCheckBalance compares the account balance with the contract's own
// getBalance view and logs a mismatch.
func (w *Workflow) crossCheckBalance(ctx context.Context, balance decimal.Decimal) {
	wei, err := w.contract.Balance(ctx)
	if err != nil {
		w.logger.Warn("contract getBalance failed", map[string]any{"error": err})
		return
	}
	reported := utils.FromBaseUnits(wei, types.NativeDecimals)
	if !reported.Equal(balance) {
		w.logger.Warn("contract balance mismatch", map[string]any{
			"account_balance":  balance.String(),
			"contract_balance": reported.String(),
		})
	}
}

func (w *Workflow) schedule(delay time.Duration, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		w.mu.Lock()
		_, live := w.timers[t]
		delete(w.timers, t)
		w.mu.Unlock()
		if live {
			fn()
		}
	})
	w.timers[t] = struct{}{}
}

func (w *Workflow) toFiat(amount decimal.Decimal) string {
	if w.fiat == nil {
		return "0.00"
	}
	return w.fiat.ToFiat(amount)
}

// submitError maps a wallet submission failure onto the error taxonomy.
func submitError(err error) *types.CoffeeError {
	if clients.IsUserRejected(err) {
		return types.ErrTransactionRejected.Wrap(err)
	}
	return types.ErrTransactionError.Wrap(err)
}

// fail reports err to the user and returns it.
func (w *Workflow) fail(err *types.CoffeeError) error {
	w.report(err.Error(), types.SeverityError)
	w.logger.Warn("operation failed", map[string]any{"code": err.Code, "error": err})
	return err
}

func (w *Workflow) report(text string, severity types.Severity) {
	if w.notifier != nil {
		w.notifier.Report(text, severity)
	}
}

func (w *Workflow) record(ctx context.Context, e *storage.Entry) {
	if w.ledger == nil {
		return
	}
	if err := w.ledger.Record(ctx, e); err != nil {
		w.logger.Error("ledger record failed", map[string]any{"tx_hash": e.TxHash, "error": err})
	}
}

func (w *Workflow) markConfirmed(hash common.Hash, block uint64) {
	if w.ledger == nil {
		return
	}
	if err := w.ledger.MarkConfirmed(context.Background(), hash.Hex(), block); err != nil {
		w.logger.Error("ledger update failed", map[string]any{"tx_hash": hash.Hex(), "error": err})
	}
}

func (w *Workflow) markFailed(hash common.Hash, reason error) {
	if w.ledger == nil {
		return
	}
	if err := w.ledger.MarkFailed(context.Background(), hash.Hex(), reason.Error()); err != nil {
		w.logger.Error("ledger update failed", map[string]any{"tx_hash": hash.Hex(), "error": err})
	}
}
