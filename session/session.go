// Package session tracks the wallet connection and the role of the active account.
package session

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/coffee/clients"
	"github.com/vitwit/coffee/logger"
	"github.com/vitwit/coffee/metrics"
	"github.com/vitwit/coffee/types"
)

const (
	msgConnecting = "Connecting to wallet..."
	msgConnected  = "Connected to wallet!"
	msgOwner      = "Owner account detected! You can manage the contract."
)

// Snapshot is the session state handed to listeners.
type Snapshot struct {
	// Available is false when no wallet capability is present.
	Available    bool           `json:"available"`
	Connected    bool           `json:"connected"`
	Account      common.Address `json:"account"`
	Privileged   bool           `json:"privileged"`
	WrongNetwork bool           `json:"wrongNetwork"`
}

type Listener func(Snapshot)

// Config is the session's view of the static configuration.
type Config struct {
	ChainID *big.Int

	// Chain is offered to the wallet when it does not know ChainID.
	Chain types.ChainDescriptor

	// PrivilegedAddress is compared case-insensitively with the active account.
	PrivilegedAddress string
}

// Session is either Disconnected or Connected(account, privileged).
// Listeners see changes in the order they were applied; a snapshot older than
// one already delivered is dropped.
type Session struct {
	mu        sync.RWMutex
	state     Snapshot
	seq       uint64
	listeners []Listener

	dispatch  sync.Mutex
	delivered uint64

	provider clients.Provider
	cfg      Config
	notifier types.Notifier
	logger   logger.Logger
	metrics  metrics.Recorder
}

// New returns a Disconnected session. provider may be nil when no wallet is present.
func New(provider clients.Provider, cfg Config, notifier types.Notifier, l logger.Logger, m metrics.Recorder) *Session {
	return &Session{
		provider: provider,
		cfg:      cfg,
		notifier: notifier,
		logger:   logger.OrNoop(l),
		metrics:  metrics.OrNoop(m),
		state:    Snapshot{Available: provider != nil && provider.IsAvailable()},
	}
}

func (s *Session) available() bool {
	return s.provider != nil && s.provider.IsAvailable()
}

// Init inspects the wallet at startup without prompting: it flags a chain mismatch
// and adopts accounts the wallet already exposes.
func (s *Session) Init(ctx context.Context) error {
	if !s.available() {
		s.update(func(st *Snapshot) { *st = Snapshot{} })
		s.report(types.ErrProviderUnavailable.Message, types.SeverityError)
		return types.ErrProviderUnavailable
	}

	current, err := s.provider.ChainID(ctx)
	if err != nil {
		s.logger.Error("chain id read failed", map[string]any{"error": err})
		s.report("Error initializing. Please try again.", types.SeverityError)
		return types.ErrWrongNetwork.Wrap(err)
	}
	mismatch := current.Cmp(s.cfg.ChainID) != 0
	s.update(func(st *Snapshot) {
		st.Available = true
		st.WrongNetwork = mismatch
	})
	if mismatch {
		s.report(fmt.Sprintf("This app requires %s. Please connect to it.", s.chainName()), types.SeverityWarning)
	}

	accounts, err := s.provider.Accounts(ctx)
	if err != nil {
		s.logger.Warn("account read failed", map[string]any{"error": err})
		return nil
	}
	s.HandleAccounts(accounts)
	return nil
}

// Connect verifies the network, asks the wallet for account access and
// transitions to Connected on success.
func (s *Session) Connect(ctx context.Context) error {
	if !s.available() {
		s.report(types.ErrProviderUnavailable.Message, types.SeverityError)
		return types.ErrProviderUnavailable
	}

	s.report(msgConnecting, types.SeverityLoading)

	if err := s.ensureNetwork(ctx); err != nil {
		s.metrics.IncCounter(metrics.EventConnect, map[string]string{"outcome": metrics.OutcomeFailed})
		s.report(err.Message, types.SeverityError)
		return err
	}

	accounts, err := s.provider.RequestAccounts(ctx)
	if err != nil {
		outcome := metrics.OutcomeFailed
		if clients.IsUserRejected(err) {
			outcome = metrics.OutcomeRejected
		}
		s.metrics.IncCounter(metrics.EventConnect, map[string]string{"outcome": outcome})
		s.logger.Warn("account request failed", map[string]any{"error": err})
		s.report(types.ErrNoAccounts.Message, types.SeverityError)
		return types.ErrNoAccounts.Wrap(err)
	}
	if len(accounts) == 0 {
		s.metrics.IncCounter(metrics.EventConnect, map[string]string{"outcome": metrics.OutcomeFailed})
		s.report(types.ErrNoAccounts.Message, types.SeverityError)
		return types.ErrNoAccounts
	}

	s.metrics.IncCounter(metrics.EventConnect, map[string]string{"outcome": metrics.OutcomeSuccess})
	s.report(msgConnected, types.SeveritySuccess)
	s.HandleAccounts(accounts)
	return nil
}

// ensureNetwork makes the wallet's active chain the configured one, adding the
// chain to the wallet when it does not know it.
func (s *Session) ensureNetwork(ctx context.Context) *types.CoffeeError {
	current, err := s.provider.ChainID(ctx)
	if err != nil {
		return types.ErrWrongNetwork.WithMessage("Error checking network. Please try again.").Wrap(err)
	}
	if current.Cmp(s.cfg.ChainID) == 0 {
		s.update(func(st *Snapshot) { st.WrongNetwork = false })
		return nil
	}

	s.logger.Info("switching wallet network", map[string]any{
		"current":  types.FormatChainID(current),
		"required": types.FormatChainID(s.cfg.ChainID),
	})

	err = s.provider.SwitchChain(ctx, s.cfg.ChainID)
	if err != nil {
		if !clients.IsUnrecognizedChain(err) {
			s.markWrongNetwork()
			return types.ErrWrongNetwork.Wrap(err)
		}
		if addErr := s.provider.AddChain(ctx, s.cfg.Chain); addErr != nil {
			s.markWrongNetwork()
			return types.ErrWrongNetwork.
				WithMessage("Failed to add the network. Please add it manually in your wallet.").
				Wrap(addErr)
		}
	}

	current, err = s.provider.ChainID(ctx)
	if err != nil || current.Cmp(s.cfg.ChainID) != 0 {
		s.markWrongNetwork()
		return types.ErrWrongNetwork.Wrap(err)
	}
	s.update(func(st *Snapshot) { st.WrongNetwork = false })
	return nil
}

func (s *Session) markWrongNetwork() {
	s.update(func(st *Snapshot) { st.WrongNetwork = true })
}

// HandleAccounts applies an account-change notification. An empty list always
// disconnects; otherwise the first account becomes active.
func (s *Session) HandleAccounts(accounts []common.Address) {
	var prev, next Snapshot
	s.mu.Lock()
	prev = s.state
	if len(accounts) == 0 {
		s.state.Connected = false
		s.state.Account = common.Address{}
		s.state.Privileged = false
	} else {
		account := accounts[0]
		s.state.Connected = true
		s.state.Account = account
		s.state.Privileged = s.isPrivileged(account)
	}
	next = s.state
	s.seq++
	seq := s.seq
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	switch {
	case prev.Connected && !next.Connected:
		s.logger.Info("wallet disconnected", map[string]any{"account": prev.Account.Hex()})
		s.metrics.IncCounter(metrics.EventDisconnect, nil)
	case next.Connected && prev.Account != next.Account:
		s.logger.Info("wallet account active", map[string]any{
			"account":    next.Account.Hex(),
			"privileged": next.Privileged,
		})
	}

	s.publish(seq, listeners, next)

	if next.Privileged && (!prev.Privileged || prev.Account != next.Account) {
		s.report(msgOwner, types.SeverityInfo)
	}
}

func (s *Session) isPrivileged(account common.Address) bool {
	if s.cfg.PrivilegedAddress == "" {
		return false
	}
	return strings.EqualFold(account.Hex(), s.cfg.PrivilegedAddress)
}

// HandleChainChanged re-runs network verification in place. A connected
// session that can no longer be brought onto the required chain is disconnected.
func (s *Session) HandleChainChanged(ctx context.Context, chainID *big.Int) error {
	s.metrics.IncCounter(metrics.EventChainChange, nil)
	if chainID != nil {
		s.logger.Info("wallet chain changed", map[string]any{"chain_id": types.FormatChainID(chainID)})
	}

	if !s.Snapshot().Connected {
		if chainID != nil {
			mismatch := chainID.Cmp(s.cfg.ChainID) != 0
			s.update(func(st *Snapshot) { st.WrongNetwork = mismatch })
		}
		return nil
	}

	if err := s.ensureNetwork(ctx); err != nil {
		s.HandleAccounts(nil)
		s.report(err.Message, types.SeverityError)
		return err
	}

	accounts, err := s.provider.Accounts(ctx)
	if err != nil {
		s.HandleAccounts(nil)
		s.report(types.ErrNoAccounts.Message, types.SeverityError)
		return types.ErrNoAccounts.Wrap(err)
	}
	s.HandleAccounts(accounts)
	return nil
}

// Run consumes wallet notifications until ctx is done or events is closed.
func (s *Session) Run(ctx context.Context, events <-chan clients.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.logger.Warn("wallet event stream closed", nil)
				s.HandleAccounts(nil)
				s.update(func(st *Snapshot) { st.Available = false })
				return
			}
			switch ev.Kind {
			case clients.AccountsChanged:
				s.HandleAccounts(ev.Accounts)
			case clients.ChainChanged:
				s.HandleChainChanged(ctx, ev.ChainID)
			default:
				s.logger.Debug("ignoring wallet event", map[string]any{"kind": ev.Kind.String()})
			}
		}
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers fn for every state change.
func (s *Session) Subscribe(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Session) update(fn func(*Snapshot)) {
	s.mu.Lock()
	prev := s.state
	fn(&s.state)
	next := s.state
	if prev == next {
		s.mu.Unlock()
		return
	}
	s.seq++
	seq := s.seq
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	s.publish(seq, listeners, next)
}

func (s *Session) publish(seq uint64, listeners []Listener, snap Snapshot) {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()
	if seq <= s.delivered {
		return
	}
	s.delivered = seq
	for _, fn := range listeners {
		fn(snap)
	}
}

func (s *Session) report(text string, severity types.Severity) {
	if s.notifier != nil {
		s.notifier.Report(text, severity)
	}
}

func (s *Session) chainName() string {
	if s.cfg.Chain.ChainName != "" {
		return s.cfg.Chain.ChainName
	}
	return "chain " + types.FormatChainID(s.cfg.ChainID)
}
