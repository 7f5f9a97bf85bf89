// Package ui binds the purchase state to a page: control enablement, display
// texts and the HTTP surface that serves them.
package ui

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/vitwit/coffee/selection"
	"github.com/vitwit/coffee/session"
	"github.com/vitwit/coffee/types"
	"github.com/vitwit/coffee/utils"
)

// FiatConverter renders a base-asset amount in the display currency.
type FiatConverter interface {
	ToFiat(amount decimal.Decimal) string
}

// ControlState is what the page needs to draw one control.
type ControlState struct {
	Visible bool `json:"visible"`
	Enabled bool `json:"enabled"`
}

// TierView is one entry of the tier picker.
type TierView struct {
	ID       types.TierID `json:"id"`
	Name     string       `json:"name"`
	Price    string       `json:"price"`
	Selected bool         `json:"selected"`
}

// View is the full rendered state of the page.
type View struct {
	WalletStatus  string                         `json:"walletStatus"`
	ConnectLabel  string                         `json:"connectLabel"`
	Connected     bool                           `json:"connected"`
	OwnerControls bool                           `json:"ownerControls"`
	Controls      map[types.Control]ControlState `json:"controls"`
	Tiers         []TierView                     `json:"tiers"`
	SelectedText  string                         `json:"selectedText"`
	Quantity      int                            `json:"quantity"`
	MaxQuantity   int                            `json:"maxQuantity"`
	TotalText     string                         `json:"totalText"`
	BalanceText   string                         `json:"balanceText,omitempty"`
	Status        types.StatusMessage            `json:"status"`
}

// Panel is the single holder of every control and display region. Components
// push state into it; the page reads Views out of it.
type Panel struct {
	mu sync.Mutex

	chainName string
	tiers     []types.Tier
	fiat      FiatConverter

	session   session.Snapshot
	selection selection.Snapshot
	status    types.StatusMessage
	balance   *decimal.Decimal
	busy      map[types.Control]bool

	subs map[chan View]struct{}
	seq  uint64

	dispatch  sync.Mutex
	delivered uint64
}

func NewPanel(tiers []types.Tier, chainName string, fiat FiatConverter) *Panel {
	p := &Panel{
		chainName: chainName,
		tiers:     append([]types.Tier(nil), tiers...),
		fiat:      fiat,
		busy:      make(map[types.Control]bool),
		subs:      make(map[chan View]struct{}),
	}
	if len(tiers) > 0 {
		p.selection = selection.Snapshot{Tier: tiers[0], Quantity: 1, Total: tiers[0].UnitPrice}
	}
	return p
}

func (p *Panel) SetSession(s session.Snapshot) {
	p.mutate(func() { p.session = s })
}

func (p *Panel) SetSelection(s selection.Snapshot) {
	p.mutate(func() { p.selection = s })
}

func (p *Panel) SetStatus(m types.StatusMessage) {
	p.mutate(func() { p.status = m })
}

func (p *Panel) SetBalance(b decimal.Decimal) {
	p.mutate(func() { p.balance = &b })
}

// Refresh re-renders fiat texts after a quote change.
func (p *Panel) Refresh() {
	p.mutate(func() {})
}

// allowed is the session-derived part of a control's enabled state.
func (p *Panel) allowed(c types.Control) bool {
	s := p.session
	switch c {
	case types.ControlConnect:
		return s.Available
	case types.ControlTiers, types.ControlIncrease, types.ControlDecrease, types.ControlBuy:
		return s.Available && s.Connected && !s.WrongNetwork
	case types.ControlBalance, types.ControlWithdraw:
		return s.Available && s.Connected && s.Privileged && !s.WrongNetwork
	default:
		return false
	}
}

func (p *Panel) visible(c types.Control) bool {
	switch c {
	case types.ControlBalance, types.ControlWithdraw:
		return p.session.Connected && p.session.Privileged
	default:
		return true
	}
}

// Enabled reports whether c can be triggered now.
func (p *Panel) Enabled(c types.Control) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allowed(c) && !p.busy[c]
}

// Acquire marks every control in cs busy, or none of them if one already is.
func (p *Panel) Acquire(cs ...types.Control) bool {
	p.mu.Lock()
	for _, c := range cs {
		if p.busy[c] {
			p.mu.Unlock()
			return false
		}
	}
	for _, c := range cs {
		p.busy[c] = true
	}
	view := p.renderLocked()
	p.seq++
	seq := p.seq
	subs := p.subscribersLocked()
	p.mu.Unlock()

	p.broadcast(seq, subs, view)
	return true
}

// Release clears the busy mark on cs.
func (p *Panel) Release(cs ...types.Control) {
	p.mutate(func() {
		for _, c := range cs {
			delete(p.busy, c)
		}
	})
}

func (p *Panel) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.renderLocked()
}

// Subscribe returns a channel that always holds the latest View. The returned
// function unsubscribes; the channel is never closed.
func (p *Panel) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	ch <- p.renderLocked()
	p.mu.Unlock()

	return ch, func() {
		p.mu.Lock()
		delete(p.subs, ch)
		p.mu.Unlock()
	}
}

func (p *Panel) mutate(fn func()) {
	p.mu.Lock()
	fn()
	view := p.renderLocked()
	p.seq++
	seq := p.seq
	subs := p.subscribersLocked()
	p.mu.Unlock()

	p.broadcast(seq, subs, view)
}

func (p *Panel) subscribersLocked() []chan View {
	subs := make([]chan View, 0, len(p.subs))
	for ch := range p.subs {
		subs = append(subs, ch)
	}
	return subs
}

// broadcast replaces whatever a slow subscriber has not read yet. A view
// rendered before one already sent is dropped.
func (p *Panel) broadcast(seq uint64, subs []chan View, v View) {
	p.dispatch.Lock()
	defer p.dispatch.Unlock()
	if seq <= p.delivered {
		return
	}
	p.delivered = seq
	for _, ch := range subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

func (p *Panel) renderLocked() View {
	v := View{
		Connected:     p.session.Connected,
		OwnerControls: p.session.Connected && p.session.Privileged,
		Controls:      make(map[types.Control]ControlState, len(types.AllControls)),
		Quantity:      p.selection.Quantity,
		MaxQuantity:   types.MaxQuantity,
		Status:        p.status,
	}

	switch {
	case !p.session.Available:
		v.WalletStatus = "Wallet not installed"
	case p.session.Connected:
		v.WalletStatus = "Connected: " + utils.ShortAddress(p.session.Account.Hex())
	case p.session.WrongNetwork:
		v.WalletStatus = "Please switch to " + p.chainName
	default:
		v.WalletStatus = "Wallet not connected"
	}

	v.ConnectLabel = "Connect Wallet"
	if p.session.Connected {
		v.ConnectLabel = "Connected"
	}

	for _, c := range types.AllControls {
		v.Controls[c] = ControlState{
			Visible: p.visible(c),
			Enabled: p.allowed(c) && !p.busy[c],
		}
	}

	for _, t := range p.tiers {
		v.Tiers = append(v.Tiers, TierView{
			ID:       t.ID,
			Name:     t.Name,
			Price:    fmt.Sprintf("%s ETH ($%s)", t.UnitPrice.String(), p.toFiat(t.UnitPrice)),
			Selected: t.ID == p.selection.Tier.ID,
		})
	}

	if t := p.selection.Tier; t.ID != "" {
		v.SelectedText = fmt.Sprintf("Selected: %s (%s ETH | $%s)", t.Name, t.UnitPrice.String(), p.toFiat(t.UnitPrice))
		v.TotalText = fmt.Sprintf("%s ETH | $%s", p.selection.Total.StringFixed(5), p.toFiat(p.selection.Total))
	}

	if p.balance != nil {
		v.BalanceText = fmt.Sprintf("%s ETH ($%s)", p.balance.StringFixed(6), p.toFiat(*p.balance))
	}
	return v
}

func (p *Panel) toFiat(amount decimal.Decimal) string {
	if p.fiat == nil {
		return "0.00"
	}
	return p.fiat.ToFiat(amount)
}
