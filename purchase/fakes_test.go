package purchase

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/vitwit/coffee/clients"
	"github.com/vitwit/coffee/session"
	"github.com/vitwit/coffee/types"
)

var contractAddr = common.HexToAddress("0xA14B62b2EfC2fdA913A6c025705432c6B35c6Cf0")

type transactCall struct {
	method string
	opts   clients.CallOpts
	args   []interface{}
}

type fakePending struct {
	hash    common.Hash
	receipt *gethtypes.Receipt
	err     error
	block   bool
}

func (p *fakePending) Hash() common.Hash { return p.hash }

func (p *fakePending) Wait(ctx context.Context, _ uint64) (*gethtypes.Receipt, error) {
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.receipt, p.err
}

type fakeContract struct {
	mu           sync.Mutex
	calls        []transactCall
	pending      *fakePending
	err          error
	contract     *clients.CoffeeContract
	balance      *big.Int
	balanceErr   error
	balanceCalls int
}

func newFakeContract() *fakeContract {
	c, err := clients.NewCoffeeContract(contractAddr, nil)
	if err != nil {
		panic(err)
	}
	return &fakeContract{
		contract: c,
		pending: &fakePending{
			hash:    common.HexToHash("0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"),
			receipt: &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(99)},
		},
	}
}

func (f *fakeContract) Address() common.Address { return contractAddr }

func (f *fakeContract) Pack(method string, args ...interface{}) ([]byte, error) {
	return f.contract.Pack(method, args...)
}

func (f *fakeContract) Transact(_ context.Context, method string, opts clients.CallOpts, args ...interface{}) (clients.Pending, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, transactCall{method: method, opts: opts, args: args})
	if f.err != nil {
		return nil, f.err
	}
	return f.pending, nil
}

func (f *fakeContract) Balance(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	if f.balance == nil {
		return big.NewInt(0), nil
	}
	return f.balance, nil
}

func (f *fakeContract) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeWallet struct {
	mu           sync.Mutex
	balance      *big.Int
	balanceErr   error
	balanceCalls int
	sent         []types.TxRequest
	sendErr      error
}

func (f *fakeWallet) SendTransaction(_ context.Context, req types.TxRequest) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	return common.HexToHash("0xfeedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedface"), nil
}

func (f *fakeWallet) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	return f.balance, f.balanceErr
}

func (f *fakeWallet) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceCalls
}

type stubSession struct {
	snap session.Snapshot
}

func (s stubSession) Snapshot() session.Snapshot { return s.snap }

type fakeGuard struct {
	mu   sync.Mutex
	busy map[types.Control]bool

	// acquired runs after a successful Acquire, outside the lock.
	acquired func()
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{busy: make(map[types.Control]bool)}
}

func (g *fakeGuard) Acquire(controls ...types.Control) bool {
	g.mu.Lock()
	for _, c := range controls {
		if g.busy[c] {
			g.mu.Unlock()
			return false
		}
	}
	for _, c := range controls {
		g.busy[c] = true
	}
	hook := g.acquired
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	return true
}

func (g *fakeGuard) Release(controls ...types.Control) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range controls {
		delete(g.busy, c)
	}
}

func (g *fakeGuard) idle() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.busy) == 0
}

type recordingNotifier struct {
	mu      sync.Mutex
	reports []types.StatusMessage
}

func (n *recordingNotifier) Report(text string, severity types.Severity) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, types.StatusMessage{Text: text, Severity: severity})
	return uint64(len(n.reports))
}

func (n *recordingNotifier) last() types.StatusMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.reports) == 0 {
		return types.StatusMessage{}
	}
	return n.reports[len(n.reports)-1]
}

func (n *recordingNotifier) errors() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, r := range n.reports {
		if r.Severity == types.SeverityError {
			c++
		}
	}
	return c
}

type fixedQuote decimal.Decimal

func (q fixedQuote) ToFiat(amount decimal.Decimal) string {
	return amount.Mul(decimal.Decimal(q)).StringFixed(2)
}
