package session

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vitwit/coffee/clients"
	"github.com/vitwit/coffee/types"
)

// fakeProvider scripts wallet responses.
type fakeProvider struct {
	mu sync.Mutex

	available  bool
	chainID    *big.Int
	known      map[string]bool
	accounts   []common.Address
	requestErr error
	addErr     error
	switchErr  error

	switchCalls int
	addCalls    int
	added       []types.ChainDescriptor
	events      chan clients.Event
}

func newFakeProvider(chainID int64, accounts ...common.Address) *fakeProvider {
	id := big.NewInt(chainID)
	return &fakeProvider{
		available: true,
		chainID:   id,
		known:     map[string]bool{types.FormatChainID(id): true},
		accounts:  accounts,
		events:    make(chan clients.Event, 8),
	}
}

func (f *fakeProvider) IsAvailable() bool { return f.available }

func (f *fakeProvider) RequestAccounts(context.Context) ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	return f.accounts, nil
}

func (f *fakeProvider) Accounts(context.Context) ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts, nil
}

func (f *fakeProvider) ChainID(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.chainID), nil
}

func (f *fakeProvider) SwitchChain(_ context.Context, id *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switchCalls++
	if f.switchErr != nil {
		return f.switchErr
	}
	if !f.known[types.FormatChainID(id)] {
		return &clients.ProviderError{Code: clients.CodeUnrecognizedChain, Message: "unrecognized chain"}
	}
	f.chainID = new(big.Int).Set(id)
	return nil
}

func (f *fakeProvider) AddChain(_ context.Context, chain types.ChainDescriptor) error {
	f.mu.Lock()
	f.addCalls++
	f.added = append(f.added, chain)
	if f.addErr != nil {
		f.mu.Unlock()
		return f.addErr
	}
	f.known[chain.ChainID] = true
	f.mu.Unlock()

	id, _ := types.ParseChainID(chain.ChainID)
	return f.SwitchChain(context.Background(), id)
}

func (f *fakeProvider) SendTransaction(context.Context, types.TxRequest) (common.Hash, error) {
	return common.Hash{}, nil
}

func (f *fakeProvider) Call(context.Context, common.Address, []byte) ([]byte, error) {
	return nil, nil
}

func (f *fakeProvider) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	return new(big.Int), nil
}

func (f *fakeProvider) TransactionReceipt(context.Context, common.Hash) (*gethtypes.Receipt, error) {
	return nil, nil
}

func (f *fakeProvider) BlockNumber(context.Context) (uint64, error) { return 0, nil }

func (f *fakeProvider) Events() <-chan clients.Event { return f.events }

func (f *fakeProvider) Close() {}

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

func (n *recordingNotifier) count(severity types.Severity) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, r := range n.reports {
		if r.Severity == severity {
			c++
		}
	}
	return c
}
