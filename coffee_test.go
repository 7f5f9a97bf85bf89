package coffee

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/coffee/clients"
	"github.com/vitwit/coffee/storage"
	"github.com/vitwit/coffee/types"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testOwner = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

// fakeNode is a chain node that mines every transaction immediately.
type fakeNode struct {
	mu       sync.Mutex
	chainID  *big.Int
	nonce    uint64
	balance  *big.Int
	prices   map[byte]*big.Int
	sent     []*gethtypes.Transaction
	receipts map[common.Hash]*gethtypes.Receipt
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		chainID: big.NewInt(1),
		balance: new(big.Int).Mul(big.NewInt(15), big.NewInt(1e17)),
		prices: map[byte]*big.Int{
			0: big.NewInt(1e15),
			1: big.NewInt(3e15),
			2: big.NewInt(5e15),
		},
		receipts: make(map[common.Hash]*gethtypes.Receipt),
	}
}

func (n *fakeNode) ChainID(context.Context) (*big.Int, error) { return n.chainID, nil }

func (n *fakeNode) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nonce, nil
}

func (n *fakeNode) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1e9), nil }

func (n *fakeNode) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) { return 60_000, nil }

func (n *fakeNode) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, tx)
	n.nonce++
	n.receipts[tx.Hash()] = &gethtypes.Receipt{
		Status:      gethtypes.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(int64(100 + len(n.sent))),
	}
	return nil
}

// CallContract answers coffeePrices(i) from prices and anything else with the balance.
func (n *fakeNode) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if len(msg.Data) == 36 {
		if p, ok := n.prices[msg.Data[35]]; ok {
			return common.LeftPadBytes(p.Bytes(), 32), nil
		}
	}
	return common.LeftPadBytes(n.balance.Bytes(), 32), nil
}

func (n *fakeNode) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return n.balance, nil
}

func (n *fakeNode) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (n *fakeNode) BlockNumber(context.Context) (uint64, error) { return 200, nil }

func (n *fakeNode) Close() {}

func (n *fakeNode) lastSent() *gethtypes.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return nil
	}
	return n.sent[len(n.sent)-1]
}

type fixedQuotes struct{ price decimal.Decimal }

func (f fixedQuotes) FetchQuote(context.Context) (decimal.Decimal, error) { return f.price, nil }

func testConfig(owner string) *types.Config {
	cfg := types.DefaultConfig()
	cfg.RPCUrl = "http://mainnet.local"
	cfg.OwnerAddress = owner
	cfg.LedgerPath = ""
	cfg.Timing.WithdrawRecheck = time.Hour
	return cfg
}

func newWallet(t *testing.T, node *fakeNode) *clients.EVMWallet {
	t.Helper()
	key, err := crypto.HexToECDSA(testKey)
	require.NoError(t, err)

	w, err := clients.NewEVMWallet(context.Background(), clients.WalletConfig{
		Key:    key,
		RPCUrl: "http://mainnet.local",
		Dial: func(context.Context, string) (clients.Backend, error) {
			return node, nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func startApp(t *testing.T, cfg *types.Config, opts ...Option) *Coffee {
	t.Helper()
	opts = append([]Option{WithQuoteSource(fixedQuotes{price: decimal.NewFromInt(2000)})}, opts...)
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(testOwner)
	cfg.ContractAddress = "not-an-address"

	_, err := New(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, &types.CoffeeError{Code: types.ErrCodeConfig})
}

func TestCoffee_WithoutWallet(t *testing.T) {
	c := startApp(t, testConfig(testOwner))

	v := c.View()
	assert.Equal(t, "Wallet not installed", v.WalletStatus)
	assert.Equal(t, types.ErrProviderUnavailable.Message, c.Status().Text)

	err := c.Purchase(context.Background(), types.Memo{})
	assert.ErrorIs(t, err, types.ErrNotConnected)
	assert.Equal(t, "Please connect your wallet first", c.Status().Text)

	assert.ErrorIs(t, c.Connect(context.Background()), types.ErrProviderUnavailable)

	history, err := c.History(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCoffee_SelectionDisabledUntilConnected(t *testing.T) {
	node := newFakeNode()
	c := startApp(t, testConfig(testOwner), WithProvider(newWallet(t, node)))

	assert.ErrorIs(t, c.SelectTier(types.TierMedium), types.ErrControlDisabled)
	assert.ErrorIs(t, c.Increase(), types.ErrControlDisabled)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.SelectTier(types.TierMedium))
	require.NoError(t, c.Increase())
	assert.Equal(t, 2, c.View().Quantity)
	require.NoError(t, c.Decrease())
	require.NoError(t, c.Decrease())
	assert.Equal(t, 1, c.View().Quantity)
}

func TestCoffee_PurchaseEndToEnd(t *testing.T) {
	node := newFakeNode()
	ledger, err := storage.Open(t.TempDir() + "/ledger.db")
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	c := startApp(t, testConfig(testOwner), WithProvider(newWallet(t, node)), WithLedger(ledger))
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	snap := c.Session()
	assert.True(t, snap.Connected)
	assert.True(t, snap.Privileged)

	require.NoError(t, c.SelectTier(types.TierMedium))
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Increase())
	}
	v := c.View()
	assert.Equal(t, "Selected: Medium (0.003 ETH | $6.00)", v.SelectedText)
	assert.Equal(t, "0.01200 ETH | $24.00", v.TotalText)

	res, err := c.Buy(ctx, types.Memo{})
	require.NoError(t, err)
	assert.Equal(t, "0.012", res.Amount.String())

	tx := node.lastSent()
	require.NotNil(t, tx)
	assert.Equal(t, big.NewInt(12e15), tx.Value())
	assert.Equal(t, uint64(300000), tx.Gas())
	assert.Equal(t, big.NewInt(10_000_000_000), tx.GasPrice())
	assert.True(t, strings.HasPrefix(c.Status().Text, "Thanks for the coffee! Transaction confirmed: "))

	history, err := c.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, storage.StatusConfirmed, history[0].Status)
	assert.Equal(t, "12000000000000000", history[0].AmountWei)
	assert.Equal(t, 4, history[0].Quantity)
}

func TestCoffee_OwnerBalanceAndWithdraw(t *testing.T) {
	node := newFakeNode()
	c := startApp(t, testConfig(testOwner), WithProvider(newWallet(t, node)))
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.View().OwnerControls)

	bal, err := c.QueryBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.5", bal.String())
	assert.Equal(t, "1.500000 ETH ($3000.00)", c.View().BalanceText)

	hash, err := c.Withdraw(ctx)
	require.NoError(t, err)
	tx := node.lastSent()
	require.NotNil(t, tx)
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, common.FromHex("0x3ccfd60b"), tx.Data())
}

func TestCoffee_NonOwnerCannotManage(t *testing.T) {
	node := newFakeNode()
	c := startApp(t, testConfig("0x1A620655adbd8a4A25bF5F471a3D8F0a5d946570"), WithProvider(newWallet(t, node)))
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	assert.False(t, c.View().OwnerControls)

	_, err := c.QueryBalance(ctx)
	assert.ErrorIs(t, err, types.ErrNotPrivileged)
	_, err = c.Withdraw(ctx)
	assert.ErrorIs(t, err, types.ErrNotPrivileged)
	assert.Nil(t, node.lastSent())
}

func TestCoffee_WalletLockDisconnects(t *testing.T) {
	node := newFakeNode()
	wallet := newWallet(t, node)
	c := startApp(t, testConfig(testOwner), WithProvider(wallet))

	require.NoError(t, c.Connect(context.Background()))
	require.True(t, c.View().OwnerControls)

	wallet.Lock()

	assert.Eventually(t, func() bool {
		v := c.View()
		return !v.Connected && !v.OwnerControls && !v.Controls[types.ControlBuy].Enabled
	}, time.Second, 10*time.Millisecond)
}
