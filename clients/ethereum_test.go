package clients

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/coffee/types"
)

const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func newTestWallet(t *testing.T, nodes backends, approve Approver) *EVMWallet {
	t.Helper()
	key, err := LoadKey(testPrivateKey, "", "")
	require.NoError(t, err)

	w, err := NewEVMWallet(context.Background(), WalletConfig{
		Key:     key,
		RPCUrl:  "http://sepolia",
		Dial:    nodes.dial,
		Approve: approve,
	})
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func TestWallet_AccountsRequireAuthorization(t *testing.T) {
	w := newTestWallet(t, backends{"http://sepolia": newFakeBackend(11155111)}, nil)
	ctx := context.Background()

	accounts, err := w.Accounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts)

	accounts, err = w.RequestAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{testAddress}, accounts)

	accounts, err = w.Accounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{testAddress}, accounts)
}

func TestWallet_LockEmitsEmptyAccounts(t *testing.T) {
	w := newTestWallet(t, backends{"http://sepolia": newFakeBackend(11155111)}, nil)
	ctx := context.Background()
	_, err := w.RequestAccounts(ctx)
	require.NoError(t, err)

	w.Lock()
	ev := <-w.Events()
	assert.Equal(t, AccountsChanged, ev.Kind)
	assert.Empty(t, ev.Accounts)

	_, err = w.RequestAccounts(ctx)
	assert.True(t, IsUserRejected(err))

	w.Unlock()
	ev = <-w.Events()
	assert.Equal(t, []common.Address{testAddress}, ev.Accounts)
}

func TestWallet_SwitchUnknownChain(t *testing.T) {
	w := newTestWallet(t, backends{"http://sepolia": newFakeBackend(11155111)}, nil)

	err := w.SwitchChain(context.Background(), big.NewInt(1))
	require.Error(t, err)
	assert.True(t, IsUnrecognizedChain(err))
}

func TestWallet_AddChainSwitches(t *testing.T) {
	sepolia := newFakeBackend(11155111)
	mainnet := newFakeBackend(1)
	w := newTestWallet(t, backends{"http://sepolia": sepolia, "http://mainnet": mainnet}, nil)
	ctx := context.Background()

	err := w.AddChain(ctx, types.MainnetDescriptor(big.NewInt(1), "http://mainnet"))
	require.NoError(t, err)

	id, err := w.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id.Int64())
	assert.True(t, sepolia.closed)

	ev := <-w.Events()
	assert.Equal(t, ChainChanged, ev.Kind)
	assert.Equal(t, int64(1), ev.ChainID.Int64())

	// known now: switching back and forth works without another add
	require.NoError(t, w.SwitchChain(ctx, big.NewInt(11155111)))
}

func TestWallet_SwitchRejectsMismatchedRPC(t *testing.T) {
	w := newTestWallet(t, backends{"http://sepolia": newFakeBackend(11155111), "http://liar": newFakeBackend(5)}, nil)

	err := w.AddChain(context.Background(), types.MainnetDescriptor(big.NewInt(1), "http://liar"))
	require.Error(t, err)
	assert.False(t, IsUnrecognizedChain(err))
}

func TestWallet_SendTransactionSigns(t *testing.T) {
	node := newFakeBackend(11155111)
	w := newTestWallet(t, backends{"http://sepolia": node}, nil)
	ctx := context.Background()
	_, err := w.RequestAccounts(ctx)
	require.NoError(t, err)

	to := common.HexToAddress("0xA14B62b2EfC2fdA913A6c025705432c6B35c6Cf0")
	hash, err := w.SendTransaction(ctx, types.TxRequest{
		To:       to,
		Data:     []byte{0x3c, 0xcf, 0xd6, 0x0b},
		Value:    big.NewInt(12),
		GasLimit: 300000,
	})
	require.NoError(t, err)

	tx := node.lastSent()
	require.NotNil(t, tx)
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, uint64(300000), tx.Gas())
	assert.Equal(t, node.gasPrice, tx.GasPrice())
	assert.Equal(t, to, *tx.To())

	sender, err := gethtypes.Sender(gethtypes.NewEIP155Signer(big.NewInt(11155111)), tx)
	require.NoError(t, err)
	assert.Equal(t, testAddress, sender)
}

func TestWallet_SendTransactionRequiresAuthorization(t *testing.T) {
	w := newTestWallet(t, backends{"http://sepolia": newFakeBackend(11155111)}, nil)

	_, err := w.SendTransaction(context.Background(), types.TxRequest{To: testAddress})
	assert.Equal(t, CodeUnauthorized, ErrorCode(err))
}

func TestWallet_ApproverRejection(t *testing.T) {
	node := newFakeBackend(11155111)
	w := newTestWallet(t, backends{"http://sepolia": node}, SpendingLimit(big.NewInt(10)))
	ctx := context.Background()
	_, err := w.RequestAccounts(ctx)
	require.NoError(t, err)

	_, err = w.SendTransaction(ctx, types.TxRequest{To: testAddress, Value: big.NewInt(11)})
	require.Error(t, err)
	assert.True(t, IsUserRejected(err))
	assert.Nil(t, node.lastSent())
}

func TestLoadKey(t *testing.T) {
	key, err := LoadKey("0x"+testPrivateKey, "", "")
	require.NoError(t, err)
	assert.Equal(t, testAddress, crypto.PubkeyToAddress(key.PublicKey))

	_, err = LoadKey("", "", "")
	assert.Error(t, err)

	_, err = LoadKey("zz", "", "")
	assert.Error(t, err)
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := newProviderError(CodeInternal, "failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeInternal, ErrorCode(err))
	assert.Equal(t, 0, ErrorCode(cause))
}
