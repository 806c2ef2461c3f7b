package etherman

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/TEENet-io/vault-bridge/config"
	"github.com/TEENet-io/vault-bridge/contracts/BurnGateway"
	"github.com/TEENet-io/vault-bridge/contracts/ERC20"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ETH_ACCOUNTS = 4

// gateway stand ins: one returns a true word for any call, one reverts
const (
	acceptingGatewayCode = "0x600a600c600039600a6000f3600160005260206000f3"
	revertingGatewayCode = "0x6005600c60003960056000f360006000fd"
)

var minted = big.NewInt(100_000_000)

type testEnv struct {
	sim      *SimulatedChain
	etherman *Etherman
	token    *ERC20.ERC20
	cfg      *Config
}

func deployGateway(t *testing.T, sim *SimulatedChain, code string) ethcommon.Address {
	parsed, err := abi.JSON(strings.NewReader(BurnGateway.BurnGatewayABI))
	require.NoError(t, err)
	addr, _, _, err := bind.DeployContract(sim.Accounts[0], parsed, ethcommon.FromHex(code), sim.Backend.Client())
	require.NoError(t, err)
	sim.Backend.Commit()
	return addr
}

// newTestEnv deploys the token, mints to account 1 and binds an Etherman
// signing as account 1.
func newTestEnv(t *testing.T, gatewayCode string) *testEnv {
	sim := NewSimulatedChain(GenPrivateKeys(ETH_ACCOUNTS), big.NewInt(1337))
	require.NotNil(t, sim)
	t.Cleanup(func() { _ = sim.Close() })

	client := sim.Backend.Client()
	tokenAddr, _, token, err := ERC20.DeployERC20(sim.Accounts[0], client, sim.Accounts[0].From)
	require.NoError(t, err)
	sim.Backend.Commit()

	_, err = token.Mint(sim.Accounts[0], sim.Accounts[1].From, minted)
	require.NoError(t, err)
	sim.Backend.Commit()

	cfg := &Config{TokenAddress: tokenAddr, GatewayAddress: deployGateway(t, sim, gatewayCode)}
	etherman, err := NewEtherman(sim.Client(), cfg, sim.Accounts[1])
	require.NoError(t, err)

	stop := sim.AutoCommit(50 * time.Millisecond)
	t.Cleanup(stop)

	return &testEnv{sim: sim, etherman: etherman, token: token, cfg: cfg}
}

func TestNewSimulatedChain(t *testing.T) {
	sim := NewSimulatedChain(GenPrivateKeys(ETH_ACCOUNTS), big.NewInt(1337))
	require.NotNil(t, sim)
	defer sim.Close()

	balance, err := sim.Backend.Client().BalanceAt(context.Background(), sim.Accounts[0].From, nil)
	assert.NoError(t, err)
	assert.Equal(t, "100000000000000000000", balance.String())

	chainId, err := sim.Client().ChainID(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, sim.ChainId, chainId)
}

func TestTokenReads(t *testing.T) {
	env := newTestEnv(t, acceptingGatewayCode)
	ctx := context.Background()

	assert.NoError(t, env.etherman.CheckContracts(ctx))

	decimals, err := env.etherman.Decimals(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 8, decimals)

	balance, err := env.etherman.BalanceOf(ctx, env.etherman.Account())
	require.NoError(t, err)
	assert.Equal(t, minted, balance)

	allowance, err := env.etherman.Allowance(ctx, env.etherman.Account())
	require.NoError(t, err)
	assert.Zero(t, allowance.Sign())
}

func TestApprove(t *testing.T) {
	env := newTestEnv(t, acceptingGatewayCode)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hash, err := env.etherman.Approve(ctx, big.NewInt(80_000_000))
	require.NoError(t, err)
	assert.NotEqual(t, ethcommon.Hash{}, hash)

	allowance, err := env.etherman.Allowance(ctx, env.sim.Accounts[1].From)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(80_000_000), allowance)

	_, err = env.etherman.Approve(ctx, big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = env.etherman.Approve(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCallBurn(t *testing.T) {
	env := newTestEnv(t, acceptingGatewayCode)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hash, err := env.etherman.CallBurn(ctx, "bitcoin|regtest", "bcrt1qs758ursh4q9z627kt3pp5yysm78ddny6txaqgw", big.NewInt(1000), "cHNidP8BAAoCAAAAAAAAAAAAAA==")
	require.NoError(t, err)

	receipt, err := env.sim.Backend.Client().TransactionReceipt(ctx, hash)
	require.NoError(t, err)
	assert.EqualValues(t, 1, receipt.Status)

	tx, _, err := env.sim.Backend.Client().TransactionByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, env.cfg.GatewayAddress, *tx.To())
}

func TestCallBurnReverted(t *testing.T) {
	env := newTestEnv(t, revertingGatewayCode)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// estimation catches the revert before anything is sent
	_, err := env.etherman.CallBurn(ctx, "bitcoin|regtest", "addr", big.NewInt(1000), "psbt")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTxReverted)

	// with a fixed gas limit the tx is mined and fails
	env.cfg.GasLimit = 200_000
	reverting, err := NewEtherman(env.sim.Client(), env.cfg, env.sim.Accounts[1])
	require.NoError(t, err)
	hash, err := reverting.CallBurn(ctx, "bitcoin|regtest", "addr", big.NewInt(1000), "psbt")
	assert.ErrorIs(t, err, ErrTxReverted)
	assert.NotEqual(t, ethcommon.Hash{}, hash)
}

func TestReadOnlyEtherman(t *testing.T) {
	env := newTestEnv(t, acceptingGatewayCode)

	ro, err := NewEtherman(env.sim.Client(), env.cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, ethcommon.Address{}, ro.Account())

	_, err = ro.Approve(context.Background(), big.NewInt(1))
	assert.ErrorIs(t, err, ErrNoAccount)

	balance, err := ro.BalanceOf(context.Background(), env.sim.Accounts[1].From)
	require.NoError(t, err)
	assert.Equal(t, minted, balance)
}

func TestCheckContracts(t *testing.T) {
	env := newTestEnv(t, acceptingGatewayCode)

	cfg := *env.cfg
	cfg.GatewayAddress = env.sim.Accounts[2].From
	e, err := NewEtherman(env.sim.Client(), &cfg, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, e.CheckContracts(context.Background()), ErrNoContractCode)

	_, err = NewEtherman(nil, &cfg, nil)
	assert.ErrorIs(t, err, ErrIncompleteConfig)
}

func TestConfigFromProfile(t *testing.T) {
	p := config.NetworkProfile{
		Name:                 "Regtest",
		EvmRpcUrl:            "http://localhost:8545",
		TokenContractAddress: "0x52908400098527886E0F7030069857D2E4169EE7",
		BurnContractAddress:  "0x8617E340B3D01FA5F11F306F4090FD50E238070D",
		EvmChainId:           "0x539",
	}
	cfg, err := ConfigFromProfile(p)
	require.NoError(t, err)
	assert.Equal(t, ethcommon.HexToAddress(p.TokenContractAddress), cfg.TokenAddress)
	assert.Equal(t, ethcommon.HexToAddress(p.BurnContractAddress), cfg.GatewayAddress)
	assert.EqualValues(t, 1337, cfg.ChainId.Int64())

	p.EvmChainId = "1337"
	cfg, err = ConfigFromProfile(p)
	require.NoError(t, err)
	assert.EqualValues(t, 1337, cfg.ChainId.Int64())

	bad := p
	bad.EvmChainId = "abc"
	_, err = ConfigFromProfile(bad)
	assert.Error(t, err)

	bad = p
	bad.TokenContractAddress = "52908400098527886E0F7030069857D2E4169EE7"
	_, err = ConfigFromProfile(bad)
	assert.Error(t, err)

	bad = p
	bad.EvmRpcUrl = ""
	_, err = ConfigFromProfile(bad)
	assert.ErrorIs(t, err, ErrIncompleteConfig)
}

func TestStringToPrivateKey(t *testing.T) {
	sk, err := StringToPrivateKey("0xdbcec79f3490a6d5d162ca2064661b85c40c93672968bfbd906b952e38c3e8de")
	require.NoError(t, err)
	auth, err := NewAuth(sk, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(sk.PublicKey), auth.From)

	_, err = StringToPrivateKey("zz")
	assert.Error(t, err)
}
