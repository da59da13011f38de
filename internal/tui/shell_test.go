package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianpay/x402-wallet/internal/config"
	"github.com/meridianpay/x402-wallet/internal/custodial"
	"github.com/meridianpay/x402-wallet/internal/models"
	"github.com/meridianpay/x402-wallet/internal/wallet"
)

const shellTestAddress = "0x1111111111111111111111111111111111111111"

// shellFixture backs a Model with a live session against a fake custodial
// service.
type shellFixture struct {
	model Model

	balanceMicros int64
	grantMicros   int64
	faucetCalls   int
}

func newShellFixture(t *testing.T, balanceMicros int64) *shellFixture {
	t.Helper()

	f := &shellFixture{balanceMicros: balanceMicros, grantMicros: 5_000_000}

	mux := http.NewServeMux()
	mux.HandleFunc("/platform/v2/evm/accounts", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.Account{Address: shellTestAddress, Name: "shell-account"})
	})
	mux.HandleFunc("/platform/v2/evm/token-balances/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.TokenBalancesResponse{
			Balances: []models.TokenBalance{{
				Token:  models.Token{ContractAddress: config.DefaultTokenContract, Network: "base-sepolia"},
				Amount: models.TokenAmount{Amount: fmt.Sprintf("%d", f.balanceMicros), Decimals: 6},
			}},
		})
	})
	mux.HandleFunc("/platform/v2/evm/faucet", func(w http.ResponseWriter, r *http.Request) {
		f.faucetCalls++
		f.balanceMicros += f.grantMicros
		json.NewEncoder(w).Encode(models.FaucetResponse{TransactionHash: "0xfaucet"})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := config.NewConfig()
	cfg.BaseURL = server.URL
	cfg.SnapshotFile = filepath.Join(t.TempDir(), "wallet.json")
	cfg.MaxRetries = 1
	cfg.RetryDelay = time.Millisecond
	cfg.FundTimeout = time.Second

	session := wallet.NewSession(cfg, custodial.NewClient(cfg))
	_, err := session.GetOrCreateAccount(context.Background())
	require.NoError(t, err)

	f.model = NewModel(cfg)
	f.model.session = session
	f.model.state = stateReady
	return f
}

func TestFundCmd_ReportsFaucetRequest(t *testing.T) {
	f := newShellFixture(t, 0)

	msg := f.model.fundCmd(5.0)()
	out, ok := msg.(CommandOutput)
	require.True(t, ok)

	require.NoError(t, out.Err)
	require.Equal(t, 1, f.faucetCalls)
	require.NotEmpty(t, out.Lines)
	assert.Equal(t, "Faucet request sent", out.Lines[0])
	assert.Contains(t, out.Lines[1], "5.000000")
}

func TestFundCmd_ReportsShortCircuit(t *testing.T) {
	f := newShellFixture(t, 10_000_000)

	msg := f.model.fundCmd(5.0)()
	out, ok := msg.(CommandOutput)
	require.True(t, ok)

	require.NoError(t, out.Err)
	assert.Zero(t, f.faucetCalls)
	require.NotEmpty(t, out.Lines)
	assert.Equal(t, "Already funded, no faucet request needed", out.Lines[0])
}

func TestFundCmd_ReportsValidationError(t *testing.T) {
	f := newShellFixture(t, 0)

	msg := f.model.fundCmd(-1)()
	out, ok := msg.(CommandOutput)
	require.True(t, ok)

	require.Error(t, out.Err)
	assert.Zero(t, f.faucetCalls)
}

func TestBalanceCmd(t *testing.T) {
	f := newShellFixture(t, 2_500_000)

	msg := f.model.balanceCmd()()
	out, ok := msg.(CommandOutput)
	require.True(t, ok)

	require.NoError(t, out.Err)
	require.Len(t, out.Lines, 1)
	assert.Contains(t, out.Lines[0], "2.500000")
}
