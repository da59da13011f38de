package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianpay/x402-wallet/internal/config"
	"github.com/meridianpay/x402-wallet/internal/custodial"
	"github.com/meridianpay/x402-wallet/internal/errs"
	"github.com/meridianpay/x402-wallet/internal/models"
)

const sessionTestAddress = "0x1111111111111111111111111111111111111111"

// fakeCustodialService fakes the account, balance and faucet endpoints with
// per-test overridable handlers and call counters.
type fakeCustodialService struct {
	server *httptest.Server

	createCalls  int
	balanceCalls int
	faucetCalls  int

	createdNames []string

	// balanceMicros is returned from the balance endpoint in 6-decimal base
	// units. Negative means "answer 500".
	balanceMicros int64
	// omitHolding drops the token from the balance response entirely.
	omitHolding bool
	// conflictsRemaining makes the create endpoint answer 409 that many times.
	conflictsRemaining int
	// faucetStatus overrides the faucet response code when non-zero.
	faucetStatus int
	// grantMicros is added to the balance on a successful faucet call.
	grantMicros int64
	// failBalanceAfterFaucet makes balance reads fail once the faucet ran.
	failBalanceAfterFaucet bool
	// onFaucet runs inside the faucet handler before it responds.
	onFaucet func()
}

func newFakeCustodialService(t *testing.T) *fakeCustodialService {
	t.Helper()

	f := &fakeCustodialService{}
	mux := http.NewServeMux()

	mux.HandleFunc("/platform/v2/evm/accounts", func(w http.ResponseWriter, r *http.Request) {
		f.createCalls++

		var body models.CreateAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.createdNames = append(f.createdNames, body.Name)

		if f.conflictsRemaining > 0 {
			f.conflictsRemaining--
			w.WriteHeader(http.StatusConflict)
			fmt.Fprint(w, `{"error": "account name already exists"}`)
			return
		}

		json.NewEncoder(w).Encode(models.Account{Address: sessionTestAddress, Name: body.Name})
	})

	mux.HandleFunc("/platform/v2/evm/token-balances/", func(w http.ResponseWriter, r *http.Request) {
		f.balanceCalls++

		if f.balanceMicros < 0 || (f.failBalanceAfterFaucet && f.faucetCalls > 0) {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error": "ledger unavailable"}`)
			return
		}

		response := models.TokenBalancesResponse{}
		if !f.omitHolding {
			response.Balances = []models.TokenBalance{
				{
					Token: models.Token{
						ContractAddress: config.DefaultTokenContract,
						Network:         "base-sepolia",
						Symbol:          "USDC",
					},
					Amount: models.TokenAmount{
						Amount:   fmt.Sprintf("%d", f.balanceMicros),
						Decimals: 6,
					},
				},
			}
		}
		json.NewEncoder(w).Encode(response)
	})

	mux.HandleFunc("/platform/v2/evm/faucet", func(w http.ResponseWriter, r *http.Request) {
		f.faucetCalls++
		if f.onFaucet != nil {
			f.onFaucet()
		}

		if f.faucetStatus != 0 {
			w.WriteHeader(f.faucetStatus)
			fmt.Fprint(w, `{"error": "faucet refused"}`)
			return
		}

		f.balanceMicros += f.grantMicros
		json.NewEncoder(w).Encode(models.FaucetResponse{TransactionHash: "0xfaucet"})
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeCustodialService) session(t *testing.T) (*Session, *config.Config) {
	t.Helper()

	cfg := config.NewConfig()
	cfg.BaseURL = f.server.URL
	cfg.SnapshotFile = filepath.Join(t.TempDir(), "wallet.json")
	cfg.MaxRetries = 1
	cfg.RetryDelay = time.Millisecond
	cfg.FundTimeout = time.Second

	return NewSession(cfg, custodial.NewClient(cfg)), cfg
}

func TestGetOrCreateAccount(t *testing.T) {
	svc := newFakeCustodialService(t)
	session, cfg := svc.session(t)

	account, err := session.GetOrCreateAccount(context.Background())
	require.NoError(t, err)

	assert.Equal(t, sessionTestAddress, account.Address)
	assert.Equal(t, cfg.AccountName, account.Name)
	assert.Equal(t, 1, svc.createCalls)
}

func TestGetOrCreateAccount_RecoversNameFromSnapshot(t *testing.T) {
	svc := newFakeCustodialService(t)
	session, cfg := svc.session(t)

	_, err := session.GetOrCreateAccount(context.Background())
	require.NoError(t, err)

	// A second session over the same snapshot must ask for the same name even
	// when the configured name differs.
	cfg.AccountName = "some-other-name"
	second := NewSession(cfg, custodial.NewClient(cfg))

	account, err := second.GetOrCreateAccount(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, svc.createCalls)
	assert.Equal(t, svc.createdNames[0], svc.createdNames[1])
	assert.Equal(t, svc.createdNames[0], account.Name)
}

func TestGetOrCreateAccount_RetriesCollisionOnce(t *testing.T) {
	svc := newFakeCustodialService(t)
	svc.conflictsRemaining = 1
	session, cfg := svc.session(t)

	account, err := session.GetOrCreateAccount(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, svc.createCalls)
	assert.Equal(t, cfg.AccountName, svc.createdNames[0])
	assert.True(t, strings.HasPrefix(svc.createdNames[1], cfg.AccountName+"-"))
	assert.NotEqual(t, svc.createdNames[0], svc.createdNames[1])
	assert.Equal(t, svc.createdNames[1], account.Name)
}

func TestGetOrCreateAccount_SecondCollisionIsFatal(t *testing.T) {
	svc := newFakeCustodialService(t)
	svc.conflictsRemaining = 2
	session, _ := svc.session(t)

	_, err := session.GetOrCreateAccount(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.KindAccount, errs.KindOf(err))
	assert.Equal(t, 2, svc.createCalls)
}

func TestGetOrCreateAccount_IdempotentInMemory(t *testing.T) {
	svc := newFakeCustodialService(t)
	svc.balanceMicros = 1_000_000
	session, _ := svc.session(t)
	ctx := context.Background()

	_, err := session.GetOrCreateAccount(ctx)
	require.NoError(t, err)
	session.GetBalance(ctx)

	// Account in memory plus a valid cache: no further I/O.
	_, err = session.GetOrCreateAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.createCalls)
}

func TestGetBalance_CachedAfterFirstFetch(t *testing.T) {
	svc := newFakeCustodialService(t)
	svc.balanceMicros = 2_500_000
	session, _ := svc.session(t)
	ctx := context.Background()

	_, err := session.GetOrCreateAccount(ctx)
	require.NoError(t, err)

	first := session.GetBalance(ctx)
	second := session.GetBalance(ctx)

	assert.Equal(t, 2.5, first)
	assert.Equal(t, 2.5, second)
	assert.Equal(t, 1, svc.balanceCalls)
}

func TestGetBalance_AbsentHoldingIsZero(t *testing.T) {
	svc := newFakeCustodialService(t)
	svc.omitHolding = true
	session, _ := svc.session(t)
	ctx := context.Background()

	_, err := session.GetOrCreateAccount(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0.0, session.GetBalance(ctx))
	assert.True(t, session.CacheValid())
}

func TestGetBalance_FetchFailureDegradesToZero(t *testing.T) {
	svc := newFakeCustodialService(t)
	svc.balanceMicros = -1
	session, _ := svc.session(t)
	ctx := context.Background()

	_, err := session.GetOrCreateAccount(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0.0, session.GetBalance(ctx))
	assert.False(t, session.CacheValid())
}

func TestGetBalance_FetchFailureServesLastKnown(t *testing.T) {
	svc := newFakeCustodialService(t)
	svc.balanceMicros = 3_000_000
	session, _ := svc.session(t)
	ctx := context.Background()

	_, err := session.GetOrCreateAccount(ctx)
	require.NoError(t, err)
	require.Equal(t, 3.0, session.GetBalance(ctx))

	session.InvalidateBalanceCache()
	svc.balanceMicros = -1

	assert.Equal(t, 3.0, session.GetBalance(ctx))
	assert.False(t, session.CacheValid())
}

func TestGetBalance_RetriesNetworkFailures(t *testing.T) {
	svc := newFakeCustodialService(t)
	svc.balanceMicros = -1
	session, cfg := svc.session(t)
	cfg.MaxRetries = 3
	session = NewSession(cfg, custodial.NewClient(cfg))
	ctx := context.Background()

	_, err := session.GetOrCreateAccount(ctx)
	require.NoError(t, err)

	session.GetBalance(ctx)
	assert.Equal(t, 3, svc.balanceCalls)
}

func TestFund_ShortCircuitsWhenFunded(t *testing.T) {
	svc := newFakeCustodialService(t)
	svc.balanceMicros = 10_000_000
	session, _ := svc.session(t)
	ctx := context.Background()

	_, err := session.GetOrCreateAccount(ctx)
	require.NoError(t, err)

	funded, err := session.Fund(ctx, 5.0)
	require.NoError(t, err)
	assert.True(t, funded)
	assert.Zero(t, svc.faucetCalls)
	assert.True(t, session.CacheValid())
}

func TestFund_RejectsInvalidAmounts(t *testing.T) {
	svc := newFakeCustodialService(t)
	session, cfg := svc.session(t)
	ctx := context.Background()

	_, err := session.GetOrCreateAccount(ctx)
	require.NoError(t, err)
	createCalls := svc.createCalls

	for _, amount := range []float64{0, -1, math.NaN(), math.Inf(1), cfg.FundCeiling + 1} {
		_, err := session.Fund(ctx, amount)
		require.Error(t, err, "amount %f", amount)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err), "amount %f", amount)
	}

	// Rejections happen before any network traffic.
	assert.Zero(t, svc.faucetCalls)
	assert.Zero(t, svc.balanceCalls)
	assert.Equal(t, createCalls, svc.createCalls)
}

func TestFund_RequestsFaucetAndRefreshes(t *testing.T) {
	svc := newFakeCustodialService(t)
	svc.balanceMicros = 0
	svc.grantMicros = 5_000_000
	session, _ := svc.session(t)
	ctx := context.Background()

	_, err := session.GetOrCreateAccount(ctx)
	require.NoError(t, err)

	funded, err := session.Fund(ctx, 5.0)
	require.NoError(t, err)
	assert.True(t, funded)
	assert.Equal(t, 1, svc.faucetCalls)
	assert.True(t, session.CacheValid())

	// The refreshed balance is served from cache.
	balanceCalls := svc.balanceCalls
	assert.Equal(t, 5.0, session.GetBalance(ctx))
	assert.Equal(t, balanceCalls, svc.balanceCalls)
}

func TestFund_InvalidatesCacheBeforeFaucetCall(t *testing.T) {
	svc := newFakeCustodialService(t)
	svc.balanceMicros = 1_000_000
	svc.grantMicros = 5_000_000
	session, _ := svc.session(t)
	ctx := context.Background()

	_, err := session.GetOrCreateAccount(ctx)
	require.NoError(t, err)

	// Start from a Valid cache so the transition is observable.
	session.GetBalance(ctx)
	require.True(t, session.CacheValid())

	validDuringFaucet := true
	svc.onFaucet = func() {
		validDuringFaucet = session.CacheValid()
	}

	funded, err := session.Fund(ctx, 5.0)
	require.NoError(t, err)
	require.True(t, funded)
	require.Equal(t, 1, svc.faucetCalls)

	// The cache must already be Invalidated by the time the faucet request
	// arrives, so no concurrent reader trusts the pre-write value.
	assert.False(t, validDuringFaucet)
	assert.True(t, session.CacheValid())
}

func TestFund_FaucetFailureLeavesCacheInvalidated(t *testing.T) {
	svc := newFakeCustodialService(t)
	svc.balanceMicros = 0
	svc.faucetStatus = http.StatusInternalServerError
	session, _ := svc.session(t)
	ctx := context.Background()

	_, err := session.GetOrCreateAccount(ctx)
	require.NoError(t, err)

	funded, err := session.Fund(ctx, 5.0)
	require.Error(t, err)
	assert.False(t, funded)
	// Invalidation precedes the write, so a failed write leaves the cache
	// untrusted rather than serving the pre-write value.
	assert.False(t, session.CacheValid())
}

func TestFund_RateLimitedFaucet(t *testing.T) {
	svc := newFakeCustodialService(t)
	svc.balanceMicros = 0
	svc.faucetStatus = http.StatusTooManyRequests
	session, _ := svc.session(t)
	ctx := context.Background()

	_, err := session.GetOrCreateAccount(ctx)
	require.NoError(t, err)

	funded, err := session.Fund(ctx, 5.0)
	require.Error(t, err)
	assert.False(t, funded)
	assert.Equal(t, errs.KindRateLimited, errs.KindOf(err))
	assert.Equal(t, 1, svc.faucetCalls)
}

func TestFund_FailedRefreshStillSucceeds(t *testing.T) {
	svc := newFakeCustodialService(t)
	svc.balanceMicros = 0
	svc.grantMicros = 5_000_000
	svc.failBalanceAfterFaucet = true
	session, _ := svc.session(t)
	ctx := context.Background()

	_, err := session.GetOrCreateAccount(ctx)
	require.NoError(t, err)

	funded, err := session.Fund(ctx, 5.0)
	require.NoError(t, err)
	assert.True(t, funded)
	assert.Equal(t, 1, svc.faucetCalls)
	// The cache stays invalidated until a later read reconciles.
	assert.False(t, session.CacheValid())
}

func TestAddress_BeforeAccount(t *testing.T) {
	svc := newFakeCustodialService(t)
	session, _ := svc.session(t)

	_, err := session.Address()
	require.Error(t, err)
	assert.Equal(t, errs.KindAccount, errs.KindOf(err))

	_, err = session.SigningAccount()
	require.Error(t, err)
	assert.Equal(t, errs.KindAccount, errs.KindOf(err))
}

func TestWalletInfo(t *testing.T) {
	svc := newFakeCustodialService(t)
	session, cfg := svc.session(t)
	ctx := context.Background()

	_, err := session.GetOrCreateAccount(ctx)
	require.NoError(t, err)

	info, err := session.WalletInfo()
	require.NoError(t, err)
	assert.Equal(t, sessionTestAddress, info.DefaultAddress)
	assert.Contains(t, info.Addresses, sessionTestAddress)
	require.Len(t, info.Accounts, 1)
	assert.Equal(t, cfg.AccountName, info.Accounts[0].Name)
}

func TestTokenAmountToFloat(t *testing.T) {
	tests := []struct {
		amount   string
		decimals int
		want     float64
		wantErr  bool
	}{
		{"1000000", 6, 1.0, false},
		{"10000", 6, 0.01, false},
		{"0", 6, 0.0, false},
		{"123456789", 6, 123.456789, false},
		{"1", 18, 1e-18, false},
		{"not-a-number", 6, 0, true},
	}

	for _, tt := range tests {
		got, err := tokenAmountToFloat(models.TokenAmount{Amount: tt.amount, Decimals: tt.decimals})
		if tt.wantErr {
			require.Error(t, err, tt.amount)
			continue
		}
		require.NoError(t, err, tt.amount)
		assert.InDelta(t, tt.want, got, 1e-12, tt.amount)
	}
}
