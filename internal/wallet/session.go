package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"github.com/meridianpay/x402-wallet/internal/config"
	"github.com/meridianpay/x402-wallet/internal/custodial"
	"github.com/meridianpay/x402-wallet/internal/errs"
	"github.com/meridianpay/x402-wallet/internal/logger"
	"github.com/meridianpay/x402-wallet/internal/models"
	"github.com/meridianpay/x402-wallet/internal/retry"
	"github.com/meridianpay/x402-wallet/internal/signer"
	"github.com/meridianpay/x402-wallet/internal/storage"
)

// Session is the single source of truth for the wallet used during a process
// lifetime. It owns the account and the balance cache; one Session per
// logical wallet, passed explicitly to consumers. Construct independent
// Sessions for test isolation, never share one across processes against the
// same snapshot file.
type Session struct {
	config     *config.Config
	client     *custodial.Client
	readPolicy retry.Policy

	account *models.Account
	cache   BalanceCache
}

// NewSession creates a wallet session around the given custodial client.
func NewSession(cfg *config.Config, client *custodial.Client) *Session {
	return &Session{
		config:     cfg,
		client:     client,
		readPolicy: retry.Read(cfg.MaxRetries, cfg.RetryDelay),
	}
}

// GetOrCreateAccount materializes the session account. It is idempotent: when
// the account is already in memory and the cache is valid it returns without
// any I/O. Otherwise it recovers a previously used account name from the
// persisted snapshot, fetches or creates the account under that name, and
// persists the resulting snapshot. A name collision is retried exactly once
// with a freshly suffixed name; any other failure is fatal to the session.
func (s *Session) GetOrCreateAccount(ctx context.Context) (*models.Account, error) {
	if s.account != nil && s.cache.Valid() {
		return s.account, nil
	}

	name := s.config.AccountName
	snapshot, err := storage.LoadSnapshot(s.config.SnapshotFile)
	if err != nil {
		logger.Warn("Ignoring unreadable wallet snapshot: %v", err)
	} else if snapshot != nil && len(snapshot.Accounts) > 0 {
		name = snapshot.Accounts[0].Name
		logger.Info("Recovered account name from snapshot: %s", name)
	}

	account, err := s.client.GetOrCreateAccount(ctx, name)
	if errors.Is(err, custodial.ErrNameCollision) {
		suffixed := fmt.Sprintf("%s-%s", name, uuid.NewString()[:8])
		logger.Warn("Account name %s is taken, retrying once as %s", name, suffixed)
		account, err = s.client.GetOrCreateAccount(ctx, suffixed)
	}
	if err != nil {
		return nil, errs.Account("failed to get or create account", err)
	}

	s.account = account

	if err := storage.SaveSnapshot(s.config.SnapshotFile, s.buildSnapshot()); err != nil {
		logger.Error("Failed to persist wallet snapshot: %v", err)
	}

	logger.Info("Wallet session ready: %s (%s)", account.Address, account.Name)
	return account, nil
}

// Account returns the in-memory account, or nil before GetOrCreateAccount.
func (s *Session) Account() *models.Account {
	return s.account
}

// Address returns the session account's address.
func (s *Session) Address() (string, error) {
	if s.account == nil {
		return "", errs.New(errs.KindAccount, "no wallet account available")
	}
	return s.account.Address, nil
}

// SigningAccount returns the session account adapted to the local signing
// contract consumed by the payment client.
func (s *Session) SigningAccount() (*signer.Account, error) {
	if s.account == nil {
		return nil, errs.New(errs.KindAccount, "no wallet account available")
	}
	return signer.NewAccount(s.account.Address, s.client, s.config.SigningTimeout), nil
}

// GetBalance returns the token balance of the session account. A valid cache
// is served without network I/O. Fetch failures never propagate: the read
// degrades to the last known value, or zero when none exists.
func (s *Session) GetBalance(ctx context.Context) float64 {
	if value, ok := s.cache.Value(); ok {
		logger.Debug("Serving balance from cache: %f %s", value, s.config.TokenSymbol)
		return value
	}

	var balance float64
	err := s.readPolicy.Do(ctx, func() error {
		fetched, fetchErr := s.fetchBalanceFromNetwork(ctx)
		if fetchErr != nil {
			return fetchErr
		}
		balance = fetched
		return nil
	})
	if err != nil {
		logger.Error("Balance fetch failed, serving degraded value: %v", err)
		if last, ok := s.cache.LastKnown(); ok {
			return last
		}
		return 0
	}

	s.cache.Populate(balance)
	return balance
}

// Fund tops the wallet up from the faucet until it holds at least
// targetAmount. When the current balance already meets the target it returns
// success without any network writes. The cache is invalidated before the
// faucet call is issued and repopulated only after the post-fund balance
// fetch succeeds; on failure it stays invalidated so the next read
// reconciles with the network.
func (s *Session) Fund(ctx context.Context, targetAmount float64) (bool, error) {
	if math.IsNaN(targetAmount) || math.IsInf(targetAmount, 0) {
		return false, errs.Validation("fund amount must be a finite number")
	}
	if targetAmount <= 0 {
		return false, errs.Validation("fund amount must be positive, got %f", targetAmount)
	}
	if targetAmount > s.config.FundCeiling {
		return false, errs.Validation("fund amount %f exceeds ceiling %f", targetAmount, s.config.FundCeiling)
	}
	if s.account == nil {
		return false, errs.New(errs.KindAccount, "no wallet account available")
	}

	balance := s.GetBalance(ctx)
	if balance >= targetAmount {
		logger.Info("Balance %f already meets target %f, skipping faucet", balance, targetAmount)
		return true, nil
	}

	// Invalidate before the write so no concurrent reader trusts a value the
	// faucet is about to change.
	s.cache.Invalidate()

	fundCtx, cancel := context.WithTimeout(ctx, s.config.FundTimeout)
	defer cancel()

	response, err := s.client.RequestFaucet(fundCtx, s.account.Address, s.config.Network, strings.ToLower(s.config.TokenSymbol))
	if err != nil {
		if errs.Is(err, errs.KindRateLimited) {
			logger.Warn("Faucet already used for today: %v", err)
			return false, err
		}
		logger.Error("Faucet request failed: %v", err)
		return false, err
	}

	logger.Info("Faucet transaction submitted: %s", response.TransactionHash)

	// Refresh after the write. A failed refresh leaves the cache invalidated,
	// which only costs the next reader a fetch.
	fresh, err := s.fetchBalanceFromNetwork(ctx)
	if err != nil {
		logger.Warn("Post-fund balance refresh failed, cache stays invalidated: %v", err)
		return true, nil
	}

	s.cache.Populate(fresh)
	logger.Info("Wallet funded, balance is now %f %s", fresh, s.config.TokenSymbol)
	return true, nil
}

// InvalidateBalanceCache forces the next read to hit the network. Called
// after out-of-band events the session could not observe itself, such as a
// payment made through the payment client.
func (s *Session) InvalidateBalanceCache() {
	logger.Debug("Balance cache invalidated")
	s.cache.Invalidate()
}

// CacheValid reports whether the balance cache is currently trustworthy.
func (s *Session) CacheValid() bool {
	return s.cache.Valid()
}

// LastKnownBalance returns the most recently observed balance, valid or
// stale, without touching the network.
func (s *Session) LastKnownBalance() (float64, bool) {
	return s.cache.LastKnown()
}

// WalletInfo returns the persisted snapshot shape for the session account.
func (s *Session) WalletInfo() (*models.WalletSnapshot, error) {
	if s.account == nil {
		return nil, errs.New(errs.KindAccount, "no wallet account available")
	}
	return s.buildSnapshot(), nil
}

// fetchBalanceFromNetwork queries the ledger for the session token at the
// account's address. An absent holding is a balance of zero, not a fault.
func (s *Session) fetchBalanceFromNetwork(ctx context.Context) (float64, error) {
	response, err := s.client.ListTokenBalances(ctx, s.config.Network, s.account.Address)
	if err != nil {
		return 0, err
	}

	for _, balance := range response.Balances {
		if strings.EqualFold(balance.Token.ContractAddress, s.config.TokenContract) &&
			strings.EqualFold(balance.Token.Network, s.config.Network) {
			return tokenAmountToFloat(balance.Amount)
		}
	}

	logger.Debug("No %s holding found for %s, treating balance as zero", s.config.TokenSymbol, s.account.Address)
	return 0, nil
}

func (s *Session) buildSnapshot() *models.WalletSnapshot {
	return &models.WalletSnapshot{
		ID:             s.account.Address,
		DefaultAddress: s.account.Address,
		Addresses:      []string{s.account.Address},
		Accounts: []models.AccountRecord{
			{Address: s.account.Address, Name: s.account.Name},
		},
	}
}

// tokenAmountToFloat converts a raw integer amount with its reported decimal
// precision into a decimal quantity.
func tokenAmountToFloat(amount models.TokenAmount) (float64, error) {
	raw, ok := new(big.Int).SetString(amount.Amount, 10)
	if !ok {
		return 0, errs.Validation("unparseable token amount %q", amount.Amount)
	}

	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(amount.Decimals)), nil))
	value, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), divisor).Float64()
	return value, nil
}
