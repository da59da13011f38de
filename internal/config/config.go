package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// USDC contract on Base Sepolia, the default settlement asset.
const DefaultTokenContract = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"

// Config holds all application configuration
type Config struct {
	// Custodial wallet service settings
	BaseURL      string
	APIKeyID     string
	APIKeySecret string
	WalletSecret string

	// Wallet settings
	AccountName   string
	Network       string
	TokenContract string
	TokenSymbol   string
	SnapshotFile  string

	// Content server settings (client side: where to pay; server side: where to listen)
	ServerURL        string
	ServerPort       int
	ReceivingAddress string
	FacilitatorURL   string

	// Retry settings
	MaxRetries int
	RetryDelay time.Duration

	// Timeouts and limits
	SigningTimeout time.Duration
	FundTimeout    time.Duration
	FundCeiling    float64
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		BaseURL:        "https://api.cdp.coinbase.com",
		AccountName:    "x402-wallet-account",
		Network:        "base-sepolia",
		TokenContract:  DefaultTokenContract,
		TokenSymbol:    "USDC",
		SnapshotFile:   "wallet-data.json",
		ServerURL:      "http://localhost:5001",
		ServerPort:     5001,
		FacilitatorURL: "https://x402.org/facilitator",
		MaxRetries:     3,
		RetryDelay:     2 * time.Second,
		SigningTimeout: 30 * time.Second,
		FundTimeout:    60 * time.Second,
		FundCeiling:    100,
	}
}

// LoadFromEnvironment loads configuration from environment variables
func (c *Config) LoadFromEnvironment() {
	if baseURL := os.Getenv("CDP_API_URL"); baseURL != "" {
		c.BaseURL = baseURL
	}

	if keyID := os.Getenv("CDP_API_KEY_ID"); keyID != "" {
		c.APIKeyID = keyID
	}

	if keySecret := os.Getenv("CDP_API_KEY_SECRET"); keySecret != "" {
		c.APIKeySecret = keySecret
	}

	if walletSecret := os.Getenv("CDP_WALLET_SECRET"); walletSecret != "" {
		c.WalletSecret = walletSecret
	}

	if name := os.Getenv("WALLET_ACCOUNT_NAME"); name != "" {
		c.AccountName = name
	}

	if network := os.Getenv("WALLET_NETWORK"); network != "" {
		c.Network = network
	}

	if contract := os.Getenv("WALLET_TOKEN_CONTRACT"); contract != "" {
		c.TokenContract = contract
	}

	if symbol := os.Getenv("WALLET_TOKEN_SYMBOL"); symbol != "" {
		c.TokenSymbol = symbol
	}

	if snapshot := os.Getenv("WALLET_SNAPSHOT_FILE"); snapshot != "" {
		c.SnapshotFile = snapshot
	}

	if serverURL := os.Getenv("X402_SERVER_URL"); serverURL != "" {
		c.ServerURL = serverURL
	}

	if port := os.Getenv("X402_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.ServerPort = p
		}
	}

	if address := os.Getenv("X402_RECEIVING_ADDRESS"); address != "" {
		c.ReceivingAddress = address
	}

	if facilitator := os.Getenv("X402_FACILITATOR_URL"); facilitator != "" {
		c.FacilitatorURL = facilitator
	}

	if retries := os.Getenv("WALLET_MAX_RETRIES"); retries != "" {
		if r, err := strconv.Atoi(retries); err == nil {
			c.MaxRetries = r
		}
	}

	if delay := os.Getenv("WALLET_RETRY_DELAY"); delay != "" {
		if d, err := strconv.Atoi(delay); err == nil {
			c.RetryDelay = time.Duration(d) * time.Millisecond
		}
	}

	if timeout := os.Getenv("WALLET_SIGNING_TIMEOUT"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil {
			c.SigningTimeout = time.Duration(t) * time.Second
		}
	}

	if ceiling := os.Getenv("WALLET_FUND_CEILING"); ceiling != "" {
		if f, err := strconv.ParseFloat(ceiling, 64); err == nil {
			c.FundCeiling = f
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("custodial API base URL cannot be empty")
	}

	if c.AccountName == "" {
		return fmt.Errorf("account name cannot be empty")
	}

	if c.Network == "" {
		return fmt.Errorf("network identifier cannot be empty")
	}

	if c.TokenContract == "" {
		return fmt.Errorf("token contract cannot be empty")
	}

	if c.ServerPort < 1024 || c.ServerPort > 65535 {
		return fmt.Errorf("server port must be between 1024 and 65535, got: %d", c.ServerPort)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got: %d", c.MaxRetries)
	}

	if c.SigningTimeout <= 0 {
		return fmt.Errorf("signing timeout must be positive, got: %s", c.SigningTimeout)
	}

	if c.FundCeiling <= 0 {
		return fmt.Errorf("fund ceiling must be positive, got: %f", c.FundCeiling)
	}

	return nil
}
