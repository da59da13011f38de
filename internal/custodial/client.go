package custodial

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meridianpay/x402-wallet/internal/config"
	"github.com/meridianpay/x402-wallet/internal/errs"
	"github.com/meridianpay/x402-wallet/internal/logger"
	"github.com/meridianpay/x402-wallet/internal/models"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ErrNameCollision is returned when the service refuses an account name that
// is already taken. The session layer retries exactly once on this error and
// on no other.
var ErrNameCollision = errors.New("account name already exists")

// Client handles all HTTP communication with the custodial wallet service.
// The service holds the key material; every signing and identity operation
// goes over the wire.
type Client struct {
	config     *config.Config
	httpClient *http.Client
}

// NewClient creates a new custodial service client with the given configuration
func NewClient(cfg *config.Config) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BuildURL constructs a full URL for the given endpoint
func (c *Client) BuildURL(endpoint string) string {
	return fmt.Sprintf("%s/platform%s", c.config.BaseURL, endpoint)
}

// GetOrCreateAccount looks up an account by name, creating it when it does
// not exist yet. A 409 from the service maps to ErrNameCollision.
func (c *Client) GetOrCreateAccount(ctx context.Context, name string) (*models.Account, error) {
	var account models.Account
	body := models.CreateAccountRequest{Name: name}

	if err := c.request(ctx, http.MethodPost, "/v2/evm/accounts", body, &account); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.status == http.StatusConflict {
			return nil, fmt.Errorf("%w: %s", ErrNameCollision, name)
		}
		return nil, err
	}

	return &account, nil
}

// SignMessage asks the service to sign an opaque message with the key behind
// the given address. The raw response is returned undecoded because the
// service answers with either a bare signature string or an object carrying a
// signature field; the signing adapter normalizes the two shapes.
func (c *Client) SignMessage(ctx context.Context, address, message string) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("/v2/evm/accounts/%s/sign", address)
	body := map[string]string{"message": message}

	var raw json.RawMessage
	if err := c.request(ctx, http.MethodPost, endpoint, body, &raw); err != nil {
		return nil, err
	}

	return raw, nil
}

// SignTypedData asks the service for an EIP-712 signature over the given
// typed data. Same heterogeneous response contract as SignMessage.
func (c *Client) SignTypedData(ctx context.Context, address string, typedData apitypes.TypedData) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("/v2/evm/accounts/%s/sign/typed-data", address)

	var raw json.RawMessage
	if err := c.request(ctx, http.MethodPost, endpoint, typedData, &raw); err != nil {
		return nil, err
	}

	return raw, nil
}

// ListTokenBalances fetches the token holdings of an address on a network.
func (c *Client) ListTokenBalances(ctx context.Context, network, address string) (*models.TokenBalancesResponse, error) {
	endpoint := fmt.Sprintf("/v2/evm/token-balances/%s/%s", network, address)

	var response models.TokenBalancesResponse
	if err := c.request(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	return &response, nil
}

// RequestFaucet asks the testnet faucet to fund an address. The faucet rate
// limits per address per day; that surfaces as a rate-limited error.
func (c *Client) RequestFaucet(ctx context.Context, address, network, token string) (*models.FaucetResponse, error) {
	body := models.FaucetRequest{Address: address, Network: network, Token: token}

	var response models.FaucetResponse
	if err := c.request(ctx, http.MethodPost, "/v2/evm/faucet", body, &response); err != nil {
		return nil, err
	}

	return &response, nil
}

// apiError carries the HTTP status of a non-2xx response so callers can
// distinguish collision responses before taxonomy classification.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.status, e.body)
}

// request is the core HTTP request method
func (c *Client) request(ctx context.Context, method, endpoint string, body interface{}, result interface{}) error {
	url := c.BuildURL(endpoint)
	start := time.Now()
	logger.Debug("Starting %s request to %s", method, url)

	var requestBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshaling request body: %w", err)
		}
		requestBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, requestBody)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		elapsed := time.Since(start)
		logger.Error("Request failed after (%s) %v: %v", url, elapsed, err)
		return errs.ClassifyTransport(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)
	logger.Debug("Request to %s completed in %v with status %d", url, elapsed, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		logger.Error("%s: HTTP error %d: %s", url, resp.StatusCode, string(bodyBytes))
		return classifyStatus(&apiError{status: resp.StatusCode, body: string(bodyBytes)})
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			logger.Error("%s: Error decoding response: %v", url, err)
			return fmt.Errorf("error decoding response: %w", err)
		}
	}

	return nil
}

// authorize attaches the service credentials to a request.
func (c *Client) authorize(req *http.Request) {
	if c.config.APIKeyID != "" {
		req.Header.Set("X-API-Key-Id", c.config.APIKeyID)
	}
	if c.config.APIKeySecret != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKeySecret)
	}
	if c.config.WalletSecret != "" {
		req.Header.Set("X-Wallet-Auth", c.config.WalletSecret)
	}
}

// classifyStatus maps a non-2xx response onto the error taxonomy. Conflicts
// are left as bare apiErrors so GetOrCreateAccount can detect collisions.
func classifyStatus(err *apiError) error {
	switch {
	case err.status == http.StatusConflict:
		return err
	case err.status == http.StatusTooManyRequests:
		return errs.RateLimited("service throttled the request", err)
	case err.status == http.StatusBadRequest || err.status == http.StatusUnprocessableEntity:
		return errs.Wrap(errs.KindValidation, "service rejected the request", err)
	case err.status == http.StatusUnauthorized || err.status == http.StatusForbidden:
		return errs.Account("service rejected the credentials", err)
	case err.status >= 500:
		return errs.Network("service unavailable", err)
	default:
		return err
	}
}

// Ping checks if the custodial service is reachable
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BuildURL("/v2/ping"), nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping failed with status %d", resp.StatusCode)
	}

	return nil
}
