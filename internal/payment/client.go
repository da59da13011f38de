package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meridianpay/x402-wallet/internal/errs"
	"github.com/meridianpay/x402-wallet/internal/logger"
	"github.com/meridianpay/x402-wallet/internal/models"
	"github.com/meridianpay/x402-wallet/internal/wallet"
)

// PaymentHeader carries the encoded payment payload on the retried request.
const PaymentHeader = "X-PAYMENT"

// SettlementHeader carries the settlement outcome on the paid response.
const SettlementHeader = "X-PAYMENT-RESPONSE"

// Client drives the x402 payment flow against a content server: request,
// read the 402 challenge, sign a transfer authorization through the wallet's
// signing account, retry with the payment header.
type Client struct {
	httpClient *http.Client
	session    *wallet.Session
}

// Result is the outcome of a content request, paid or free.
type Result struct {
	Success    bool
	Paid       bool
	StatusCode int
	Data       json.RawMessage
	Settlement *models.SettlementResponse
	Error      string
}

// NewClient creates a payment client bound to a wallet session.
func NewClient(session *wallet.Session) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		session:    session,
	}
}

// Get requests a resource, transparently paying for it when the server
// answers 402. Payment failures other than signing errors are reported in
// the Result rather than returned, so the CLI can present a clean message.
// Signing failures always propagate; a payment must never proceed on an
// unsigned artifact.
func (c *Client) Get(ctx context.Context, url string) (*Result, error) {
	logger.Info("Requesting %s", url)

	resp, err := c.do(ctx, url, "")
	if err != nil {
		return nil, errs.ClassifyTransport(err)
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusOK {
		logger.Info("Payment not required, request successful")
		return &Result{Success: true, StatusCode: resp.StatusCode, Data: body}, nil
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, url)
	}

	logger.Info("Payment required, entering payment flow")

	requirements, err := parseRequirements(body)
	if err != nil {
		return nil, err
	}

	header, err := c.buildPaymentHeader(ctx, requirements)
	if err != nil {
		return nil, err
	}

	paidResp, err := c.do(ctx, url, header)
	if err != nil {
		return nil, errs.ClassifyTransport(err)
	}

	paidBody, err := readBody(paidResp)
	if err != nil {
		return nil, err
	}

	if paidResp.StatusCode != http.StatusOK {
		logger.Error("Payment was rejected with status %d", paidResp.StatusCode)
		return &Result{
			Success:    false,
			Paid:       false,
			StatusCode: paidResp.StatusCode,
			Data:       paidBody,
			Error:      paymentErrorMessage(paidBody, paidResp.StatusCode),
		}, nil
	}

	// The payment changed the on-chain balance behind the session's back.
	c.session.InvalidateBalanceCache()

	settlement := parseSettlement(paidResp.Header.Get(SettlementHeader))
	if settlement != nil {
		logger.Info("Payment settled: tx %s on %s", settlement.Transaction, settlement.Network)
	}

	logger.Info("Payment successful")
	return &Result{
		Success:    true,
		Paid:       true,
		StatusCode: paidResp.StatusCode,
		Data:       paidBody,
		Settlement: settlement,
	}, nil
}

// ValidateBalance checks the wallet can cover a tier before attempting the
// paid request.
func (c *Client) ValidateBalance(ctx context.Context, tier Tier) (float64, error) {
	balance := c.session.GetBalance(ctx)
	if balance < tier.Price {
		return balance, errs.Validation("insufficient balance %f for %s tier (needs %f)", balance, tier.Name, tier.Price)
	}
	return balance, nil
}

// buildPaymentHeader signs a transfer authorization for the given
// requirements and encodes the payload for the X-PAYMENT header.
func (c *Client) buildPaymentHeader(ctx context.Context, requirements *models.PaymentRequirements) (string, error) {
	account, err := c.session.SigningAccount()
	if err != nil {
		return "", err
	}

	auth, err := newAuthorization(account.AddressHex(), requirements.PayTo, requirements.MaxAmountRequired)
	if err != nil {
		return "", err
	}

	typedData, err := typedDataFor(requirements, auth)
	if err != nil {
		return "", err
	}

	signature, err := account.SignTypedData(ctx, typedData)
	if err != nil {
		return "", err
	}

	payload := models.PaymentPayload{
		X402Version: models.X402Version,
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Resource:    requirements.Resource,
		Payload: models.EvmPayload{
			Signature:     signature,
			Authorization: auth,
		},
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payment payload: %w", err)
	}

	return base64.StdEncoding.EncodeToString(encoded), nil
}

func (c *Client) do(ctx context.Context, url, paymentHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if paymentHeader != "" {
		req.Header.Set(PaymentHeader, paymentHeader)
	}

	return c.httpClient.Do(req)
}

// parseRequirements extracts the first accepted payment scheme from a 402
// body.
func parseRequirements(body []byte) (*models.PaymentRequirements, error) {
	var challenge models.PaymentRequiredResponse
	if err := json.Unmarshal(body, &challenge); err != nil {
		return nil, fmt.Errorf("invalid 402 challenge body: %w", err)
	}

	if challenge.X402Version != models.X402Version {
		return nil, fmt.Errorf("unsupported x402 version %d", challenge.X402Version)
	}

	if len(challenge.Accepts) == 0 {
		return nil, fmt.Errorf("402 challenge accepts no payment schemes")
	}

	requirements := challenge.Accepts[0]
	if requirements.PayTo == "" || requirements.MaxAmountRequired == "" {
		return nil, fmt.Errorf("402 challenge is missing payment requirements")
	}

	return &requirements, nil
}

// parseSettlement decodes the settlement response header. A missing or
// malformed header yields nil; settlement details are informational.
func parseSettlement(header string) *models.SettlementResponse {
	if header == "" {
		return nil
	}

	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		logger.Debug("Unreadable settlement header: %v", err)
		return nil
	}

	var settlement models.SettlementResponse
	if err := json.Unmarshal(decoded, &settlement); err != nil {
		logger.Debug("Unparseable settlement header: %v", err)
		return nil
	}

	return &settlement
}

func paymentErrorMessage(body []byte, status int) string {
	var errBody struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errBody); err == nil && errBody.Error != "" {
		return errBody.Error
	}
	return fmt.Sprintf("payment failed with status %d", status)
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	return body, nil
}
