package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meridianpay/x402-wallet/internal/logger"
	"github.com/meridianpay/x402-wallet/internal/models"
)

// FacilitatorClient talks to the external x402 facilitator that verifies
// payment authorizations and settles them on chain. Verification and
// settlement cryptography live entirely on the facilitator side.
type FacilitatorClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewFacilitatorClient creates a facilitator client for the given base URL.
func NewFacilitatorClient(baseURL string) *FacilitatorClient {
	return &FacilitatorClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Verify asks the facilitator whether the payment payload satisfies the
// requirements.
func (f *FacilitatorClient) Verify(ctx context.Context, payload models.PaymentPayload, requirements models.PaymentRequirements) (*models.VerifyResponse, error) {
	var response models.VerifyResponse
	if err := f.post(ctx, "/verify", payload, requirements, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Settle asks the facilitator to execute the authorized transfer on chain.
func (f *FacilitatorClient) Settle(ctx context.Context, payload models.PaymentPayload, requirements models.PaymentRequirements) (*models.SettlementResponse, error) {
	var response models.SettlementResponse
	if err := f.post(ctx, "/settle", payload, requirements, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (f *FacilitatorClient) post(ctx context.Context, endpoint string, payload models.PaymentPayload, requirements models.PaymentRequirements, result interface{}) error {
	body := models.VerifyRequest{
		X402Version:         models.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error marshaling facilitator request: %w", err)
	}

	url := f.baseURL + endpoint
	start := time.Now()
	logger.Debug("Starting facilitator request to %s", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("error creating facilitator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		logger.Error("Facilitator request failed after %v: %v", time.Since(start), err)
		return fmt.Errorf("facilitator request failed: %w", err)
	}
	defer resp.Body.Close()

	logger.Debug("Facilitator request to %s completed in %v with status %d", url, time.Since(start), resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("facilitator error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("error decoding facilitator response: %w", err)
	}

	return nil
}
