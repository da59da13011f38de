package server

import (
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/meridianpay/x402-wallet/internal/config"
	"github.com/meridianpay/x402-wallet/internal/logger"
	"github.com/meridianpay/x402-wallet/internal/models"
	"github.com/meridianpay/x402-wallet/internal/payment"
)

// PayerContextKey is the gin context key under which the verified payer
// address is stored for handlers.
const PayerContextKey = "x402_payer"

// RequirePayment gates a route behind an x402 payment of the given tier.
// Requests without a valid X-PAYMENT header get a 402 challenge; payments are
// verified and settled through the facilitator before the handler runs, so
// the settlement header is written before any body.
func RequirePayment(cfg *config.Config, facilitator *FacilitatorClient, tier payment.Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		requirements := requirementsFor(cfg, tier, c.Request)

		header := c.GetHeader(payment.PaymentHeader)
		if header == "" {
			logger.Info("No payment header for %s, issuing challenge", c.Request.URL.Path)
			challenge(c, requirements, "Payment required")
			return
		}

		payload, err := decodePaymentHeader(header)
		if err != nil {
			logger.Warn("Invalid payment header on %s: %v", c.Request.URL.Path, err)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"x402Version": models.X402Version,
				"error":       "Invalid payment header",
			})
			return
		}

		if reason := matchRequirements(payload, requirements); reason != "" {
			logger.Warn("Payment does not match requirements on %s: %s", c.Request.URL.Path, reason)
			challenge(c, requirements, reason)
			return
		}

		verify, err := facilitator.Verify(c.Request.Context(), *payload, requirements)
		if err != nil {
			logger.Error("Facilitator verification failed: %v", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"x402Version": models.X402Version,
				"error":       "Payment verification failed",
			})
			return
		}

		if !verify.IsValid {
			logger.Warn("Payment rejected by facilitator: %s", verify.InvalidReason)
			challenge(c, requirements, verify.InvalidReason)
			return
		}

		settlement, err := facilitator.Settle(c.Request.Context(), *payload, requirements)
		if err != nil {
			logger.Error("Facilitator settlement failed: %v", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"x402Version": models.X402Version,
				"error":       "Payment settlement failed",
			})
			return
		}

		if !settlement.Success {
			logger.Warn("Settlement unsuccessful: %s", settlement.ErrorReason)
			challenge(c, requirements, settlement.ErrorReason)
			return
		}

		logger.Info("Payment settled for %s: tx %s payer %s", c.Request.URL.Path, settlement.Transaction, verify.Payer)

		if encoded, err := json.Marshal(settlement); err == nil {
			c.Header(payment.SettlementHeader, base64.StdEncoding.EncodeToString(encoded))
		}

		c.Set(PayerContextKey, verify.Payer)
		c.Next()
	}
}

// requirementsFor describes the payment a route demands.
func requirementsFor(cfg *config.Config, tier payment.Tier, req *http.Request) models.PaymentRequirements {
	return models.PaymentRequirements{
		Scheme:            "exact",
		Network:           cfg.Network,
		MaxAmountRequired: tier.AmountWei,
		Resource:          resourceURL(req),
		Description:       tier.Description,
		MimeType:          "application/json",
		PayTo:             cfg.ReceivingAddress,
		MaxTimeoutSeconds: 60,
		Asset:             cfg.TokenContract,
		Extra: map[string]interface{}{
			"name":    cfg.TokenSymbol,
			"version": "2",
		},
	}
}

func resourceURL(req *http.Request) string {
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + req.Host + req.URL.Path
}

func challenge(c *gin.Context, requirements models.PaymentRequirements, message string) {
	c.AbortWithStatusJSON(http.StatusPaymentRequired, models.PaymentRequiredResponse{
		X402Version: models.X402Version,
		Error:       message,
		Accepts:     []models.PaymentRequirements{requirements},
	})
}

func decodePaymentHeader(header string) (*models.PaymentPayload, error) {
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, err
	}

	var payload models.PaymentPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, err
	}

	return &payload, nil
}

// matchRequirements checks the decoded payment against what the route
// demands. Returns an empty string when everything lines up.
func matchRequirements(payload *models.PaymentPayload, requirements models.PaymentRequirements) string {
	if payload.X402Version != models.X402Version {
		return "Unsupported x402 version"
	}
	if payload.Scheme != requirements.Scheme {
		return "Unsupported payment scheme"
	}
	if payload.Network != requirements.Network {
		return "Payment is for a different network"
	}
	if !strings.EqualFold(payload.Payload.Authorization.To, requirements.PayTo) {
		return "Payment recipient does not match"
	}

	value, ok := new(big.Int).SetString(payload.Payload.Authorization.Value, 10)
	if !ok {
		return "Unparseable payment amount"
	}
	required, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return "Unparseable required amount"
	}
	if value.Cmp(required) < 0 {
		return "Payment amount is below the required price"
	}

	return ""
}
