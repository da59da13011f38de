package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meridianpay/x402-wallet/internal/config"
	"github.com/meridianpay/x402-wallet/internal/logger"
	"github.com/meridianpay/x402-wallet/internal/payment"
)

// New builds the tiered-content server: a free route, a health route, and
// three paid tiers gated behind the payment middleware.
func New(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	facilitator := NewFacilitatorClient(cfg.FacilitatorURL)

	engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "x402 content server",
			"network": cfg.Network,
			"tiers":   tierIndex(),
		})
	})

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	engine.GET("/free", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message":  "This is free content!",
			"subtitle": "No payment required",
			"data": gin.H{
				"tier":        "free",
				"description": "Publicly available content",
			},
		})
	})

	for _, tier := range payment.Tiers() {
		tier := tier
		engine.GET(tier.Path, RequirePayment(cfg, facilitator, tier), contentHandler(tier))
	}

	return engine
}

func contentHandler(tier payment.Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger.Info("Serving %s content", tier.Name)

		payer, _ := c.Get(PayerContextKey)
		c.JSON(http.StatusOK, gin.H{
			"message": "This is " + tier.Name + " content!",
			"tier":    tier.Name,
			"data": gin.H{
				"description": tier.Description,
				"price":       tier.Price,
				"payer":       payer,
				"servedAt":    time.Now().UTC().Format(time.RFC3339),
			},
		})
	}
}

func tierIndex() []gin.H {
	index := make([]gin.H, 0, len(payment.Tiers()))
	for _, tier := range payment.Tiers() {
		index = append(index, gin.H{
			"name":  tier.Name,
			"path":  tier.Path,
			"price": tier.Price,
		})
	}
	return index
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s -> %d in %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
