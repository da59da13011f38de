package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meridianpay/x402-wallet/internal/config"
	"github.com/meridianpay/x402-wallet/internal/logger"
	"github.com/meridianpay/x402-wallet/internal/server"
	"github.com/meridianpay/x402-wallet/internal/utils"
)

func main() {
	logger.Init()
	utils.LoadEnvironment()

	cfg := config.NewConfig()
	cfg.LoadFromEnvironment()

	rootCmd := &cobra.Command{
		Use:   "x402-server",
		Short: "A tiered-content server gated by x402 payments",
		Run: func(cmd *cobra.Command, args []string) {
			if err := cfg.Validate(); err != nil {
				logger.Fatal("Invalid configuration: %v", err)
			}
			if cfg.ReceivingAddress == "" {
				logger.Fatal("X402_RECEIVING_ADDRESS must be set to receive payments")
			}

			engine := server.New(cfg)

			addr := fmt.Sprintf(":%d", cfg.ServerPort)
			logger.Info("Content server listening on %s (receiving address %s)", addr, cfg.ReceivingAddress)

			if err := engine.Run(addr); err != nil {
				logger.Fatal("Server stopped: %v", err)
			}
		},
	}

	rootCmd.Flags().IntVarP(&cfg.ServerPort, "port", "p", cfg.ServerPort, "Port to listen on")
	rootCmd.Flags().StringVar(&cfg.ReceivingAddress, "receiving-address", cfg.ReceivingAddress, "Address that receives payments")
	rootCmd.Flags().StringVar(&cfg.FacilitatorURL, "facilitator-url", cfg.FacilitatorURL, "x402 facilitator base URL")

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("Failed to execute command: %v", err)
	}
}
