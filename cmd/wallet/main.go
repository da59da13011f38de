package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/meridianpay/x402-wallet/internal/backup"
	"github.com/meridianpay/x402-wallet/internal/config"
	"github.com/meridianpay/x402-wallet/internal/custodial"
	"github.com/meridianpay/x402-wallet/internal/errs"
	"github.com/meridianpay/x402-wallet/internal/logger"
	"github.com/meridianpay/x402-wallet/internal/payment"
	"github.com/meridianpay/x402-wallet/internal/tui"
	"github.com/meridianpay/x402-wallet/internal/utils"
	"github.com/meridianpay/x402-wallet/internal/wallet"
)

// defaultFundTarget matches the faucet's per-request grant.
const defaultFundTarget = 5.0

func openSession(ctx context.Context, cfg *config.Config) (*wallet.Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	session := wallet.NewSession(cfg, custodial.NewClient(cfg))
	if _, err := session.GetOrCreateAccount(ctx); err != nil {
		return nil, err
	}

	return session, nil
}

func printJSON(data json.RawMessage) {
	var pretty map[string]interface{}
	if err := json.Unmarshal(data, &pretty); err != nil {
		fmt.Println(string(data))
		return
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
}

// reportError prints an actionable message for each error class instead of a
// raw error chain.
func reportError(err error) {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		logger.Error("Invalid input: %v", err)
	case errs.KindRateLimited:
		logger.Error("Rate limited: %v", err)
		logger.Info("The faucet allows one request per day; try again tomorrow")
	case errs.KindNetwork:
		logger.Error("Network unreachable: %v", err)
		logger.Info("Check your connection and the service URL")
	case errs.KindSigningTimeout:
		logger.Error("Signing timed out: %v", err)
	case errs.KindSigning:
		logger.Error("Signing failed: %v", err)
	case errs.KindAccount:
		logger.Error("Account error: %v", err)
		logger.Info("Check the CDP_API_KEY_ID / CDP_API_KEY_SECRET / CDP_WALLET_SECRET variables")
	default:
		logger.Error("%v", err)
	}
}

func main() {
	logger.Init()
	utils.LoadEnvironment()

	cfg := config.NewConfig()
	cfg.LoadFromEnvironment()

	rootCmd := &cobra.Command{
		Use:   "x402-wallet",
		Short: "A CLI wallet for paying x402-gated content",
		Long:  `x402-wallet manages a custodial testnet wallet and pays for tiered content over the x402 micropayment protocol.`,
		Run: func(cmd *cobra.Command, args []string) {
			if err := tui.RunShell(cfg); err != nil {
				logger.Fatal("Shell exited with error: %v", err)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "Base URL of the content server")
	rootCmd.PersistentFlags().StringVar(&cfg.AccountName, "account-name", cfg.AccountName, "Custodial account name")
	rootCmd.PersistentFlags().StringVar(&cfg.SnapshotFile, "snapshot-file", cfg.SnapshotFile, "Wallet snapshot file")

	balanceCmd := &cobra.Command{
		Use:     "balance",
		Aliases: []string{"bal"},
		Short:   "Show the wallet's token balance",
		Run: func(cmd *cobra.Command, args []string) {
			session, err := openSession(cmd.Context(), cfg)
			if err != nil {
				reportError(err)
				logger.Fatal("Could not open wallet session")
			}

			balance := session.GetBalance(cmd.Context())
			fmt.Printf("%f %s\n", balance, cfg.TokenSymbol)
		},
	}

	fundCmd := &cobra.Command{
		Use:   "fund [amount]",
		Short: "Fund the wallet from the testnet faucet",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			target := defaultFundTarget
			if len(args) == 1 {
				parsed, err := strconv.ParseFloat(args[0], 64)
				if err != nil {
					logger.Fatal("Invalid amount %q", args[0])
				}
				target = parsed
			}

			session, err := openSession(cmd.Context(), cfg)
			if err != nil {
				reportError(err)
				logger.Fatal("Could not open wallet session")
			}

			funded, err := session.Fund(cmd.Context(), target)
			if err != nil {
				reportError(err)
				return
			}
			if funded {
				logger.Info("Wallet holds at least %f %s", target, cfg.TokenSymbol)
			}
		},
	}

	infoCmd := &cobra.Command{
		Use:     "info",
		Aliases: []string{"status"},
		Short:   "Show wallet identity information",
		Run: func(cmd *cobra.Command, args []string) {
			session, err := openSession(cmd.Context(), cfg)
			if err != nil {
				reportError(err)
				logger.Fatal("Could not open wallet session")
			}

			info, err := session.WalletInfo()
			if err != nil {
				reportError(err)
				return
			}

			out, _ := json.MarshalIndent(info, "", "  ")
			fmt.Println(string(out))
		},
	}

	refreshCmd := &cobra.Command{
		Use:     "refresh",
		Aliases: []string{"reload"},
		Short:   "Force a balance refresh from the network",
		Run: func(cmd *cobra.Command, args []string) {
			session, err := openSession(cmd.Context(), cfg)
			if err != nil {
				reportError(err)
				logger.Fatal("Could not open wallet session")
			}

			session.InvalidateBalanceCache()
			balance := session.GetBalance(cmd.Context())
			fmt.Printf("%f %s\n", balance, cfg.TokenSymbol)
		},
	}

	freeCmd := &cobra.Command{
		Use:   "free",
		Short: "Fetch the free content endpoint",
		Run: func(cmd *cobra.Command, args []string) {
			session, err := openSession(cmd.Context(), cfg)
			if err != nil {
				reportError(err)
				logger.Fatal("Could not open wallet session")
			}

			result, err := payment.NewClient(session).Get(cmd.Context(), cfg.ServerURL+"/free")
			if err != nil {
				reportError(err)
				return
			}
			printJSON(result.Data)
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <tier>",
		Short: "Pay for and fetch a content tier (protected|premium|enterprise, or tier1..tier3)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			tier, err := payment.LookupTier(args[0])
			if err != nil {
				reportError(err)
				return
			}

			session, err := openSession(cmd.Context(), cfg)
			if err != nil {
				reportError(err)
				logger.Fatal("Could not open wallet session")
			}

			client := payment.NewClient(session)

			balance, err := client.ValidateBalance(cmd.Context(), tier)
			if err != nil {
				reportError(err)
				logger.Info("Run 'x402-wallet fund' to top up (current balance: %f %s)", balance, cfg.TokenSymbol)
				return
			}

			result, err := client.Get(cmd.Context(), cfg.ServerURL+tier.Path)
			if err != nil {
				reportError(err)
				return
			}

			if !result.Success {
				logger.Error("Payment failed: %s", result.Error)
				return
			}

			if result.Paid {
				logger.Info("Paid %f %s for %s content", tier.Price, cfg.TokenSymbol, tier.Name)
				if result.Settlement != nil {
					logger.Info("Settlement transaction: %s", result.Settlement.Transaction)
				}
			}
			printJSON(result.Data)
		},
	}

	var backupKeep int
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the wallet data directory",
		Run: func(cmd *cobra.Command, args []string) {
			backupFile, err := backup.CreateBackup("", "")
			if err != nil {
				logger.Fatal("Backup failed: %v", err)
			}
			if err := backup.Prune("", backupKeep); err != nil {
				logger.Warn("Failed to prune old backups: %v", err)
			}
			fmt.Println(backupFile)
		},
	}
	backupCmd.Flags().IntVar(&backupKeep, "keep", backup.DefaultKeep, "Number of backup archives to retain")

	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Start the interactive wallet shell",
		Run: func(cmd *cobra.Command, args []string) {
			if err := tui.RunShell(cfg); err != nil {
				logger.Fatal("Shell exited with error: %v", err)
			}
		},
	}

	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(fundCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(freeCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(shellCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("Failed to execute command: %v", err)
	}
}
