package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/chaosvault/internal/factor"
	"github.com/TheMichaelB/chaosvault/internal/services/transform"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the vault record on the medium",
	Args:  cobra.NoArgs,
	RunE:  runVerify,
}

var recoverCmd = &cobra.Command{
	Use:   "recover [dir]",
	Short: "Finish or roll back interrupted lock and unlock operations",
	Long: `Recover scans a directory for transforms that were interrupted by a
crash or a removed medium. A transform whose result was fully committed is
finished; anything else is rolled back and leftover staging trees are
removed. The original folder always survives until its replacement is
complete. Running recover twice is harmless.`,
	Example: `  chaosvault recover ~/Documents`,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runRecover,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the token id stored in the OS keyring",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set <token-id>",
	Short: "Store the token id for the vault on the medium",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, vaultID, err := apiClient.Vaults.RequiredFactor(cfg.Vault.Path)
		if err != nil {
			return err
		}
		if err := factor.SaveToken(cfg.Factor.KeyringService, vaultID, args[0]); err != nil {
			return err
		}
		printSuccess("Token stored for vault %s", vaultID)
		return nil
	},
}

var tokenDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the stored token id for the vault on the medium",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, vaultID, err := apiClient.Vaults.RequiredFactor(cfg.Vault.Path)
		if err != nil {
			return err
		}
		if err := factor.DeleteToken(cfg.Factor.KeyringService, vaultID); err != nil {
			return err
		}
		printSuccess("Token removed for vault %s", vaultID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenSetCmd)
	tokenCmd.AddCommand(tokenDeleteCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	report, err := apiClient.VerifyVault(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(report)
		return nil
	}

	if !report.Valid {
		printError("Vault at %s failed verification: %s", report.Path, report.Problem)
		return fmt.Errorf("vault verification failed")
	}

	printSuccess("Vault %s is intact", report.VaultID)
	fmt.Printf("   Path: %s\n", report.Path)
	fmt.Printf("   Created: %s\n", report.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("   Factor: %s\n", report.FactorKind)
	fmt.Printf("   Iterations: %d\n", report.Iterations)
	return nil
}

func runRecover(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	recovered, err := apiClient.Recover(ctx, dir)

	if jsonOutput {
		out := map[string]interface{}{
			"success":   err == nil,
			"recovered": recovered,
		}
		if err != nil {
			out["error"] = err.Error()
		}
		printJSON(out)
		return err
	}

	if len(recovered) == 0 && err == nil {
		printSuccess("Nothing to recover in %s", dir)
		return nil
	}

	for _, r := range recovered {
		switch r.Action {
		case transform.RecoveryCompleted:
			printSuccess("Finished %s of %s", r.Op, filepath.Base(r.Source))
		case transform.RecoveryRolledBack:
			printWarning("Rolled back %s of %s", r.Op, filepath.Base(r.Source))
		default:
			printInfo("Removed staging tree %s", filepath.Base(r.Destination))
		}
	}

	return err
}
