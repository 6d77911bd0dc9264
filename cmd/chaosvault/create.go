package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/chaosvault/internal/factor"
	"github.com/TheMichaelB/chaosvault/internal/models"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new vault on the medium",
	Long: `Create collects environmental entropy, derives a fresh chaos alphabet
and writes a new vault directory on the medium. Keep the medium safe:
without it nothing locked with this vault can be unlocked.`,
	Example: `  chaosvault create --vault /media/usb
  chaosvault create --vault /media/usb --factor passphrase
  chaosvault create --vault /media/usb --factor token --token-id 04a2b9c1`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

var (
	createFactor  string
	createTokenID string
)

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringVar(&createFactor, "factor", "none",
		"Secondary factor: none, passphrase or token")
	createCmd.Flags().StringVar(&createTokenID, "token-id", "",
		"Token id to bind when --factor token; it is stored in the OS keyring")
}

func runCreate(cmd *cobra.Command, args []string) error {
	kind, err := models.ParseFactorKind(createFactor)
	if err != nil {
		return err
	}

	switch kind {
	case models.FactorPassphrase:
		if env := factor.NewEnvProvider(); env.Available() {
			apiClient.SetFactorProvider(env)
		} else {
			apiClient.SetFactorProvider(factor.NewPromptProvider(true))
		}
	case models.FactorToken:
		if createTokenID == "" {
			return fmt.Errorf("--token-id is required with --factor token")
		}
		apiClient.SetFactorProvider(factor.Static{Value: models.NewTokenID([]byte(createTokenID))})
	default:
		apiClient.SetFactorProvider(factor.None{})
	}

	ctx, cancel := signalContext()
	defer cancel()

	progress := NewProgressDisplay("Collecting entropy...")
	result, err := apiClient.CreateVault(ctx)
	progress.Close()
	if err != nil {
		return err
	}

	if kind == models.FactorToken {
		if err := factor.SaveToken(cfg.Factor.KeyringService, result.Record.Metadata.VaultID, createTokenID); err != nil {
			printWarning("Vault created but the token id could not be stored: %v", err)
		}
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":       true,
			"vault_id":      result.Record.Metadata.VaultID,
			"path":          result.Path,
			"factor":        kind,
			"entropy_bytes": result.EntropyBytes,
			"degraded":      result.Degraded,
			"skipped":       result.Skipped,
		})
		return nil
	}

	printSuccess("Vault %s created at %s", result.Record.Metadata.VaultID, result.Path)
	fmt.Printf("   Entropy: %s in %s\n", formatBytes(int64(result.EntropyBytes)), result.Duration.Round(time.Millisecond))
	if result.Degraded {
		printWarning("   Degraded entropy: skipped %v", result.Skipped)
	}
	return nil
}
