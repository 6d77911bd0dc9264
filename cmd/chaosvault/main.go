package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/chaosvault/internal/client"
	"github.com/TheMichaelB/chaosvault/internal/config"
	"github.com/TheMichaelB/chaosvault/internal/events"
	"github.com/TheMichaelB/chaosvault/internal/models"
)

var (
	cfgFile    string
	vaultPath  string
	jsonOutput bool
	verbose    bool

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "chaosvault",
	Short: "Lock folders with a vault kept on removable media",
	Long: `chaosvault encrypts folders in place using a vault stored on a
removable medium. The vault holds a chaos alphabet derived from
environmental entropy; every lock and unlock needs the medium present.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file (default searches ./ and the user config dir)")
	rootCmd.PersistentFlags().StringVar(&vaultPath, "vault", "",
		"Medium root holding the vault (overrides vault.path)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print machine-readable JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
}

func setup(cmd *cobra.Command, args []string) error {
	if cmd.Annotations["skipClient"] == "true" {
		return nil
	}

	var err error
	cfg, err = config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}

	if vaultPath != "" {
		cfg.Vault.Path = vaultPath
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	apiClient, err = client.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	return nil
}

// signalContext cancels on the first interrupt. A second interrupt is
// left to the default handler.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		select {
		case <-sigChan:
			printWarning("\nInterrupted, rolling back...")
			cancel()
			signal.Stop(sigChan)
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"code":    models.CodeOf(err),
				"error":   err.Error(),
			})
		} else {
			printError("%v", err)
			if hint := hintFor(err); hint != "" {
				printInfo("%s", hint)
			}
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, models.ErrEntropyAborted):
		return 130
	case errors.Is(err, models.ErrCannotUnlock):
		return 3
	default:
		return 1
	}
}

func hintFor(err error) string {
	switch {
	case errors.Is(err, models.ErrVaultNotFound):
		return "Insert the vault medium or pass --vault <path>"
	case errors.Is(err, client.ErrNoMedium):
		return "Pass --vault <path> or set vault.path in the config file"
	case errors.Is(err, models.ErrCannotUnlock):
		return "Check the secondary factor for this vault"
	case errors.Is(err, models.ErrVaultUnavailable):
		return "The medium was removed or is not responding; run 'chaosvault recover' once it is back"
	default:
		return ""
	}
}
