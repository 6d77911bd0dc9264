package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/chaosvault/internal/services/transform"
)

var lockCmd = &cobra.Command{
	Use:   "lock <folder>",
	Short: "Encrypt a folder with the vault",
	Long: `Lock encrypts every file in the folder into a sibling <folder>.locked
directory. The original folder is removed only after the locked copy is
complete on disk. Interrupting the command rolls it back.`,
	Example: `  chaosvault lock ~/Documents/taxes --vault /media/usb`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransform("lock", args[0], apiClient.LockFolder)
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <folder.locked>",
	Short: "Restore a locked folder",
	Long: `Unlock decrypts a locked folder back to its original name next to it.
The locked folder is removed only after every file verified.`,
	Example: `  chaosvault unlock ~/Documents/taxes.locked --vault /media/usb`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransform("unlock", args[0], apiClient.UnlockFolder)
	},
}

func init() {
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
}

type transformFunc func(context.Context, string, transform.ProgressSink) (*transform.Result, error)

func runTransform(op, path string, fn transformFunc) error {
	if err := useVaultFactor(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	progress := NewProgressDisplay(fmt.Sprintf("Preparing %s...", op))
	result, err := fn(ctx, path, progress)
	progress.Close()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":     true,
			"op":          op,
			"source":      result.Source,
			"destination": result.Destination,
			"files":       result.FileCount,
			"bytes":       result.TotalSize,
			"duration_ms": result.Duration.Milliseconds(),
		})
		return nil
	}

	printSuccess("%sed %s", titleOp(op), result.Destination)
	fmt.Printf("   Files: %d\n", result.FileCount)
	fmt.Printf("   Size: %s\n", formatBytes(result.TotalSize))
	fmt.Printf("   Duration: %s\n", result.Duration.Round(time.Millisecond))
	return nil
}

func titleOp(op string) string {
	if op == "lock" {
		return "Lock"
	}
	return "Unlock"
}
