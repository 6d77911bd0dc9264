package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/chaosvault/internal/models"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show folders locked with the vault",
	Long: `List prints the locked-folder registry kept next to the vault.
With --prune, entries whose locked folder no longer exists are removed.`,
	Example: `  chaosvault list --vault /media/usb
  chaosvault list --prune --dry-run`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var (
	listPrune  bool
	listDryRun bool
	listAll    bool
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().BoolVar(&listPrune, "prune", false,
		"Remove entries whose locked folder is missing")
	listCmd.Flags().BoolVar(&listDryRun, "dry-run", false,
		"With --prune, only report what would be removed")
	listCmd.Flags().BoolVarP(&listAll, "all", "a", false,
		"Include folders that were unlocked again")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if listPrune {
		stale, err := apiClient.PruneRegistry(ctx, listDryRun)
		if err != nil {
			return err
		}
		if !jsonOutput {
			verb := "Removed"
			if listDryRun {
				verb = "Would remove"
			}
			for _, e := range stale {
				printInfo("%s %s (%s)", verb, e.OriginalName, e.LockedPath)
			}
			printSuccess("%s %d missing folder(s) from the registry", verb, len(stale))
		}
	}

	entries, err := apiClient.ListLocked(ctx)
	if err != nil {
		return err
	}

	shown := entries[:0:0]
	for _, e := range entries {
		if listAll || e.IsLocked() {
			shown = append(shown, e)
		}
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"folders": shown,
		})
		return nil
	}

	if len(shown) == 0 {
		printInfo("No locked folders recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tFILES\tSIZE\tLOCKED\tPATH")
	for _, e := range shown {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			e.OriginalName, statusLabel(e), e.FileCount, formatBytes(e.TotalSize),
			e.LockedAt.Local().Format("2006-01-02 15:04"), e.LockedPath)
	}
	return w.Flush()
}

func statusLabel(e *models.LockedFolderEntry) string {
	if _, err := os.Stat(e.LockedPath); e.IsLocked() && err != nil {
		return warningColor.Sprint("missing")
	}
	if e.Status == models.StatusLocked {
		return successColor.Sprint(e.Status)
	}
	return mutedColor.Sprint(e.Status)
}
