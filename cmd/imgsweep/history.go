package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/config"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/manifest"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/output"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View run history",
	Long: `View the history of optimization runs.

Every run and every watch batch is recorded with its per-file results and
totals, unless history.enabled is false.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show details of a specific run",
	Long: `Display a recorded run by its ID or a unique ID prefix, using the output
format selected with -o.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean up old history entries",
	Long:  `Remove history entries older than the retention period.`,
	Args:  cobra.NoArgs,
	RunE:  runHistoryClean,
}

var historyLimit int

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of entries to show")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

// getManifest returns a manifest instance with the configured directory.
func getManifest() (*manifest.Manifest, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	m, err := manifest.New(cfg.History.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize manifest: %w", err)
	}
	return m, cfg, nil
}

// runHistory lists recent runs.
func runHistory(cmd *cobra.Command, args []string) error {
	m, _, err := getManifest()
	if err != nil {
		return err
	}

	entries, err := m.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	if len(entries) == 0 {
		printInfo("No history entries found.")
		printInfo("Run 'imgsweep <dir>' to optimize a directory.")
		return nil
	}

	fmt.Printf("\n%-8s  %-16s  %-5s  %-9s  %-12s  %s\n", "ID", "STARTED", "OP", "OPTIMIZED", "SAVED", "TARGET")
	fmt.Println(strings.Repeat("-", 80))

	for _, entry := range entries {
		target := entry.Target
		if entry.Error != "" {
			target += " (interrupted)"
		}
		fmt.Printf("%-8s  %-16s  %-5s  %-9s  %-12s  %s\n",
			truncateString(entry.ID, 8),
			entry.Timestamp.Local().Format("2006-01-02 15:04"),
			entry.Operation,
			fmt.Sprintf("%d/%d", entry.Summary.FilesOptimized, entry.Summary.FilesTotal),
			types.FormatSize(entry.Summary.BytesSaved),
			target,
		)
	}

	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("\nShowing %d entries. Use --limit to see more.\n", len(entries))
	fmt.Println("Use 'imgsweep history show <id>' for details on a specific run.")

	return nil
}

// runHistoryShow displays a recorded run through an output formatter.
func runHistoryShow(cmd *cobra.Command, args []string) error {
	m, cfg, err := getManifest()
	if err != nil {
		return err
	}

	entry, err := m.Get(args[0])
	if err != nil {
		return fmt.Errorf("failed to get entry: %w", err)
	}

	name := cfg.Output
	tmpl := viper.GetString("template")
	if tmpl != "" {
		name = "template"
	}
	// pretty only lists failures because it expects per-file lines above
	// it; a recorded run has none, so show the full table instead.
	if name == "" || name == "pretty" {
		name = "plain"
	}

	s := &runSettings{cfg: cfg, output: name, template: tmpl}
	return printResult(cmd.OutOrStdout(), s, output.FromEntry(entry))
}

// runHistoryClean removes old history entries.
func runHistoryClean(cmd *cobra.Command, args []string) error {
	m, cfg, err := getManifest()
	if err != nil {
		return err
	}

	retentionDays := cfg.History.RetentionDays
	if retentionDays <= 0 {
		retentionDays = config.DefaultRetentionDays
	}

	printInfo("Cleaning history entries older than %d days...", retentionDays)

	removed, err := m.Cleanup(retentionDays)
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}

	printInfo("Removed %d %s.", removed, plural(removed, "entry", "entries"))
	return nil
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
