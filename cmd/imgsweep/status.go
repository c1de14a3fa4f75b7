package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/config"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/runner"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

var statusCmd = &cobra.Command{
	Use:   "status [dir]",
	Short: "Show the progress of running optimizations",
	Long: `Show the progress of imgsweep runs in progress.

Every run rewrites a small status file after each image. Without a directory,
the progress of every locked directory is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

// errNoStatus is returned when a directory has no status file.
var errNoStatus = errors.New("no run in progress")

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var dirs []string
	if len(args) == 1 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		dirs = []string{abs}
	} else {
		if dirs, err = dirLock(cfg).Locked(); err != nil {
			return fmt.Errorf("failed to read lock file: %w", err)
		}
	}

	if len(dirs) == 0 {
		printInfo("No runs in progress.")
		return nil
	}

	for _, dir := range dirs {
		st, err := readStatus(cfg, dir)
		switch {
		case errors.Is(err, errNoStatus):
			fmt.Printf("%s: %s\n", dir, errNoStatus)
		case err != nil:
			fmt.Printf("%s: %v\n", dir, err)
		default:
			fmt.Printf("%s: %s\n", dir, formatStatus(st))
		}
	}
	return nil
}

func readStatus(cfg *config.Config, dir string) (runner.Status, error) {
	st, err := runner.ReadStatus(runner.StatusPath(cfg.TmpDir, dir))
	if errors.Is(err, os.ErrNotExist) {
		return runner.Status{}, errNoStatus
	}
	return st, err
}

func removeStatus(cfg *config.Config, dir string) error {
	path := runner.StatusPath(cfg.TmpDir, dir)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return errNoStatus
	}
	return runner.RemoveStatus(path)
}

// formatStatus renders e.g. "12/40 (30%), 3 optimized, saved 1.2 MiB (8.5%)".
func formatStatus(st runner.Status) string {
	pct := 0
	if st.Total > 0 {
		pct = st.Current * 100 / st.Total
	}

	parts := []string{
		fmt.Sprintf("%d/%d (%d%%)", st.Current, st.Total, pct),
		fmt.Sprintf("%d optimized", st.Optimized),
		fmt.Sprintf("saved %s (%.1f%%)", types.FormatSize(st.BytesSaved), types.Percent(st.BytesSaved, st.BytesIn)),
	}
	return strings.Join(parts, ", ")
}
