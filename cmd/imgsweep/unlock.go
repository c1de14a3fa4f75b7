package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/config"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/lock"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock [dir]",
	Short: "Remove a stale directory lock",
	Long: `Remove every lock entry for a directory.

A run that was killed (SIGKILL, power loss) leaves its directory listed in the
shared lock file, and later runs against that directory refuse to start. Only
use this when no imgsweep process is working on the directory.

Examples:
  imgsweep unlock ~/Pictures     # Clear the lock on ~/Pictures
  imgsweep unlock --list         # Show the locked directories`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUnlock,
}

var unlockList bool

func init() {
	unlockCmd.Flags().BoolVar(&unlockList, "list", false, "list locked directories")
	rootCmd.AddCommand(unlockCmd)
}

// loadConfig decodes the configuration from the global viper instance so
// --config, env and bound flags apply.
func loadConfig() (*config.Config, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// dirLock returns the shared lock for the configured tmp dir.
func dirLock(cfg *config.Config) *lock.DirLock {
	return lock.New(filepath.Join(cfg.TmpDir, config.LockFileName))
}

func runUnlock(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	l := dirLock(cfg)

	if unlockList || len(args) == 0 {
		dirs, err := l.Locked()
		if err != nil {
			return fmt.Errorf("failed to read lock file: %w", err)
		}
		if len(dirs) == 0 {
			printInfo("No directories are locked.")
			return nil
		}
		for _, d := range dirs {
			fmt.Println(d)
		}
		return nil
	}

	removed, err := l.ForceUnlock(args[0])
	if err != nil {
		return fmt.Errorf("failed to unlock %s: %w", args[0], err)
	}
	if removed == 0 {
		printInfo("%s was not locked.", args[0])
		return nil
	}

	// A killed run also leaves its status file behind.
	if abs, err := filepath.Abs(args[0]); err == nil {
		if err := removeStatus(cfg, abs); err != nil && !errors.Is(err, errNoStatus) {
			printVerbose("status file not removed: %v", err)
		}
	}

	printInfo("Unlocked %s (%d %s removed).", args[0], removed, plural(removed, "entry", "entries"))
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
