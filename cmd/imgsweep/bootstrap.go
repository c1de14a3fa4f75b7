package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/config"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/logging"
)

// initializeLogging creates the XDG directories and starts file logging.
// It runs before every command.
func initializeLogging(_ *cobra.Command, _ []string) error {
	if err := ensureDirectories(); err != nil {
		return err
	}

	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		// A bad rotation size should not stop a run.
		printError("%v; using default rotation", err)
		cfg.Logging.Rotation.MaxSize = ""
		if logCfg, err = logging.FromSettings(cfg.Logging); err != nil {
			return err
		}
	}
	if getVerbose() {
		logCfg.ConsoleLevel = "debug"
	}
	logCfg.TUIMode = viper.GetBool("tui")

	if err := logging.Init(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	return nil
}

// ensureDirectories creates the config, data and state directories.
func ensureDirectories() error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}
	for _, dir := range []string{config.DataDir(), config.StateDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
