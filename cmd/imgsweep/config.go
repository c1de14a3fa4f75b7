package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage imgsweep configuration settings.

Configuration is loaded from:
  1. $XDG_CONFIG_HOME/imgsweep/config.yaml (if set)
  2. ~/.config/imgsweep/config.yaml

Environment variables can override config file settings using the IMGSWEEP_ prefix:
  IMGSWEEP_TMP_DIR=/var/tmp/imgsweep
  IMGSWEEP_REMOTE_QUALITY=80
  IMGSWEEP_OUTPUT=json`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration settings from all sources.`,
	RunE:  runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long: `Open the configuration file in your default editor.

The editor is determined by:
  1. $VISUAL environment variable
  2. $EDITOR environment variable
  3. Falls back to 'vi'

If the config file doesn't exist, a default one will be created first.`,
	RunE: runConfigEdit,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a default configuration file if one doesn't exist.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// runConfigShow displays the current configuration.
func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if configFile := viper.ConfigFileUsed(); configFile != "" {
		fmt.Printf("Config file: %s\n\n", configFile)
	} else {
		fmt.Println("Config file: (using defaults, no file found)")
		fmt.Println()
	}

	fmt.Println("Current Configuration:")
	fmt.Println("----------------------")
	fmt.Printf("tmp_dir:                 %s\n", cfg.TmpDir)
	fmt.Printf("exclude:                 %v\n", cfg.Exclude)
	fmt.Printf("backup:                  %t\n", cfg.Backup)
	fmt.Printf("restore_on_regression:   %t\n", cfg.RestoreOnRegression)
	fmt.Printf("time_marker:             %s\n", cfg.TimeMarker)
	fmt.Printf("output:                  %s\n", cfg.Output)
	fmt.Printf("remote.endpoint:         %s\n", cfg.Remote.Endpoint)
	fmt.Printf("remote.quality:          %d\n", cfg.Remote.Quality)
	fmt.Printf("remote.exif:             %t\n", cfg.Remote.Exif)
	fmt.Printf("remote.max_size:         %s\n", cfg.Remote.MaxSize)
	fmt.Printf("remote.timeout:          %ds\n", cfg.Remote.Timeout)
	fmt.Printf("cache.enabled:           %t\n", cfg.Cache.Enabled)
	fmt.Printf("cache.path:              %s\n", cfg.Cache.Path)
	fmt.Printf("history.enabled:         %t\n", cfg.History.Enabled)
	fmt.Printf("history.path:            %s\n", cfg.History.Path)
	fmt.Printf("history.retention_days:  %d\n", cfg.History.RetentionDays)
	fmt.Printf("logging.level:           %s\n", cfg.Logging.Level)
	logPath := cfg.Logging.Path
	if logPath == "" {
		logPath = config.DefaultLogPath()
	}
	fmt.Printf("logging.path:            %s\n", logPath)

	fmt.Println("\nEnvironment Overrides:")
	fmt.Println("----------------------")
	anyOverrides := false
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "IMGSWEEP_") {
			fmt.Println(kv)
			anyOverrides = true
		}
	}
	if !anyOverrides {
		fmt.Println("(none)")
	}

	return nil
}

// runConfigEdit opens the config file in an editor.
func runConfigEdit(cmd *cobra.Command, args []string) error {
	if err := config.WriteDefault(); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	configPath, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	printVerbose("Opening %s with %s", configPath, editor)

	editorCmd := exec.Command(editor, configPath)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}

	return nil
}

// runConfigInit creates a default config file.
func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		printInfo("Config file already exists: %s", configPath)
		printInfo("Use 'imgsweep config edit' to modify it.")
		return nil
	}

	if err := config.WriteDefault(); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	printInfo("Created default config file: %s", configPath)
	return nil
}

// runConfigPath shows the config file path.
func runConfigPath(cmd *cobra.Command, args []string) error {
	configPath, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	fmt.Println(configPath)

	if _, err := os.Stat(configPath); err == nil {
		printVerbose("File exists")
	} else if os.IsNotExist(err) {
		printVerbose("File does not exist (will use defaults)")
	}

	return nil
}
