package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/config"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/logging"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "imgsweep [flags] <dir>",
		Short: "Losslessly optimize the images in a directory tree",
		Long: `imgsweep optimizes every JPEG, PNG and GIF under a directory with the best
compressor installed on this machine (or the reSmush.it API with --remote).

Every file is backed up while it is processed and restored when the result is
not smaller. A directory can only be processed by one imgsweep at a time.

Examples:
  imgsweep ~/Pictures            # Optimize everything under ~/Pictures
  imgsweep -n ~/Pictures         # Only files changed since the last -n run
  imgsweep -p 2d ~/Pictures      # Only files modified in the last two days
  imgsweep -e thumbs,cache .     # Skip paths containing "thumbs" or "cache"
  imgsweep --remote -q .         # Use the remote API, no output
  imgsweep tools                 # Show which compressors were found
  imgsweep history               # View previous runs`,
		Args:              cobra.ExactArgs(1),
		RunE:              runOptimize,
		PersistentPreRunE: initializeLogging,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/imgsweep/config.yaml)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "no output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "show tool and restore details, debug logging")
	rootCmd.PersistentFlags().String("tmp-dir", "", "scratch directory for backups, lock and status files")
	rootCmd.PersistentFlags().BoolP("less-output", "l", false, "only show progress and the summary")
	rootCmd.PersistentFlags().Bool("no-backup", false, "do not back up files while they are processed")
	rootCmd.PersistentFlags().Bool("no-restore", false, "keep optimized files even when they grew")
	rootCmd.PersistentFlags().StringSliceP("exclude", "e", nil, "skip paths containing any of these substrings (comma-separated)")
	rootCmd.PersistentFlags().Bool("remote", false, "optimize with the reSmush.it API instead of local tools")
	rootCmd.PersistentFlags().Int("remote-quality", config.DefaultRemoteQuality, "JPEG quality requested from the remote API (0-100)")
	rootCmd.PersistentFlags().Bool("remote-exif", false, "ask the remote API to keep EXIF data")
	rootCmd.PersistentFlags().String("remote-max-size", config.DefaultRemoteMaxSize, "largest file sent to the remote API")
	rootCmd.PersistentFlags().Bool("use-cache", false, "skip files unchanged since a previous run processed them")
	rootCmd.PersistentFlags().StringP("output", "o", "", "summary format: pretty, plain, json, jsonl, yaml, template, paths")
	rootCmd.PersistentFlags().String("template", "", "Go template for -o template")

	// Flags that only make sense for a one-shot run
	rootCmd.Flags().StringP("period", "p", "", "only files modified within this period (e.g. 30m, 12h, 2d)")
	rootCmd.Flags().BoolP("new-only", "n", false, "only files modified since the last --new-only run")
	rootCmd.Flags().String("time-marker", "", "time marker file for --new-only (implies --new-only)")
	rootCmd.Flags().Bool("tui", false, "interactive progress view")

	// Bind flags to viper
	bind := func(key string, flag string) {
		f := rootCmd.PersistentFlags().Lookup(flag)
		if f == nil {
			f = rootCmd.Flags().Lookup(flag)
		}
		_ = viper.BindPFlag(key, f)
	}
	bind("quiet", "quiet")
	bind("verbose", "verbose")
	bind("tmp_dir", "tmp-dir")
	bind("less_output", "less-output")
	bind("exclude", "exclude")
	bind("use_remote", "remote")
	bind("remote.quality", "remote-quality")
	bind("remote.exif", "remote-exif")
	bind("remote.max_size", "remote-max-size")
	bind("cache.enabled", "use-cache")
	bind("output", "output")
	bind("template", "template")
	bind("period", "period")
	bind("new_only", "new-only")
	bind("time_marker", "time-marker")
	bind("tui", "tui")
}

// initConfig reads in config file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")

		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			viper.AddConfigPath(filepath.Join(xdgConfigHome, "imgsweep"))
		}

		homeDir, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(homeDir, ".config", "imgsweep"))
		}
	}

	viper.SetEnvPrefix("IMGSWEEP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	config.SetDefaults(viper.GetViper())

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	defer func() { _ = logging.Close() }()

	err := rootCmd.Execute()
	if err != nil {
		printError("%v", err)
	}
	return err
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return viper.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return viper.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
