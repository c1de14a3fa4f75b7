package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/cache"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the optimized-file cache",
	Long: `Commands for managing the optimized-file cache.

With --use-cache (or cache.enabled: true), imgsweep remembers the size and
modification time of every file it has processed and skips files that have
not changed since. Cache data is stored in the XDG cache directory
(typically ~/.cache/imgsweep/optimized).`,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [dir]",
	Short: "Forget cached results",
	Long: `Removes cached results for a directory tree, or everything when no directory
is given. The next run processes those files again.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCacheClear,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats [dir]",
	Short: "Show cache statistics",
	Long:  `Displays the number of cached files, how many were optimized, and the size of the cache on disk.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCacheStats,
}

var cachePathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show cache location",
	Long:  `Prints the path to the cache directory.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Println(cfg.Cache.Path)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePathCmd)
	rootCmd.AddCommand(cacheCmd)
}

// openCache opens the configured cache. It fails while a run holds it.
func openCache() (*cache.Cache, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	c, err := cache.Open(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache (is a run using it?): %w", err)
	}
	return c, nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	c, err := openCache()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	var removed int
	if len(args) == 1 {
		dir, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		removed, err = c.Clear(dir)
		if err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
	} else {
		if removed, err = c.ClearAll(); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
	}

	printInfo("Cache cleared (%s %s).", humanize.Comma(int64(removed)), plural(removed, "entry", "entries"))
	return nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	var dir string
	if len(args) == 1 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		dir = abs
	}

	c, err := openCache()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	st, err := c.Stats(dir)
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	fmt.Printf("Cache location: %s\n", st.Path)
	if dir != "" {
		fmt.Printf("Directory:      %s\n", dir)
	}
	fmt.Printf("Entries:        %s\n", humanize.Comma(int64(st.Entries)))
	fmt.Printf("Optimized:      %s\n", humanize.Comma(int64(st.Optimized)))
	fmt.Printf("Disk usage:     %s\n", types.FormatSize(st.DiskLSM+st.DiskVLog))
	if st.OldestNano > 0 {
		fmt.Printf("Oldest entry:   %s\n", humanize.Time(time.Unix(0, st.OldestNano)))
	}
	return nil
}
