package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/tools"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Show the compressors found on this machine",
	Long: `List, per image format, the compressors imgsweep found and the order in which
it tries them. The first available tool for a format is used.`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dirs := tools.SearchPath()
	printVerbose("search path: %s", strings.Join(dirs, ":"))

	sel := tools.NewSelector(context.Background(), tools.NewExecRunner(),
		tools.WithTmpDir(cfg.TmpDir), tools.WithSearchDirs(dirs))
	fmt.Print(sel.Capabilities())
	return nil
}
