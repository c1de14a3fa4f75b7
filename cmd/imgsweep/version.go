package main

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
)

// Set by the stavefile through -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Display the version, commit and build date of imgsweep.

With --short only the version number is printed, for use in scripts.`,
	Args: cobra.NoArgs,
	RunE: runVersion,
}

func init() {
	versionCmd.Flags().Bool("short", false, "print only the version number")
	rootCmd.AddCommand(versionCmd)

	rootCmd.Version = version
	rootCmd.SetVersionTemplate("imgsweep {{.Version}}\n")
}

func runVersion(cmd *cobra.Command, _ []string) error {
	short, err := cmd.Flags().GetBool("short")
	if err != nil {
		return err
	}
	writeVersion(cmd.OutOrStdout(), short)
	return nil
}

func writeVersion(w io.Writer, short bool) {
	if short {
		fmt.Fprintln(w, version)
		return
	}
	fmt.Fprintf(w, "imgsweep %s\n", version)
	fmt.Fprintf(w, "  commit:    %s\n", commit)
	fmt.Fprintf(w, "  built:     %s\n", date)
	fmt.Fprintf(w, "  go:        %s (%s/%s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
