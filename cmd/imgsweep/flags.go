package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/config"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/filter"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/runner"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

// runSettings is everything a run needs, resolved from config, env and
// flags.
type runSettings struct {
	cfg           *config.Config
	flags         runner.Flags
	period        filter.Period
	output        string
	template      string
	tui           bool
	useCache      bool
	remote        bool
	remoteMaxSize int64
}

// applyNegatedFlags maps --no-backup and --no-restore onto their config
// keys. Only flags the user actually set override the config file.
func applyNegatedFlags(cmd *cobra.Command, v *viper.Viper) {
	if f := cmd.Flags().Lookup("no-backup"); f != nil && f.Changed {
		v.Set("backup", f.Value.String() != "true")
	}
	if f := cmd.Flags().Lookup("no-restore"); f != nil && f.Changed {
		v.Set("restore_on_regression", f.Value.String() != "true")
	}
	if f := cmd.Flags().Lookup("time-marker"); f != nil && f.Changed {
		v.Set("new_only", true)
	}
}

// settingsFromViper resolves run settings from v.
func settingsFromViper(v *viper.Viper) (*runSettings, error) {
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}

	s := &runSettings{
		cfg: cfg,
		flags: runner.Flags{
			Quiet:               v.GetBool("quiet"),
			Verbose:             v.GetBool("verbose"),
			LessOutput:          v.GetBool("less_output"),
			Backup:              cfg.Backup,
			RestoreOnRegression: cfg.RestoreOnRegression,
			NewOnly:             v.GetBool("new_only"),
		},
		output:   cfg.Output,
		template: v.GetString("template"),
		tui:      v.GetBool("tui"),
		useCache: cfg.Cache.Enabled,
		remote:   v.GetBool("use_remote"),
	}

	if p := v.GetString("period"); p != "" {
		if s.period, err = filter.ParsePeriod(p); err != nil {
			return nil, err
		}
	}

	if cfg.Remote.Quality < 0 || cfg.Remote.Quality > 100 {
		return nil, fmt.Errorf("remote quality must be between 0 and 100, got %d", cfg.Remote.Quality)
	}
	if s.remoteMaxSize, err = types.ParseSize(cfg.Remote.MaxSize); err != nil {
		return nil, fmt.Errorf("invalid remote max size: %w", err)
	}

	if s.output == "" {
		s.output = config.DefaultOutput
	}
	if s.template != "" {
		s.output = "template"
	}
	return s, nil
}

// runContext builds the runner context for target.
func (s *runSettings) runContext(target string) runner.RunContext {
	return runner.RunContext{
		TargetDir:  target,
		TmpDir:     s.cfg.TmpDir,
		Flags:      s.flags,
		Period:     s.period,
		TimeMarker: s.cfg.TimeMarker,
		Exclude:    s.exclusions(),
	}
}

// exclusions flattens comma-separated entries so "-e a,b" and a YAML list
// behave the same.
func (s *runSettings) exclusions() []string {
	var out []string
	for _, e := range s.cfg.Exclude {
		out = append(out, filter.ParseExclusions(e)...)
	}
	return out
}
