package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/config"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/filter"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/output"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/runner"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

func newTestViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	v.Set("tmp_dir", t.TempDir())
	return v
}

func TestSettingsFromViper_Defaults(t *testing.T) {
	v := newTestViper(t)

	s, err := settingsFromViper(v)
	require.NoError(t, err)

	assert.True(t, s.flags.Backup)
	assert.True(t, s.flags.RestoreOnRegression)
	assert.False(t, s.flags.NewOnly)
	assert.False(t, s.flags.Quiet)
	assert.True(t, s.period.IsZero())
	assert.Equal(t, config.DefaultOutput, s.output)
	assert.Equal(t, int64(5*types.MiB), s.remoteMaxSize)
	assert.False(t, s.remote)
	assert.False(t, s.useCache)
}

func TestSettingsFromViper(t *testing.T) {
	tests := []struct {
		name    string
		set     map[string]interface{}
		check   func(t *testing.T, s *runSettings)
		wantErr bool
	}{
		{
			name: "period",
			set:  map[string]interface{}{"period": "2d"},
			check: func(t *testing.T, s *runSettings) {
				assert.Equal(t, 48*time.Hour, s.period.Window())
			},
		},
		{
			name:    "invalid period",
			set:     map[string]interface{}{"period": "2w"},
			wantErr: true,
		},
		{
			name:    "quality out of range",
			set:     map[string]interface{}{"remote.quality": 101},
			wantErr: true,
		},
		{
			name:    "invalid remote max size",
			set:     map[string]interface{}{"remote.max_size": "huge"},
			wantErr: true,
		},
		{
			name: "template selects template output",
			set:  map[string]interface{}{"template": "{{.Target}}", "output": "json"},
			check: func(t *testing.T, s *runSettings) {
				assert.Equal(t, "template", s.output)
			},
		},
		{
			name: "flags",
			set: map[string]interface{}{
				"quiet":         true,
				"less_output":   true,
				"new_only":      true,
				"use_remote":    true,
				"cache.enabled": true,
			},
			check: func(t *testing.T, s *runSettings) {
				assert.True(t, s.flags.Quiet)
				assert.True(t, s.flags.LessOutput)
				assert.True(t, s.flags.NewOnly)
				assert.True(t, s.remote)
				assert.True(t, s.useCache)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestViper(t)
			for k, val := range tt.set {
				v.Set(k, val)
			}

			s, err := settingsFromViper(v)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, s)
		})
	}
}

func TestSettingsFromViper_InvalidPeriodIsSentinel(t *testing.T) {
	v := newTestViper(t)
	v.Set("period", "abc")

	_, err := settingsFromViper(v)
	assert.ErrorIs(t, err, filter.ErrInvalidPeriod)
}

func TestApplyNegatedFlags(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "test"}
		cmd.Flags().Bool("no-backup", false, "")
		cmd.Flags().Bool("no-restore", false, "")
		cmd.Flags().String("time-marker", "", "")
		return cmd
	}

	t.Run("unset flags keep config", func(t *testing.T) {
		v := newTestViper(t)
		v.Set("backup", false)

		applyNegatedFlags(newCmd(), v)

		assert.False(t, v.GetBool("backup"))
		assert.True(t, v.GetBool("restore_on_regression"))
		assert.False(t, v.GetBool("new_only"))
	})

	t.Run("set flags override config", func(t *testing.T) {
		v := newTestViper(t)
		cmd := newCmd()
		require.NoError(t, cmd.Flags().Set("no-backup", "true"))
		require.NoError(t, cmd.Flags().Set("no-restore", "true"))

		applyNegatedFlags(cmd, v)

		assert.False(t, v.GetBool("backup"))
		assert.False(t, v.GetBool("restore_on_regression"))
	})

	t.Run("time marker implies new only", func(t *testing.T) {
		v := newTestViper(t)
		cmd := newCmd()
		require.NoError(t, cmd.Flags().Set("time-marker", "/tmp/marker"))

		applyNegatedFlags(cmd, v)

		assert.True(t, v.GetBool("new_only"))
	})

	t.Run("missing flags are ignored", func(t *testing.T) {
		v := newTestViper(t)
		assert.NotPanics(t, func() { applyNegatedFlags(&cobra.Command{Use: "bare"}, v) })
	})
}

func TestRunContext(t *testing.T) {
	v := newTestViper(t)
	v.Set("exclude", []string{"thumbs, cache", "/raw/"})
	v.Set("period", "90m")

	s, err := settingsFromViper(v)
	require.NoError(t, err)

	rc := s.runContext("/photos")
	assert.Equal(t, "/photos", rc.TargetDir)
	assert.Equal(t, s.cfg.TmpDir, rc.TmpDir)
	assert.Equal(t, s.cfg.TimeMarker, rc.TimeMarker)
	assert.Equal(t, []string{"thumbs", "cache", "/raw/"}, rc.Exclude)
	assert.Equal(t, 90*time.Minute, rc.Period.Window())
	assert.True(t, rc.Flags.Backup)
}

func testResult() *output.Result {
	return &output.Result{
		ID:        "5f1c2a8e-0000-4000-8000-000000000000",
		Operation: "run",
		Target:    "/photos",
		Mode:      "full",
		Files: []output.FileResult{
			{Path: "/photos/a.jpg", Outcome: types.OutcomeOptimized.String(), SizeBefore: 1000, SizeAfter: 600, Saved: 400, Percent: 40},
		},
		Totals: output.Totals{BytesIn: 1000, BytesOut: 600, BytesSaved: 400, PercentSaved: 40, FilesOptimized: 1, FilesTotal: 1},
	}
}

func TestPrintResult_QuietSuppressesHumanFormats(t *testing.T) {
	for _, format := range []string{"pretty", "plain"} {
		var buf bytes.Buffer
		s := &runSettings{output: format, flags: runner.Flags{Quiet: true}}

		require.NoError(t, printResult(&buf, s, testResult()))
		assert.Empty(t, buf.String(), "format %s", format)
	}
}

func TestPrintResult_QuietKeepsMachineFormats(t *testing.T) {
	var buf bytes.Buffer
	s := &runSettings{output: "json", flags: runner.Flags{Quiet: true}}

	require.NoError(t, printResult(&buf, s, testResult()))

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Contains(t, doc, "totals")
}

func TestPrintResult_Template(t *testing.T) {
	var buf bytes.Buffer
	s := &runSettings{output: "template", template: "{{.Target}} {{bytes .Totals.BytesSaved}}\n"}

	require.NoError(t, printResult(&buf, s, testResult()))
	assert.Equal(t, "/photos 400 B\n", buf.String())
}

func TestPrintResult_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	s := &runSettings{output: "xml"}

	assert.Error(t, printResult(&buf, s, testResult()))
}

func TestFormatStatus(t *testing.T) {
	got := formatStatus(runner.Status{Current: 12, Total: 40, BytesIn: 1000, BytesSaved: 250, Optimized: 3})
	assert.Equal(t, "12/40 (30%), 3 optimized, saved 250 B (25.0%)", got)

	got = formatStatus(runner.Status{})
	assert.Equal(t, "0/0 (0%), 0 optimized, saved 0 B (0.0%)", got)
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", truncateString("abc", 8))
	assert.Equal(t, "abcde...", truncateString("abcdefghijk", 8))
	assert.Equal(t, "ab", truncateString("abcdef", 2))
}

func TestWriteVersion(t *testing.T) {
	var buf bytes.Buffer
	writeVersion(&buf, true)
	assert.Equal(t, version+"\n", buf.String())

	buf.Reset()
	writeVersion(&buf, false)
	assert.Contains(t, buf.String(), "imgsweep "+version)
	assert.Contains(t, buf.String(), "commit:")
	assert.Contains(t, buf.String(), "go:")
}
