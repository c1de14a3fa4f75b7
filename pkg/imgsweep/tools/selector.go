// Package tools selects and drives the external compressors for each image
// format.
package tools

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/logging"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

// NoOptimizerError reports that no compressor is available for a format.
// The file is left untouched.
type NoOptimizerError struct {
	Format types.Format
}

func (e *NoOptimizerError) Error() string {
	return fmt.Sprintf("no optimizer found for format %s", e.Format)
}

// Option configures a Selector.
type Option func(*Selector)

// WithTmpDir sets the directory used for decode intermediates.
func WithTmpDir(dir string) Option {
	return func(s *Selector) {
		s.tmpDir = dir
	}
}

// WithCapabilities supplies a precomputed capability map instead of probing
// the search path.
func WithCapabilities(caps Capabilities) Option {
	return func(s *Selector) {
		s.caps = caps
		s.probed = true
	}
}

// WithSearchDirs overrides the directories probed for binaries.
func WithSearchDirs(dirs []string) Option {
	return func(s *Selector) {
		s.searchDirs = dirs
	}
}

// Selector dispatches an image to the first available compressor for its
// format. Availability and version-dependent flags are resolved once in
// NewSelector.
type Selector struct {
	runner     Runner
	caps       Capabilities
	probed     bool
	searchDirs []string
	tmpDir     string

	// cjpegQuality is set when cjpeg advertises -quality.
	cjpegQuality bool

	// optipngStrip is set when optipng is 0.7 or newer.
	optipngStrip bool
}

// NewSelector builds a selector, probing binaries and tool capabilities.
func NewSelector(ctx context.Context, runner Runner, opts ...Option) *Selector {
	s := &Selector{
		runner: runner,
		tmpDir: os.TempDir(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if !s.probed {
		dirs := s.searchDirs
		if dirs == nil {
			dirs = SearchPath()
		}
		s.caps = Probe(dirs)
	}

	log := logging.Get("tools")
	if s.caps.Has(MozJPEG) {
		s.cjpegQuality = s.probeCJPEGQuality(ctx)
		log.Debug("probed cjpeg", "quality_flag", s.cjpegQuality)
	}
	if s.caps.Has(OptiPNG) {
		s.optipngStrip = s.probeOptiPNGStrip(ctx)
		log.Debug("probed optipng", "strip", s.optipngStrip)
	}

	for _, f := range []types.Format{types.FormatJPEG, types.FormatPNG, types.FormatGIF} {
		log.Debug("capabilities", "format", f, "tools", s.caps.Available(f))
	}
	return s
}

// Capabilities returns the capability map built at startup.
func (s *Selector) Capabilities() Capabilities {
	return s.caps
}

// Select returns the highest-priority available compressor for f.
func (s *Selector) Select(f types.Format) (ID, error) {
	ids := s.caps.Available(f)
	if len(ids) == 0 {
		return "", &NoOptimizerError{Format: f}
	}
	return ids[0], nil
}

// Optimize compresses path in place with the selected compressor and returns
// its ID.
func (s *Selector) Optimize(ctx context.Context, path string, f types.Format) (string, error) {
	id, err := s.Select(f)
	if err != nil {
		return "", err
	}

	logging.Get("tools").Debug("optimizing", "file", path, "tool", id)

	switch id {
	case MozJPEG:
		err = s.mozjpeg(ctx, path)
	case JPEGOptim:
		err = s.jpegoptim(ctx, path)
	case JPEGTran:
		err = s.jpegtran(ctx, path)
	case OptiPNG:
		err = s.optipng(ctx, path)
	case PNGCrush:
		err = s.pngcrush(ctx, path)
	case PNGOut:
		err = s.pngout(ctx, path)
	case AdvPNG:
		err = s.advpng(ctx, path)
	case Gifsicle:
		err = s.gifsicle(ctx, path)
	default:
		err = fmt.Errorf("unknown compressor %q", id)
	}
	if err != nil {
		return string(id), fmt.Errorf("%s: %w", id, err)
	}
	return string(id), nil
}

func (s *Selector) bin(name string) string {
	if p, ok := s.caps.Binaries[name]; ok {
		return p
	}
	return name
}

func (s *Selector) probeCJPEGQuality(ctx context.Context) bool {
	// cjpeg prints usage to stderr and may exit non-zero; only the text matters.
	out, _ := s.runner.Run(ctx, Command{Path: s.bin("cjpeg"), Args: []string{"-help"}})
	return strings.Contains(string(out), "-quality")
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)`)

func (s *Selector) probeOptiPNGStrip(ctx context.Context) bool {
	out, _ := s.runner.Run(ctx, Command{Path: s.bin("optipng"), Args: []string{"-v"}})
	return optipngSupportsStrip(string(out))
}

// optipngSupportsStrip reports whether the first version in output is 0.7
// or newer.
func optipngSupportsStrip(output string) bool {
	m := versionPattern.FindStringSubmatch(output)
	if m == nil {
		return false
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	return major >= 1 || minor >= 7
}
