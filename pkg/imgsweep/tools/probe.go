package tools

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

// ID identifies a compressor.
type ID string

// Known compressors.
const (
	MozJPEG   ID = "djpeg+cjpeg"
	JPEGOptim ID = "jpegoptim"
	JPEGTran  ID = "jpegtran"
	OptiPNG   ID = "optipng"
	PNGCrush  ID = "pngcrush"
	PNGOut    ID = "pngout"
	AdvPNG    ID = "advpng"
	Gifsicle  ID = "gifsicle"
)

// compressor is a catalog entry: the binaries a tool needs and the format
// it handles.
type compressor struct {
	id       ID
	format   types.Format
	binaries []string
}

// catalog lists compressors in priority order within each format.
var catalog = []compressor{
	{MozJPEG, types.FormatJPEG, []string{"djpeg", "cjpeg"}},
	{JPEGOptim, types.FormatJPEG, []string{"jpegoptim"}},
	{JPEGTran, types.FormatJPEG, []string{"jpegtran"}},
	{OptiPNG, types.FormatPNG, []string{"optipng"}},
	{PNGCrush, types.FormatPNG, []string{"pngcrush"}},
	{PNGOut, types.FormatPNG, []string{"pngout"}},
	{AdvPNG, types.FormatPNG, []string{"advpng"}},
	{Gifsicle, types.FormatGIF, []string{"gifsicle"}},
}

// DefaultSearchDirs are probed before $PATH.
var DefaultSearchDirs = []string{
	"/usr/local/bin",
	"/usr/bin",
	"/bin",
	"/opt/local/bin",
	"/opt/homebrew/bin",
	"/usr/local/opt/mozjpeg/bin",
	"/opt/mozjpeg/bin",
}

// Capabilities maps each format to its available compressors in priority
// order, and each needed binary to its resolved path.
type Capabilities struct {
	Tools    map[types.Format][]ID
	Binaries map[string]string
}

// Available returns the compressors available for f.
func (c Capabilities) Available(f types.Format) []ID {
	return c.Tools[f]
}

// Has reports whether id is available.
func (c Capabilities) Has(id ID) bool {
	for _, ids := range c.Tools {
		for _, got := range ids {
			if got == id {
				return true
			}
		}
	}
	return false
}

// Formats returns the formats with at least one compressor, sorted.
func (c Capabilities) Formats() []types.Format {
	var out []types.Format
	for f, ids := range c.Tools {
		if len(ids) > 0 {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Probe resolves every catalog binary against dirs, in order, and builds
// the capability map. A compressor is available only when all of its
// binaries resolve.
func Probe(dirs []string) Capabilities {
	caps := Capabilities{
		Tools:    make(map[types.Format][]ID),
		Binaries: make(map[string]string),
	}

	for _, c := range catalog {
		ok := true
		for _, bin := range c.binaries {
			if _, seen := caps.Binaries[bin]; seen {
				continue
			}
			path, found := lookup(dirs, bin)
			if !found {
				ok = false
				continue
			}
			caps.Binaries[bin] = path
		}
		if ok {
			caps.Tools[c.format] = append(caps.Tools[c.format], c.id)
		}
	}
	return caps
}

// SearchPath returns DefaultSearchDirs followed by the entries of $PATH,
// without duplicates.
func SearchPath() []string {
	seen := make(map[string]bool)
	var dirs []string
	add := func(d string) {
		if d == "" || seen[d] {
			return
		}
		seen[d] = true
		dirs = append(dirs, d)
	}
	for _, d := range DefaultSearchDirs {
		add(d)
	}
	for _, d := range filepath.SplitList(os.Getenv("PATH")) {
		add(d)
	}
	return dirs
}

func lookup(dirs []string, name string) (string, bool) {
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() || info.Mode().Perm()&0o111 == 0 {
			continue
		}
		return candidate, true
	}
	return "", false
}

// String renders the capability map one format per line, e.g.
// "png: optipng, advpng".
func (c Capabilities) String() string {
	var b strings.Builder
	for _, f := range []types.Format{types.FormatJPEG, types.FormatPNG, types.FormatGIF} {
		ids := c.Tools[f]
		names := make([]string, len(ids))
		for i, id := range ids {
			names[i] = string(id)
		}
		list := strings.Join(names, ", ")
		if list == "" {
			list = "(none)"
		}
		b.WriteString(f.String() + ": " + list + "\n")
	}
	return b.String()
}
