package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// TempMarker appears in the name of every intermediate file written next to
// an image. Discovery skips such files.
const TempMarker = ".imgsweep-"

// pngoutNoGain is pngout's exit status for "unable to compress further".
const pngoutNoGain = 2

func (s *Selector) run(ctx context.Context, cmd Command) error {
	_, err := s.runner.Run(ctx, cmd)
	return err
}

// siblingTemp reserves a hidden temp file in path's directory so the final
// rename stays on one filesystem.
func siblingTemp(path string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+TempMarker+"*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// replaceWith moves tmp over path after checking the tool produced output.
func replaceWith(tmp, path string) error {
	info, err := os.Stat(tmp)
	if err != nil {
		return fmt.Errorf("reading output: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("compressor produced an empty file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing original: %w", err)
	}
	return nil
}

// mozjpeg decodes to a PNM in the tmp dir and re-encodes with cjpeg.
func (s *Selector) mozjpeg(ctx context.Context, path string) error {
	if err := os.MkdirAll(s.tmpDir, 0o755); err != nil {
		return fmt.Errorf("creating tmp dir: %w", err)
	}
	pnm, err := os.CreateTemp(s.tmpDir, "decode-*.pnm")
	if err != nil {
		return fmt.Errorf("creating decode file: %w", err)
	}
	pnmPath := pnm.Name()
	_ = pnm.Close()
	defer os.Remove(pnmPath)

	if err := s.run(ctx, Command{Path: s.bin("djpeg"), Args: []string{"-outfile", pnmPath, path}}); err != nil {
		return err
	}

	tmp, err := siblingTemp(path)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	var args []string
	if s.cjpegQuality {
		args = append(args, "-quality", "85")
	}
	args = append(args, "-progressive", "-optimize", "-outfile", tmp, pnmPath)

	if err := s.run(ctx, Command{Path: s.bin("cjpeg"), Args: args}); err != nil {
		return err
	}
	return replaceWith(tmp, path)
}

func (s *Selector) jpegoptim(ctx context.Context, path string) error {
	return s.run(ctx, Command{
		Path: s.bin("jpegoptim"),
		Args: []string{"-q", "-o", "--strip-all", "--all-progressive", path},
	})
}

func (s *Selector) jpegtran(ctx context.Context, path string) error {
	tmp, err := siblingTemp(path)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	err = s.run(ctx, Command{
		Path: s.bin("jpegtran"),
		Args: []string{"-copy", "none", "-optimize", "-progressive", "-outfile", tmp, path},
	})
	if err != nil {
		return err
	}
	return replaceWith(tmp, path)
}

func (s *Selector) optipng(ctx context.Context, path string) error {
	args := []string{"-o7", "-quiet"}
	if s.optipngStrip {
		args = append(args, "-strip", "all")
	}
	return s.run(ctx, Command{Path: s.bin("optipng"), Args: append(args, path)})
}

// pngcrush runs inside the image's directory and is given only the
// basename; it mishandles paths containing directories.
func (s *Selector) pngcrush(ctx context.Context, path string) error {
	return s.run(ctx, Command{
		Path: s.bin("pngcrush"),
		Args: []string{
			"-rem", "gAMA", "-rem", "cHRM", "-rem", "iCCP", "-rem", "sRGB",
			"-brute", "-l", "9", "-ow", filepath.Base(path),
		},
		Dir: filepath.Dir(path),
	})
}

func (s *Selector) pngout(ctx context.Context, path string) error {
	err := s.run(ctx, Command{Path: s.bin("pngout"), Args: []string{"-q", "-y", path}})
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code == pngoutNoGain {
		return nil
	}
	return err
}

func (s *Selector) advpng(ctx context.Context, path string) error {
	return s.run(ctx, Command{Path: s.bin("advpng"), Args: []string{"-z", "-4", "-q", path}})
}

func (s *Selector) gifsicle(ctx context.Context, path string) error {
	return s.run(ctx, Command{Path: s.bin("gifsicle"), Args: []string{"-O3", "-b", path}})
}
