package runner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/backup"
)

// ErrMalformedStatus is returned by ReadStatus for a file it cannot parse.
var ErrMalformedStatus = errors.New("malformed status file")

// Status is the externally visible progress of a run:
// "current total bytesIn bytesOut bytesSaved optimized".
type Status struct {
	Current    int
	Total      int
	BytesIn    int64
	BytesOut   int64
	BytesSaved int64
	Optimized  int
}

// StatusPath returns the status file for target inside tmpDir. The name
// carries the target key so runs against different directories do not
// collide.
func StatusPath(tmpDir, target string) string {
	return filepath.Join(tmpDir, "status-"+backup.TargetKey(target))
}

// WriteStatus replaces the status file at path with the totals in s.
func WriteStatus(path string, s RunState) error {
	line := fmt.Sprintf("%d %d %d %d %d %d\n",
		s.Current, s.FilesTotal, s.BytesIn, s.BytesOut, s.BytesSaved, s.FilesOptimized)

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating status file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(line); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing status file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing status file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing status file: %w", err)
	}
	return nil
}

// ReadStatus parses the status file at path.
func ReadStatus(path string) (Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Status{}, err
	}

	fields := strings.Fields(string(data))
	if len(fields) != 6 {
		return Status{}, fmt.Errorf("%w: %s", ErrMalformedStatus, path)
	}

	nums := make([]int64, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return Status{}, fmt.Errorf("%w: %s: %v", ErrMalformedStatus, path, err)
		}
		nums[i] = n
	}

	return Status{
		Current:    int(nums[0]),
		Total:      int(nums[1]),
		BytesIn:    nums[2],
		BytesOut:   nums[3],
		BytesSaved: nums[4],
		Optimized:  int(nums[5]),
	}, nil
}

// RemoveStatus deletes the status file. A missing file is not an error.
func RemoveStatus(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
