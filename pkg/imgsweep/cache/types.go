package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"path/filepath"
)

// CacheVersion is incremented when the entry format changes. Keys carry it
// so entries written by another version are never read.
const CacheVersion = 1

// Entry records the state of a file after imgsweep processed it.
type Entry struct {
	Size       int64  // Size after processing
	Mtime      int64  // Modification time after processing, UnixNano
	Outcome    string // Outcome label, e.g. "optimized"
	Tool       string // Compressor that processed the file
	RecordedAt int64  // When the entry was written, UnixNano
}

// Encode serializes the entry to bytes using gob.
func (e *Entry) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes bytes into the entry using gob.
func (e *Entry) Decode(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(e)
}

// keyPrefix is shared by every key of the current version.
var keyPrefix = fmt.Sprintf("v%d:", CacheVersion)

// MakeKey creates the cache key for an absolute file path.
// Format: v<version>:<path>
func MakeKey(path string) []byte {
	return []byte(keyPrefix + filepath.Clean(path))
}

// ParseKey extracts the file path from a cache key.
func ParseKey(key []byte) string {
	return string(bytes.TrimPrefix(key, []byte(keyPrefix)))
}

// MakeKeyPrefix returns the prefix for all keys under dir. An empty dir
// matches every entry.
func MakeKeyPrefix(dir string) []byte {
	if dir == "" {
		return []byte(keyPrefix)
	}
	dir = filepath.Clean(dir)
	if dir != string(filepath.Separator) {
		dir += string(filepath.Separator)
	}
	return []byte(keyPrefix + dir)
}
