// Package config provides configuration management for imgsweep.
package config

// Default configuration values for imgsweep.
const (
	// DefaultOutput is the summary format used when none is configured.
	DefaultOutput = "pretty"

	// DefaultRemoteQuality is the JPEG quality requested from the remote API.
	DefaultRemoteQuality = 92

	// DefaultRemoteMaxSize is the largest file uploaded to the remote API.
	DefaultRemoteMaxSize = "5MB"

	// DefaultRetentionDays is the default number of days to retain run history.
	DefaultRetentionDays = 30

	// LockFileName is the shared lock file inside the tmp directory.
	LockFileName = "imgsweep.lock"

	// MarkerFileName is the default time marker inside the tmp directory.
	MarkerFileName = "timemarker"
)

// DefaultExclusions contains path substrings excluded from discovery by default.
var DefaultExclusions = []string{}
