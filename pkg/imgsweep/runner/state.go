package runner

import (
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

// RunState holds the running totals of one run. It is owned by the Runner
// and mutated exactly once per processed file through Record.
type RunState struct {
	BytesIn    int64 `json:"bytes_in"`
	BytesOut   int64 `json:"bytes_out"`
	BytesSaved int64 `json:"bytes_saved"`

	FilesOptimized int `json:"files_optimized"`
	FilesTotal     int `json:"files_total"`
	FilesSkipped   int `json:"files_skipped"`
	FilesFailed    int `json:"files_failed"`

	// Current counts files finished so far.
	Current int `json:"current"`
}

// Record folds a finished task into the totals. Skipped files advance
// progress but leave the byte totals alone. A failed file, or one that did
// not shrink, counts its original size on both sides.
func (s *RunState) Record(t *types.ImageTask) {
	s.Current++

	switch t.Outcome {
	case types.OutcomeSkipped:
		s.FilesSkipped++
		return
	case types.OutcomeFailed:
		s.FilesFailed++
	}

	s.BytesIn += t.SizeBefore
	if t.Outcome == types.OutcomeFailed || t.SizeBefore <= t.SizeAfter {
		s.BytesOut += t.SizeBefore
		return
	}

	s.BytesOut += t.SizeAfter
	s.BytesSaved += t.SizeBefore - t.SizeAfter
	s.FilesOptimized++
}

// PercentSaved returns BytesSaved as a percentage of BytesIn, 0 when
// nothing was read.
func (s RunState) PercentSaved() float64 {
	return types.Percent(s.BytesSaved, s.BytesIn)
}

// Fraction returns progress in [0, 1].
func (s RunState) Fraction() float64 {
	if s.FilesTotal == 0 {
		return 1
	}
	return float64(s.Current) / float64(s.FilesTotal)
}
