package transfer

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Mode identifies the direction of a transfer.
type Mode string

const (
	ModeUpload   Mode = "upload"
	ModeDownload Mode = "download"
	ModeCopy     Mode = "copy"
)

// Summary is the per-invocation report for one completed transfer.
type Summary struct {
	Mode     Mode
	Bytes    uint64
	Parts    int
	Direct   bool
	Duration time.Duration
}

// ThroughputBytesPerSec returns the average transfer rate.
func (s *Summary) ThroughputBytesPerSec() float64 {
	secs := s.Duration.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Bytes) / secs
}

// String renders the one-line summary shown after a successful transfer.
func (s *Summary) String() string {
	if s.Direct {
		return fmt.Sprintf("%s finished: %s in %s (%s/s, direct)",
			s.Mode, humanize.IBytes(s.Bytes), s.Duration.Round(time.Millisecond),
			humanize.IBytes(uint64(s.ThroughputBytesPerSec())))
	}
	return fmt.Sprintf("%s finished: %s in %d parts in %s (%s/s)",
		s.Mode, humanize.IBytes(s.Bytes), s.Parts, s.Duration.Round(time.Millisecond),
		humanize.IBytes(uint64(s.ThroughputBytesPerSec())))
}
