package tracking

import (
	"fmt"
	"time"
)

// Config holds all tunable parameters for path tracking
type Config struct {
	// Timing
	TickInterval       time.Duration // How often Run calls Update
	SampleInterval     time.Duration // How often a point is sampled and classified
	FlushInterval      time.Duration // Forced flush period
	AckTimeout         time.Duration // Release the flush lock if no ack arrives
	RetryInterval      time.Duration // Resend path_start, and hold off after a failed flush

	// Segment rules
	DebounceWindow time.Duration // Downgrades within this window are dropped
	UpgradeWindow  time.Duration // Stationary blips within this window are promoted in place

	// Buffer limits (flush triggers)
	MaxSegments      int // Flush once the buffer holds this many segments
	MaxSegmentPoints int // Flush (and split) once a segment holds this many points

	// SkipDuplicatePoints keeps a sample out of the buffer when it matches
	// the previous stored point apart from its offset. The sample is still
	// pushed onto its segment when that segment closes.
	SkipDuplicatePoints bool

	// InboxSize bounds inbound events waiting for the next Update
	InboxSize int
}

// DefaultConfig returns the recommended configuration
func DefaultConfig() Config {
	return Config{
		// Timing
		TickInterval:       50 * time.Millisecond, // 20 updates per second
		SampleInterval:     time.Second,
		FlushInterval:      30 * time.Second,
		AckTimeout:         15 * time.Second,
		RetryInterval:      5 * time.Second,

		// Segment rules
		DebounceWindow: 5 * time.Second,
		UpgradeWindow:  2500 * time.Millisecond,

		// Buffer limits
		MaxSegments:      25,
		MaxSegmentPoints: 1000,

		InboxSize: 64,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	switch {
	case c.TickInterval <= 0:
		return fmt.Errorf("%w: tick interval must be positive", ErrInvalidConfig)
	case c.SampleInterval <= 0:
		return fmt.Errorf("%w: sample interval must be positive", ErrInvalidConfig)
	case c.FlushInterval <= 0:
		return fmt.Errorf("%w: flush interval must be positive", ErrInvalidConfig)
	case c.AckTimeout <= 0:
		return fmt.Errorf("%w: ack timeout must be positive", ErrInvalidConfig)
	case c.RetryInterval <= 0:
		return fmt.Errorf("%w: retry interval must be positive", ErrInvalidConfig)
	case c.UpgradeWindow > c.DebounceWindow:
		return fmt.Errorf("%w: upgrade window %v exceeds debounce window %v", ErrInvalidConfig, c.UpgradeWindow, c.DebounceWindow)
	case c.MaxSegments < 2:
		return fmt.Errorf("%w: max segments must be at least 2", ErrInvalidConfig)
	case c.MaxSegmentPoints < 2:
		return fmt.Errorf("%w: max segment points must be at least 2", ErrInvalidConfig)
	case c.InboxSize < 1:
		return fmt.Errorf("%w: inbox size must be positive", ErrInvalidConfig)
	}
	return nil
}
