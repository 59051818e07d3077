package listen

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Config tunes segmentation. The zero value is not valid; start from
// [DefaultConfig].
type Config struct {
	// Device names the input device. Empty selects the host default.
	Device string

	// SampleRate is the rate delivered to the detector and carried by
	// segments.
	SampleRate int

	// FrameSamples is the detector frame size.
	FrameSamples int

	// PositiveThreshold is the probability at or above which a frame counts
	// as speech.
	PositiveThreshold float64

	// NegativeThreshold is the probability below which a frame counts as
	// silence while a segment is open.
	NegativeThreshold float64

	// MinSpeechFrames is the number of consecutive speech frames that
	// confirm a segment and fire SpeechStart.
	MinSpeechFrames int

	// PreSpeechPadFrames is how many frames from before the onset are
	// prepended to a segment.
	PreSpeechPadFrames int

	// RedemptionFrames is the number of silent frames that close a segment.
	RedemptionFrames int

	// MaxSegment forces a segment to end once it reaches this length. Zero
	// disables the limit.
	MaxSegment time.Duration
}

// DefaultConfig returns the tuning used by Earshot out of the box.
func DefaultConfig() Config {
	return Config{
		SampleRate:         16000,
		FrameSamples:       1536,
		PositiveThreshold:  vad.DefaultPositiveThreshold,
		NegativeThreshold:  vad.DefaultNegativeThreshold,
		MinSpeechFrames:    3,
		PreSpeechPadFrames: 10,
		RedemptionFrames:   8,
		MaxSegment:         30 * time.Second,
	}
}

// Validate reports every problem with c at once.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("listen: sample rate must be positive, got %d", c.SampleRate))
	}
	if c.FrameSamples <= 0 {
		errs = append(errs, fmt.Errorf("listen: frame samples must be positive, got %d", c.FrameSamples))
	}
	if c.PositiveThreshold <= 0 || c.PositiveThreshold > 1 {
		errs = append(errs, fmt.Errorf("listen: positive threshold %.2f outside (0, 1]", c.PositiveThreshold))
	}
	if c.NegativeThreshold < 0 || c.NegativeThreshold > c.PositiveThreshold {
		errs = append(errs, fmt.Errorf("listen: negative threshold %.2f must be in [0, %.2f]", c.NegativeThreshold, c.PositiveThreshold))
	}
	if c.MinSpeechFrames < 1 {
		errs = append(errs, errors.New("listen: min speech frames must be at least 1"))
	}
	if c.PreSpeechPadFrames < 0 {
		errs = append(errs, errors.New("listen: pre-speech pad frames must not be negative"))
	}
	if c.RedemptionFrames < 1 {
		errs = append(errs, errors.New("listen: redemption frames must be at least 1"))
	}
	if c.MaxSegment < 0 {
		errs = append(errs, errors.New("listen: max segment must not be negative"))
	}
	return errors.Join(errs...)
}

// frameDuration is the length of one detector frame.
func (c Config) frameDuration() time.Duration {
	return time.Duration(c.FrameSamples) * time.Second / time.Duration(c.SampleRate)
}

// maxFrames is MaxSegment expressed in frames, or 0 for no limit.
func (c Config) maxFrames() int {
	if c.MaxSegment <= 0 {
		return 0
	}
	return int(c.MaxSegment / c.frameDuration())
}
