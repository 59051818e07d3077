package listen

import "time"

// segmenter turns per-frame speech probabilities into utterance boundaries.
// It is not safe for concurrent use.
//
// A segment opens on the first frame at or above the positive threshold. It
// is confirmed, and SpeechStart fires, after MinSpeechFrames consecutive
// speech frames. While open, each frame below the negative threshold counts
// towards redemption and any frame at or above it resets the count. Reaching
// RedemptionFrames closes the segment: a confirmed one becomes SpeechEnd, an
// unconfirmed one a Misfire.
type segmenter struct {
	cfg       Config
	maxFrames int

	pad []padFrame // recent frames before the onset, oldest first

	open       bool
	confirmed  bool
	consec     int
	redemption int
	frames     int
	samples    []float32
	start      time.Duration
	onset      time.Duration
}

type padFrame struct {
	samples []float32
	ts      time.Duration
}

func newSegmenter(cfg Config) *segmenter {
	return &segmenter{cfg: cfg, maxFrames: cfg.maxFrames()}
}

// push feeds one frame with its probability and capture timestamp and
// returns the events it completes, in order.
func (s *segmenter) push(frame []float32, p float64, ts time.Duration) []Event {
	if !s.open {
		if p < s.cfg.PositiveThreshold {
			s.remember(frame, ts)
			return nil
		}
		s.openAt(ts)
	}

	s.samples = append(s.samples, frame...)
	s.frames++

	var events []Event
	switch {
	case p >= s.cfg.PositiveThreshold:
		s.consec++
		s.redemption = 0
	case p >= s.cfg.NegativeThreshold:
		s.consec = 0
		s.redemption = 0
	default:
		s.consec = 0
		s.redemption++
	}

	if !s.confirmed && s.consec >= s.cfg.MinSpeechFrames {
		s.confirmed = true
		events = append(events, SpeechStart{At: s.onset})
	}

	end := ts + s.cfg.frameDuration()
	if s.redemption >= s.cfg.RedemptionFrames || (s.maxFrames > 0 && s.frames >= s.maxFrames) {
		events = append(events, s.close(end))
	}
	return events
}

// openAt starts a segment whose audio begins with the padding ring.
func (s *segmenter) openAt(ts time.Duration) {
	s.open = true
	s.onset = ts
	s.start = ts
	s.samples = s.samples[:0]
	for _, f := range s.pad {
		s.samples = append(s.samples, f.samples...)
	}
	if len(s.pad) > 0 {
		s.start = s.pad[0].ts
	}
	s.pad = s.pad[:0]
}

// remember keeps the last PreSpeechPadFrames frames.
func (s *segmenter) remember(frame []float32, ts time.Duration) {
	if s.cfg.PreSpeechPadFrames == 0 {
		return
	}
	if len(s.pad) == s.cfg.PreSpeechPadFrames {
		copy(s.pad, s.pad[1:])
		s.pad = s.pad[:len(s.pad)-1]
	}
	s.pad = append(s.pad, padFrame{samples: append([]float32(nil), frame...), ts: ts})
}

// close ends the open segment and resets the state machine.
func (s *segmenter) close(end time.Duration) Event {
	var ev Event
	if s.confirmed {
		ev = SpeechEnd{Segment: Segment{
			Samples:    append([]float32(nil), s.samples...),
			SampleRate: s.cfg.SampleRate,
			Start:      s.start,
			End:        end,
		}}
	} else {
		ev = Misfire{Frames: s.frames}
	}
	s.reset()
	return ev
}

// reset drops any open segment and the padding ring.
func (s *segmenter) reset() {
	s.open = false
	s.confirmed = false
	s.consec = 0
	s.redemption = 0
	s.frames = 0
	s.samples = s.samples[:0]
	s.pad = s.pad[:0]
}
