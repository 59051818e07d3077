package playback

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
	"github.com/jfreymuth/oggvorbis"
)

// defaultPCMRate applies to headerless PCM clips that do not state a rate.
const defaultPCMRate = 16000

// ErrUnsupportedFormat is returned for clips in an encoding the player cannot
// decode.
var ErrUnsupportedFormat = errors.New("playback: unsupported audio format")

// Decode turns an encoded clip into a stereo beep stream.
func Decode(clip Clip) (beep.StreamSeekCloser, beep.Format, error) {
	if len(clip.Data) == 0 {
		return nil, beep.Format{}, errors.New("playback: clip is empty")
	}
	switch normaliseFormat(clip.Format) {
	case "mp3":
		s, f, err := mp3.Decode(io.NopCloser(bytes.NewReader(clip.Data)))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("playback: decode mp3: %w", err)
		}
		return s, f, nil
	case "wav":
		s, f, err := wav.Decode(bytes.NewReader(clip.Data))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("playback: decode wav: %w", err)
		}
		return s, f, nil
	case "ogg":
		return decodeVorbis(clip.Data)
	case "pcm16":
		rate := clip.SampleRate
		if rate <= 0 {
			rate = defaultPCMRate
		}
		return decodePCM16(clip.Data, rate)
	default:
		return nil, beep.Format{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, clip.Format)
	}
}

func normaliseFormat(f string) string {
	f = strings.ToLower(strings.TrimSpace(f))
	switch {
	case f == "mp3" || f == "mpeg" || strings.HasPrefix(f, "mp3_"):
		return "mp3"
	case f == "wav" || f == "wave":
		return "wav"
	case f == "ogg" || f == "vorbis" || f == "oga":
		return "ogg"
	case f == "pcm" || f == "pcm16" || f == "raw" || strings.HasPrefix(f, "pcm_"):
		return "pcm16"
	}
	return f
}

func decodeVorbis(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	pcm, f, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("playback: decode ogg: %w", err)
	}
	if f == nil || f.Channels <= 0 || f.SampleRate <= 0 {
		return nil, beep.Format{}, errors.New("playback: decode ogg: invalid vorbis stream")
	}
	frames := make([][2]float64, len(pcm)/f.Channels)
	for i := range frames {
		l := float64(pcm[i*f.Channels])
		r := l
		if f.Channels > 1 {
			r = float64(pcm[i*f.Channels+1])
		}
		frames[i] = [2]float64{l, r}
	}
	format := beep.Format{SampleRate: beep.SampleRate(f.SampleRate), NumChannels: 2, Precision: 2}
	return &frameStreamer{frames: frames}, format, nil
}

func decodePCM16(data []byte, rate int) (beep.StreamSeekCloser, beep.Format, error) {
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}
	frames := make([][2]float64, len(data)/2)
	for i := range frames {
		v := float64(int16(binary.LittleEndian.Uint16(data[2*i:]))) / 32768
		frames[i] = [2]float64{v, v}
	}
	format := beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: 1, Precision: 2}
	return &frameStreamer{frames: frames}, format, nil
}

// frameStreamer plays fully decoded stereo frames.
type frameStreamer struct {
	frames [][2]float64
	pos    int
}

func (s *frameStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.pos >= len(s.frames) {
		return 0, false
	}
	n := copy(samples, s.frames[s.pos:])
	s.pos += n
	return n, true
}

func (s *frameStreamer) Err() error    { return nil }
func (s *frameStreamer) Len() int      { return len(s.frames) }
func (s *frameStreamer) Position() int { return s.pos }
func (s *frameStreamer) Close() error  { return nil }

func (s *frameStreamer) Seek(p int) error {
	if p < 0 || p > len(s.frames) {
		return fmt.Errorf("playback: seek position %d out of range [0, %d]", p, len(s.frames))
	}
	s.pos = p
	return nil
}
