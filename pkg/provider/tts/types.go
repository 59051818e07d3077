package tts

// Encodings reported in [Audio.Format].
const (
	FormatMP3   = "mp3"
	FormatWAV   = "wav"
	FormatOGG   = "ogg"
	FormatPCM16 = "pcm16"
)

// Request is one piece of text to speak.
type Request struct {
	// Text is the sentence or paragraph to synthesise.
	Text string

	// Voice is the provider-specific voice identifier. Empty selects the
	// provider's configured default.
	Voice string
}

// Audio is a complete synthesised clip.
type Audio struct {
	// Data holds the encoded clip. For FormatPCM16 it is little-endian mono
	// 16-bit PCM without a header.
	Data []byte

	// Format is one of the Format constants.
	Format string

	// SampleRate is set for FormatPCM16 and may be zero for self-describing
	// containers.
	SampleRate int
}
