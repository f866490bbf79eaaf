// Package audio provides the sample-format primitives shared by the capture
// component and the transcription engine: the fixed model format, PCM
// conversion (downmix + resample) and a minimal float32 WAV codec.
//
// Whisper consumes mono float32 samples at 16 kHz. Every recording artifact
// produced by this program conforms to that format regardless of the input
// device's native stream format; the conversion helpers in this package are
// what enforce it.
package audio

import "fmt"

// ModelSampleRate is the sample rate (Hz) required by the whisper models.
const ModelSampleRate = 16000

// Format describes the sample rate and channel count of a PCM stream.
// Samples are always 32-bit float in this codebase.
type Format struct {
	SampleRate int
	Channels   int
}

// ModelFormat returns the fixed format every recording artifact must have.
func ModelFormat() Format {
	return Format{SampleRate: ModelSampleRate, Channels: 1}
}

// String returns a human-readable form, e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Duration returns the play time in seconds of n interleaved samples in f.
func (f Format) Duration(n int) float64 {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return float64(n/f.Channels) / float64(f.SampleRate)
}
