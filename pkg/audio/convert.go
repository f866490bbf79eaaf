package audio

import (
	"log/slog"
	"sync"
)

// FormatConverter converts interleaved float32 PCM from a source format to a
// target format. It logs a warning on the first conversion so a mismatched
// input device shows up in diagnostics exactly once per stream.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Source Format
	Target Format

	warnedMismatch sync.Once
}

// Convert converts one buffer of source-format samples to the target format.
// If the source format already matches the target, the buffer is returned
// unchanged (zero allocation). Downmix happens before resampling so the
// resampler only ever sees a mono buffer.
func (c *FormatConverter) Convert(samples []float32) []float32 {
	if c.Source == c.Target {
		return samples
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", c.Source.String(),
			"to", c.Target.String(),
		)
	})

	out := samples
	channels := c.Source.Channels

	if channels != c.Target.Channels {
		// Only N→1 downmix is ever needed: the model format is mono.
		out = Downmix(out, channels)
		channels = c.Target.Channels
	}

	if c.Source.SampleRate != c.Target.SampleRate {
		out = Resample(out, c.Source.SampleRate, c.Target.SampleRate)
	}

	return out
}

// Downmix averages the channels of interleaved float32 PCM into mono.
// channels <= 1 returns the input unchanged. Trailing samples that do not
// form a complete frame are dropped.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono float32 PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate (or either rate is invalid) the input
// is returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return samples
	}
	srcSamples := len(samples)
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]float32, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = samples[srcIdx+1]
		}

		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
