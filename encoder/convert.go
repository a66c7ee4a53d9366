package encoder

import "time"

// Clip is a decoded source recording: interleaved float samples at an
// arbitrary rate and channel count.
type Clip struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

type ConversionError struct {
	Reason string
}

func (e *ConversionError) Error() string { return "conversion: " + e.Reason }

// Convert performs batch-mode conversion of a complete clip: channel mixdown,
// resample to the target rate, quantize, wrap in the container. It fails when
// the source cannot be decoded, when the resulting duration is zero, or when
// the duration exceeds MaxClipDuration.
func Convert(clip Clip) (Frame, error) {
	if clip.SampleRate <= 0 || clip.Channels <= 0 || len(clip.Samples)%clip.Channels != 0 {
		return Frame{}, &ConversionError{Reason: "source audio cannot be decoded"}
	}
	frames := len(clip.Samples) / clip.Channels
	if frames == 0 {
		return Frame{}, &ConversionError{Reason: "clip duration is zero"}
	}
	dur := time.Duration(frames) * time.Second / time.Duration(clip.SampleRate)
	if dur > MaxClipDuration {
		return Frame{}, &ConversionError{Reason: "clip exceeds maximum duration"}
	}

	mono := mixdown(clip.Samples, clip.Channels)
	resampled := resample(mono, clip.SampleRate, SampleRate)
	pcm := Quantize(resampled)

	return Frame{Data: EncodeWAV(pcm), Captured: time.Now()}, nil
}

// mixdown averages interleaved channels into mono.
func mixdown(samples []float32, channels int) []float32 {
	if channels == 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// resample performs linear interpolation from one rate to another.
func resample(in []float32, from, to int) []float32 {
	if from == to || len(in) == 0 {
		return in
	}
	n := int(float64(len(in)) * float64(to) / float64(from))
	if n == 0 {
		n = 1
	}
	ratio := float64(from) / float64(to)
	out := make([]float32, n)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j] + frac*(in[j+1]-in[j])
	}
	return out
}
