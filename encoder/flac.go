package encoder

import (
	"bytes"
	"fmt"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// CompressClip encodes a complete clip for batch upload, returning the
// smaller of FLAC and raw WAV along with the chosen format name. Streaming
// never compresses; only the batch fallback path uses this.
func CompressClip(samples []int16) ([]byte, string, error) {
	wav := EncodeWAV(samples)
	fl, err := encodeFLAC(samples)
	if err != nil {
		return nil, "", fmt.Errorf("flac encode: %w", err)
	}
	if len(fl) >= len(wav) {
		return wav, "wav", nil
	}
	return fl, "flac", nil
}

func encodeFLAC(samples []int16) ([]byte, error) {
	var buf bytes.Buffer
	info := &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    SampleRate,
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
		NSamples:      0,
	}
	enc, err := flac.NewEncoder(&buf, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)

	for pos := 0; pos < len(samples); pos += BlockSize {
		end := min(pos+BlockSize, len(samples))
		if err := writeFLACBlock(enc, samples[pos:end]); err != nil {
			return nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing flac encoder: %w", err)
	}
	return buf.Bytes(), nil
}

func writeFLACBlock(enc *flac.Encoder, block []int16) error {
	samples32 := make([]int32, len(block))
	for i, s := range block {
		samples32[i] = int32(s)
	}

	subframe := &frame.Subframe{
		SubHeader: frame.SubHeader{
			Pred: frame.PredVerbatim,
		},
		Samples:  samples32,
		NSamples: len(block),
	}

	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    SampleRate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{subframe},
	}

	if err := enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	return nil
}
