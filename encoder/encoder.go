// Package encoder converts captured audio into the fixed format the remote
// recognizer accepts: mono 16 kHz 16-bit linear PCM wrapped in a 44-byte WAV
// container. Batch mode converts a complete clip; streaming mode extracts
// PCM block-wise from the live tap and flushes on a fixed interval.
package encoder

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
	WAVHeaderSize = 44
)

// MaxClipDuration is the batch-mode ceiling. Callers reject oversized clips
// before conversion; Convert never truncates silently.
const MaxClipDuration = 60 * time.Second

// Frame is one encoded chunk: a self-describing PCM container plus a
// strictly increasing sequence index and capture timestamp. A frame is
// consumed exactly once by the transport and then discarded.
type Frame struct {
	Data     []byte
	Index    uint64
	Captured time.Time
}

// Quantize converts float samples in [-1,1] to signed 16-bit PCM. Scaling is
// asymmetric (negative by 32768, positive by 32767) so a full-scale +1.0
// sample cannot wrap at the positive rail. Samples are clamped before scaling.
func Quantize(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = quantizeSample(s)
	}
	return out
}

func quantizeSample(s float32) int16 {
	f := float64(s)
	if f > 1 {
		f = 1
	} else if f < -1 {
		f = -1
	}
	if f < 0 {
		return int16(math.Round(f * 32768))
	}
	return int16(math.Round(f * 32767))
}

// EncodeWAV wraps PCM samples in the standard linear-PCM container: RIFF
// header with format tag 1, mono, 16 kHz, 16-bit, followed by little-endian
// samples.
func EncodeWAV(samples []int16) []byte {
	dataSize := len(samples) * 2
	blockAlign := Channels * BitsPerSample / 8
	buf := make([]byte, WAVHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:], Channels)
	binary.LittleEndian.PutUint32(buf[24:], SampleRate)
	binary.LittleEndian.PutUint32(buf[28:], uint32(SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:], BitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(dataSize))

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[WAVHeaderSize+i*2:], uint16(s))
	}
	return buf
}
