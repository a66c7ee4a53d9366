package encoder

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func genFloatTone(freq float64, rate, channels, durationMs int) []float32 {
	n := rate * durationMs / 1000
	buf := make([]float32, n*channels)
	for i := 0; i < n; i++ {
		s := float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
		for c := 0; c < channels; c++ {
			buf[i*channels+c] = s
		}
	}
	return buf
}

func constBuf(v float32, n int) []float32 {
	buf := make([]float32, n)
	for i := range buf {
		buf[i] = v
	}
	return buf
}

func wavU16(t *testing.T, data []byte, off int) uint16 {
	t.Helper()
	return binary.LittleEndian.Uint16(data[off:])
}

func wavU32(t *testing.T, data []byte, off int) uint32 {
	t.Helper()
	return binary.LittleEndian.Uint32(data[off:])
}

func TestQuantizeRails(t *testing.T) {
	got := Quantize([]float32{1.0, -1.0, 0, 2.0, -2.0})
	want := []int16{32767, -32768, 0, 32767, -32768}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestQuantizeSymmetricRounding(t *testing.T) {
	got := Quantize([]float32{0.5, -0.5})
	if got[0] != 16384 { // round(0.5*32767) = round(16383.5)
		t.Errorf("positive half scale: got %d want 16384", got[0])
	}
	if got[1] != -16384 {
		t.Errorf("negative half scale: got %d want -16384", got[1])
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	samples := []int16{1, 2, 3, 4}
	data := EncodeWAV(samples)

	if len(data) != WAVHeaderSize+len(samples)*2 {
		t.Fatalf("length: got %d want %d", len(data), WAVHeaderSize+len(samples)*2)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE markers")
	}
	if wavU16(t, data, 20) != 1 {
		t.Errorf("format tag: got %d want 1 (PCM)", wavU16(t, data, 20))
	}
	if wavU16(t, data, 22) != Channels {
		t.Errorf("channels: got %d want %d", wavU16(t, data, 22), Channels)
	}
	if wavU32(t, data, 24) != SampleRate {
		t.Errorf("sample rate: got %d want %d", wavU32(t, data, 24), SampleRate)
	}
	if wavU32(t, data, 28) != SampleRate*2 {
		t.Errorf("byte rate: got %d want %d", wavU32(t, data, 28), SampleRate*2)
	}
	if wavU16(t, data, 32) != 2 {
		t.Errorf("block align: got %d want 2", wavU16(t, data, 32))
	}
	if wavU16(t, data, 34) != BitsPerSample {
		t.Errorf("bit depth: got %d want %d", wavU16(t, data, 34), BitsPerSample)
	}
	if wavU32(t, data, 40) != uint32(len(samples)*2) {
		t.Errorf("data size: got %d want %d", wavU32(t, data, 40), len(samples)*2)
	}
}

func TestConvertDeclaresTargetFormat(t *testing.T) {
	cases := []struct {
		name     string
		rate     int
		channels int
	}{
		{"44k stereo", 44100, 2},
		{"48k mono", 48000, 1},
		{"8k mono", 8000, 1},
		{"16k stereo", 16000, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := Convert(Clip{
				Samples:    genFloatTone(440, tc.rate, tc.channels, 500),
				SampleRate: tc.rate,
				Channels:   tc.channels,
			})
			if err != nil {
				t.Fatal(err)
			}
			data := frame.Data
			if wavU32(t, data, 24) != SampleRate {
				t.Errorf("sample rate: got %d", wavU32(t, data, 24))
			}
			if wavU16(t, data, 22) != 1 {
				t.Errorf("channels: got %d", wavU16(t, data, 22))
			}
			if wavU16(t, data, 34) != 16 {
				t.Errorf("bit depth: got %d", wavU16(t, data, 34))
			}
			frames := int(wavU32(t, data, 40)) / 2
			if len(data) != WAVHeaderSize+frames*2 {
				t.Errorf("payload length: got %d want %d", len(data)-WAVHeaderSize, frames*2)
			}
		})
	}
}

func TestConvertSilenceRoundTrip(t *testing.T) {
	frame, err := Convert(Clip{Samples: make([]float32, 16000), SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	payload := frame.Data[WAVHeaderSize:]
	if len(payload) != 2*16000 {
		t.Fatalf("payload length: got %d want %d", len(payload), 2*16000)
	}
	for i, b := range payload {
		if b != 0 {
			t.Fatalf("non-zero byte at %d", i)
		}
	}
}

func TestConvertFullScale(t *testing.T) {
	frame, err := Convert(Clip{Samples: constBuf(1.0, 1600), SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	if got := int16(wavU16(t, frame.Data, WAVHeaderSize)); got != 32767 {
		t.Errorf("+1.0: got %d want 32767", got)
	}

	frame, err = Convert(Clip{Samples: constBuf(-1.0, 1600), SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	if got := int16(wavU16(t, frame.Data, WAVHeaderSize)); got != -32768 {
		t.Errorf("-1.0: got %d want -32768", got)
	}
}

func TestConvertErrors(t *testing.T) {
	cases := []struct {
		name string
		clip Clip
	}{
		{"zero rate", Clip{Samples: constBuf(0, 100), SampleRate: 0, Channels: 1}},
		{"zero channels", Clip{Samples: constBuf(0, 100), SampleRate: 16000, Channels: 0}},
		{"misaligned", Clip{Samples: constBuf(0, 101), SampleRate: 16000, Channels: 2}},
		{"empty", Clip{Samples: nil, SampleRate: 16000, Channels: 1}},
		{"oversized", Clip{Samples: make([]float32, 8000*61), SampleRate: 8000, Channels: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Convert(tc.clip)
			var ce *ConversionError
			if err == nil {
				t.Fatal("expected error")
			}
			if !asConversionError(err, &ce) {
				t.Fatalf("expected ConversionError, got %T", err)
			}
		})
	}
}

func asConversionError(err error, target **ConversionError) bool {
	ce, ok := err.(*ConversionError)
	if ok {
		*target = ce
	}
	return ok
}

func TestBlockEncoderFlushOnStop(t *testing.T) {
	var frames []Frame
	be := NewBlockEncoder(time.Hour, func(f Frame) { frames = append(frames, f) })

	be.Push(constBuf(0.25, 1600))
	be.Push(constBuf(0.25, 1600))
	be.Stop()

	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	f := frames[0]
	if f.Index != 0 {
		t.Errorf("index: got %d want 0", f.Index)
	}
	if got := len(f.Data) - WAVHeaderSize; got != 3200*2 {
		t.Errorf("payload: got %d want %d", got, 3200*2)
	}
}

func TestBlockEncoderStopIdempotent(t *testing.T) {
	count := 0
	be := NewBlockEncoder(time.Hour, func(Frame) { count++ })
	be.Push(constBuf(0.1, 100))
	be.Stop()
	be.Stop()
	if count != 1 {
		t.Fatalf("expected exactly 1 flush, got %d", count)
	}
}

func TestBlockEncoderPushAfterStopIgnored(t *testing.T) {
	count := 0
	be := NewBlockEncoder(time.Hour, func(Frame) { count++ })
	be.Stop()
	be.Push(constBuf(0.1, 100))
	be.Stop()
	if count != 0 {
		t.Fatalf("expected no frames, got %d", count)
	}
}

func TestBlockEncoderTimerFlushIndices(t *testing.T) {
	frameCh := make(chan Frame, 16)
	be := NewBlockEncoder(20*time.Millisecond, func(f Frame) { frameCh <- f })
	be.Start()

	go func() {
		for i := 0; i < 10; i++ {
			be.Push(constBuf(0.2, 320))
			time.Sleep(10 * time.Millisecond)
		}
	}()

	var got []Frame
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case f := <-frameCh:
			got = append(got, f)
		case <-deadline:
			t.Fatal("timed out waiting for flushed frames")
		}
	}
	be.Stop()

	for i := 1; i < len(got); i++ {
		if got[i].Index != got[i-1].Index+1 {
			t.Fatalf("indices not strictly increasing: %d then %d", got[i-1].Index, got[i].Index)
		}
	}
}

func TestCompressClipTinyPrefersWAV(t *testing.T) {
	data, format, err := CompressClip([]int16{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if format != "wav" {
		t.Errorf("format: got %q want wav", format)
	}
	if len(data) != WAVHeaderSize+8 {
		t.Errorf("length: got %d", len(data))
	}
}

func TestCompressClipChoosesSmaller(t *testing.T) {
	samples := make([]int16, SampleRate*5)
	for i := range samples {
		samples[i] = int16(i % 200)
	}

	data, format, err := CompressClip(samples)
	if err != nil {
		t.Fatal(err)
	}
	wav := EncodeWAV(samples)
	fl, err := encodeFLAC(samples)
	if err != nil {
		t.Fatal(err)
	}

	if len(fl) >= len(wav) {
		if format != "wav" || len(data) != len(wav) {
			t.Fatalf("expected wav (%d bytes), got %s (%d bytes)", len(wav), format, len(data))
		}
		return
	}
	if format != "flac" || len(data) != len(fl) {
		t.Fatalf("expected flac (%d bytes), got %s (%d bytes)", len(fl), format, len(data))
	}
	if string(data[:4]) != "fLaC" {
		t.Fatal("flac output missing magic")
	}
	t.Logf("raw: %d bytes, flac: %d bytes", len(wav), len(fl))
}
