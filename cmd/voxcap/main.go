// voxcap drives the full capture pipeline either from a WAV file replayed
// through the fake tap at real time, or from a live microphone. Audio is
// streamed to the recognizer and the accumulated transcript is printed and
// submitted when the activity detector ends the session.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vox/audio"
	"vox/capture"
	"vox/config"
	"vox/fallback"
	"vox/log"
	"vox/quality"
	"vox/recognize"
	"vox/transport"
)

type printInterpreter struct{}

func (printInterpreter) Interpret(_ context.Context, transcript string) error {
	fmt.Printf("interpret: %q\n", transcript)
	return nil
}

func main() {
	wavPath := flag.String("wav", "", "WAV file replayed as the capture source (16-bit mono PCM)")
	live := flag.Bool("live", false, "capture from the microphone instead of a WAV file")
	deviceName := flag.String("device", "", "capture device name (live mode; default device when empty)")
	listDevices := flag.Bool("list-devices", false, "list capture devices and exit")
	url := flag.String("url", "", "streaming recognizer endpoint (overrides config)")
	token := flag.String("token", "", "bearer credential")
	cfgPath := flag.String("config", "", "path to the YAML config file")
	lang := flag.String("lang", "", "recognition language (overrides config)")
	flag.Parse()

	if *listDevices {
		if err := printDevices(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if *wavPath == "" && !*live {
		fmt.Fprintln(os.Stderr, "usage: voxcap -wav file.wav | -live [-device name] -url wss://... -token ...")
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *url != "" {
		cfg.Transport.URL = *url
	}
	if *lang != "" {
		cfg.Audio.Language = *lang
	}
	if *deviceName != "" {
		cfg.Audio.Device = *deviceName
	}

	if err := log.Init(cfg.Logging.Dir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Close()

	if err := run(cfg, *wavPath, *token); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printDevices() error {
	audioCtx, err := audio.NewContext()
	if err != nil {
		return err
	}
	defer audioCtx.Close()
	devices, err := audioCtx.Devices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("no capture devices found")
		return nil
	}
	for _, d := range devices {
		fmt.Println(d.Name)
	}
	return nil
}

func run(cfg config.Config, wavPath, token string) error {
	ctx := context.Background()

	var audioCtx audio.Context
	var device *audio.DeviceInfo
	if wavPath != "" {
		fakeCtx, err := audio.NewFakeContext(wavPath, true)
		if err != nil {
			return fmt.Errorf("load wav: %w", err)
		}
		audioCtx = fakeCtx
	} else {
		liveCtx, err := audio.NewContext()
		if err != nil {
			return fmt.Errorf("open audio backend: %w", err)
		}
		audioCtx = liveCtx
		device, err = audio.FindDevice(audioCtx, cfg.Audio.Device)
		if err != nil {
			return err
		}
	}
	defer audioCtx.Close()

	credential := func(context.Context) (string, error) { return token, nil }

	client := transport.NewClient(transport.Config{
		URL:          cfg.Transport.URL,
		Credential:   credential,
		AckTimeout:   cfg.Transport.AckTimeout(),
		PingInterval: cfg.Transport.PingInterval(),
	})
	defer client.Close()

	fb := fallback.New(fallback.MethodAzureSpeech, cfg.Fallback.Manager(), fallback.Callbacks{
		OnMethodChange: func(old, new fallback.Method, reason string) {
			fmt.Printf("method change: %s -> %s (%s)\n", old, new, reason)
		},
	})

	var batch recognize.Backend
	if cfg.Batch.URL != "" {
		batch = recognize.NewHTTPBatch(cfg.Batch.URL, credential, cfg.Audio.Language)
	}

	recorder := capture.NewRecorder(capture.Options{
		Context:         audioCtx,
		Device:          device,
		Streamer:        client,
		Fallback:        fb,
		Batch:           batch,
		Interpreter:     printInterpreter{},
		Language:        cfg.Audio.Language,
		VAD:             cfg.VAD.Detector(),
		QualityInterval: cfg.Quality.Interval(),
		OnInterim: func(text string) {
			fmt.Printf("  ... %s\r", text)
		},
		OnFinal: func(text string, confidence float64) {
			fmt.Printf("final: %s (%.2f)\n", text, confidence)
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		},
		OnQuality: func(m quality.Metrics) {
			if m.Level == quality.LevelPoor {
				fmt.Fprintf(os.Stderr, "quality: %s\n", m.Recommendation)
			}
		},
	})

	sess, err := recorder.Start(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("session %s started via %s\n", sess.ID(), sess.Method())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// The session ends when the detector sees sustained silence after the
	// clip, or on Ctrl-C.
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-sigCh:
			recorder.Stop(ctx)
			break wait
		case <-ticker.C:
			if !recorder.Active() {
				break wait
			}
		}
	}

	text, err := recorder.Submit(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("transcript: %s\n", text)
	return nil
}
