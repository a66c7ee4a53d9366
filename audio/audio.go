// Package audio abstracts the microphone capture tap. A capture device
// delivers fixed-size blocks of float samples in [-1,1]; consumers (encoder,
// quality monitor, activity detector) share the tap through a fan-out
// callback and must never block inside it.
package audio

import "errors"

var ErrNoDevice = errors.New("no capture device available")

type DataCallback func(samples []float32, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}
