package audio

import (
	"fmt"
	"strings"
)

// FindDevice resolves a capture device by name. An empty name selects the
// platform default. Matching is case-insensitive, exact name first, then
// substring.
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	if name == "" {
		return nil, nil
	}
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	for i, d := range devices {
		if strings.EqualFold(d.Name, name) {
			return &devices[i], nil
		}
	}
	lower := strings.ToLower(name)
	for i, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), lower) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("no capture device matching %q", name)
}
