package adb

import (
	"context"
	"fmt"
	"strings"

	"phonepilot/internal/core"
)

// Device is one row of `adb devices -l`.
type Device struct {
	Serial string `json:"serial"`
	State  string `json:"state"`
	Model  string `json:"model,omitempty"`
}

// Online reports whether the device accepts commands.
func (d Device) Online() bool { return d.State == "device" }

// ListDevices returns every device the adb server knows about.
func (r *Runner) ListDevices(ctx context.Context) ([]Device, error) {
	out, err := r.Run(ctx, "", "devices", "-l")
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return parseDevices(string(out)), nil
}

func parseDevices(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		dev := Device{Serial: fields[0], State: fields[1]}
		for _, f := range fields[2:] {
			if v, ok := strings.CutPrefix(f, "model:"); ok {
				dev.Model = v
			}
		}
		devices = append(devices, dev)
	}
	return devices
}

// SettingSource reads the persisted device selection.
type SettingSource interface {
	GetSetting(ctx context.Context, key string) (string, error)
}

// Resolver picks the device an execution targets when none is named:
// the globally selected device if it is online, otherwise the first
// online device.
type Resolver struct {
	Runner      *Runner
	Settings    SettingSource
	SelectedKey string
}

func (r *Resolver) ResolveDevice(ctx context.Context, preferred string) (string, error) {
	devices, err := r.Runner.ListDevices(ctx)
	if err != nil {
		return "", err
	}
	online := make(map[string]bool, len(devices))
	for _, d := range devices {
		if d.Online() {
			online[d.Serial] = true
		}
	}
	if preferred != "" {
		if online[preferred] {
			return preferred, nil
		}
		return "", fmt.Errorf("device %s offline: %w", preferred, core.ErrNoDevice)
	}
	if r.Settings != nil && r.SelectedKey != "" {
		selected, err := r.Settings.GetSetting(ctx, r.SelectedKey)
		if err != nil {
			return "", err
		}
		if selected != "" && online[selected] {
			return selected, nil
		}
	}
	for _, d := range devices {
		if d.Online() {
			return d.Serial, nil
		}
	}
	return "", core.ErrNoDevice
}
