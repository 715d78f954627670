package device

import (
	"fmt"
	"runtime"

	"Mansoor88-6/crash-sentinel-agent/internal/platform"

	"github.com/google/uuid"
)

// AgentName identifies this software in evidence metadata
const AgentName = "crash-sentinel-agent"

// Version is set at build time with -ldflags "-X .../internal/device.Version=..."
var Version = "dev"

// DeviceManager resolves the device identity recorded with each alert
type DeviceManager struct {
	platform platform.Platform
}

// NewDeviceManager creates a new device manager
func NewDeviceManager(p platform.Platform) *DeviceManager {
	return &DeviceManager{platform: p}
}

// GetOrGenerateDeviceID returns the configured ID, then the platform ID,
// and finally a random UUID
func (dm *DeviceManager) GetOrGenerateDeviceID(existingID string) (string, error) {
	if existingID != "" {
		return existingID, nil
	}

	if dm.platform != nil {
		deviceID, err := dm.platform.GetDeviceID()
		if err == nil && deviceID != "" {
			return deviceID, nil
		}
	}

	return uuid.New().String(), nil
}

// DeviceInfo describes the host for record metadata. name is the operator-assigned device name.
func (dm *DeviceManager) DeviceInfo(name string) string {
	desc := runtime.GOOS + " " + runtime.GOARCH
	if dm.platform != nil {
		if info, err := dm.platform.GetSystemInfo(); err == nil {
			desc = info.Describe()
		}
	}
	if name == "" {
		return desc
	}
	return fmt.Sprintf("%s; %s", name, desc)
}

// AgentInfo describes this agent build for record metadata
func AgentInfo() string {
	return fmt.Sprintf("%s/%s (%s)", AgentName, Version, runtime.Version())
}
