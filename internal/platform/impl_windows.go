//go:build windows

package platform

import (
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

type windowsImpl struct{}

func newPlatform() (Platform, error) {
	return &windowsImpl{}, nil
}

// GetDeviceID reads the machine GUID written at OS install time
func (p *windowsImpl) GetDeviceID() (string, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\Cryptography`, registry.QUERY_VALUE|registry.WOW64_64KEY)
	if err == nil {
		defer key.Close()
		if guid, _, err := key.GetStringValue("MachineGuid"); err == nil && guid != "" {
			return guid, nil
		}
	}

	hostname, err := os.Hostname()
	if err == nil && hostname != "" {
		return "windows-" + hostname, nil
	}
	return "", fmt.Errorf("could not determine Windows device ID")
}

func (p *windowsImpl) GetSystemInfo() (*SystemInfo, error) {
	v := windows.RtlGetVersion()
	hostname, _ := os.Hostname()

	return &SystemInfo{
		OS:        "windows",
		OSVersion: fmt.Sprintf("%d.%d.%d", v.MajorVersion, v.MinorVersion, v.BuildNumber),
		Arch:      runtime.GOARCH,
		Hostname:  hostname,
	}, nil
}
