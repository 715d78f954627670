//go:build linux || darwin

package platform

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

type unixImpl struct {
	machineIDPaths []string
}

func newPlatform() (Platform, error) {
	return &unixImpl{
		machineIDPaths: []string{"/etc/machine-id", "/var/lib/dbus/machine-id"},
	}, nil
}

func (p *unixImpl) GetDeviceID() (string, error) {
	if runtime.GOOS == "darwin" {
		if id, err := darwinHardwareUUID(); err == nil {
			return id, nil
		}
	}

	for _, path := range p.machineIDPaths {
		machineID, err := os.ReadFile(path)
		if err == nil && len(strings.TrimSpace(string(machineID))) > 0 {
			return strings.TrimSpace(string(machineID)), nil
		}
	}

	hostname, err := os.Hostname()
	if err == nil && hostname != "" {
		return runtime.GOOS + "-" + hostname, nil
	}
	return "", fmt.Errorf("could not determine %s device ID", runtime.GOOS)
}

func (p *unixImpl) GetSystemInfo() (*SystemInfo, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return nil, fmt.Errorf("uname: %w", err)
	}

	return &SystemInfo{
		OS:        strings.ToLower(unix.ByteSliceToString(uts.Sysname[:])),
		OSVersion: unix.ByteSliceToString(uts.Release[:]),
		Arch:      unix.ByteSliceToString(uts.Machine[:]),
		Hostname:  unix.ByteSliceToString(uts.Nodename[:]),
	}, nil
}

// darwinHardwareUUID reads IOPlatformUUID from the IO registry
func darwinHardwareUUID() (string, error) {
	output, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(output), "\n") {
		if !strings.Contains(line, "IOPlatformUUID") {
			continue
		}
		parts := strings.Split(line, "=")
		if len(parts) > 1 {
			return strings.Trim(strings.TrimSpace(parts[1]), `"`), nil
		}
	}
	return "", fmt.Errorf("IOPlatformUUID not found")
}
