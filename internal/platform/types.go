package platform

import "fmt"

// Platform exposes the host facts the agent records alongside evidence
type Platform interface {
	// GetDeviceID returns a stable hardware or OS identifier for this device
	GetDeviceID() (string, error)

	// GetSystemInfo returns system information
	GetSystemInfo() (*SystemInfo, error)
}

// SystemInfo contains system information
type SystemInfo struct {
	OS        string
	OSVersion string
	Arch      string
	Hostname  string
}

// Describe renders the system info as the device description stored in records
func (s *SystemInfo) Describe() string {
	desc := fmt.Sprintf("%s %s %s", s.OS, s.OSVersion, s.Arch)
	if s.Hostname != "" {
		desc += " (" + s.Hostname + ")"
	}
	return desc
}
