package platform

import (
	"os/exec"
)

// Capabilities records which evidence sources are usable on this device.
// They are probed once at startup.
type Capabilities struct {
	Camera     bool
	Microphone bool
	Speaker    bool
}

// CapabilityCommands are the configured commands for each capability, already split
type CapabilityCommands struct {
	Camera     []string
	Microphone []string
	Speaker    []string
}

// ProbeCapabilities reports a capability as present when its command is
// configured and its executable resolves on PATH
func ProbeCapabilities(cmds CapabilityCommands) Capabilities {
	return Capabilities{
		Camera:     resolvable(cmds.Camera),
		Microphone: resolvable(cmds.Microphone),
		Speaker:    resolvable(cmds.Speaker),
	}
}

func resolvable(argv []string) bool {
	if len(argv) == 0 {
		return false
	}
	_, err := exec.LookPath(argv[0])
	return err == nil
}
