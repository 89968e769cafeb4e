// SPDX-License-Identifier: MIT
package capture

import "strings"

// IsMonitorName reports whether a device name looks like a monitor of a sink,
// e.g. "Monitor of Built-in Audio Analog Stereo" or "alsa_output.pci.monitor".
func IsMonitorName(name string) bool {
	return strings.Contains(strings.ToLower(name), "monitor")
}

// SelectMonitor picks the source to capture. A non-empty preferred name is
// matched exactly first, then as a substring. Without a preference the first
// monitor source wins.
func SelectMonitor(sources []Source, preferred string) (Source, error) {
	if preferred != "" {
		for _, s := range sources {
			if s.Name == preferred {
				return s, nil
			}
		}
		for _, s := range sources {
			if strings.Contains(s.Name, preferred) {
				return s, nil
			}
		}
		return Source{}, ErrNoMonitorSource
	}

	for _, s := range sources {
		if s.Monitor {
			return s, nil
		}
	}
	return Source{}, ErrNoMonitorSource
}
