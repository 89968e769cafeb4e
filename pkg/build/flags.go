// SPDX-License-Identifier: MIT
//
// Package build reports what binary is running. Release builds inject the
// name, build time, commit and version with -ldflags:
//
//	go build -ldflags "-X spectrogram/pkg/build.buildVersion=v1.2.0 ..."
//
// Development builds fall back to the module and VCS data the Go toolchain
// embeds, so version output is meaningful either way.
package build

import (
	"errors"
	"fmt"
	"runtime/debug"
)

const (
	DefaultName        = "spectrogram"
	DefaultDescription = "Live spectrogram of an audio output's monitor source"
	unknown            = "unknown"
)

// Info describes the running binary.
type Info struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}

// Populated by -ldflags during release builds.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
)

var (
	readBuildInfo = debug.ReadBuildInfo
	info          = defaultInfo()
)

func defaultInfo() Info {
	return Info{
		Name:        DefaultName,
		Description: DefaultDescription,
		Time:        unknown,
		Commit:      unknown,
		Version:     "dev",
	}
}

// Initialize resolves the build information. Fields missing from ldflags are
// taken from the embedded module information where possible; the returned
// error lists every ldflag that was not set. The resolved Info is usable even
// when an error is returned.
func Initialize() error {
	resolved := defaultInfo()
	var errs []error

	set := func(dst *string, val, flag string) {
		if val == "" {
			errs = append(errs, fmt.Errorf("%s is not set", flag))
			return
		}
		*dst = val
	}
	set(&resolved.Name, buildName, "BuildName")
	set(&resolved.Time, buildTime, "BuildTime")
	set(&resolved.Commit, buildCommit, "BuildCommit")
	set(&resolved.Version, buildVersion, "BuildVersion")

	if len(errs) > 0 {
		fillFromModule(&resolved)
	}
	info = resolved
	return errors.Join(errs...)
}

// fillFromModule fills fields still at their defaults from the module and VCS
// settings recorded by the toolchain.
func fillFromModule(i *Info) {
	bi, ok := readBuildInfo()
	if !ok {
		return
	}
	if i.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if i.Commit == unknown && s.Value != "" {
				i.Commit = s.Value[:min(len(s.Value), 12)]
			}
		case "vcs.time":
			if i.Time == unknown && s.Value != "" {
				i.Time = s.Value
			}
		}
	}
}

// Current returns the build information resolved by Initialize, or defaults
// if Initialize has not run.
func Current() Info {
	return info
}
