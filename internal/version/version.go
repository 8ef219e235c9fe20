// Package version reports which greehp build is running.
//
// Release builds stamp the version with the linker:
//
//	go build -ldflags "-X github.com/muurk/greehp/internal/version.Version=v1.2.0" ./cmd/greehp
//
// Anything else is identified from the VCS stamp the go tool embeds.
package version

import (
	"runtime"
	"runtime/debug"
	"time"
)

var (
	Version = ""
	Commit  = ""
)

// shortCommit is how many hex digits of a revision are shown
const shortCommit = 7

func init() {
	Version, Commit = resolve(Version, Commit, readVCS(), time.Now())
}

// vcsStamp is the subset of debug.BuildInfo settings greehp reports
type vcsStamp struct {
	revision string
	modified bool
	time     time.Time
}

func readVCS() vcsStamp {
	var st vcsStamp
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return st
	}
	for _, kv := range info.Settings {
		switch kv.Key {
		case "vcs.revision":
			st.revision = kv.Value
		case "vcs.modified":
			st.modified = kv.Value == "true"
		case "vcs.time":
			st.time, _ = time.Parse(time.RFC3339, kv.Value)
		}
	}
	return st
}

// resolve fills in whatever the linker left empty. An unstamped build is
// "dev-" plus the commit date, or the build date without one.
func resolve(version, commit string, st vcsStamp, now time.Time) (string, string) {
	if commit == "" {
		commit = "unknown"
		if st.revision != "" {
			commit = st.revision
			if len(commit) > shortCommit {
				commit = commit[:shortCommit]
			}
			if st.modified {
				commit += "-dirty"
			}
		}
	}
	if version == "" {
		built := now
		if !st.time.IsZero() {
			built = st.time
		}
		version = "dev-" + built.UTC().Format("20060102")
	}
	return version, commit
}

// Info is the build identity reported by the CLI and the bridge API
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

func Get() Info {
	return Info{Version: Version, Commit: Commit, GoVersion: runtime.Version()}
}

// Full is the one-line form printed by 'greehp version'
func Full() string {
	return Version + " (" + Commit + ")"
}

// UserAgent identifies greehp to MQTT brokers and HTTP clients
func UserAgent() string {
	return "greehp/" + Version
}
