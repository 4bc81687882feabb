// Package version reports what build of the rate limiter is running.
//
// Release builds stamp Version, GitCommit and BuildDate with
//
//	-ldflags "-X ratelimiter/internal/version.Version=v1.4.0 ..."
//
// Builds without ldflags fall back to the VCS metadata the Go toolchain
// embeds, so a `go install` from a checkout still reports its commit.
package version

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

const unknown = "unknown"

var (
	Version   = unknown
	BuildDate = unknown
	GitCommit = unknown
)

// Info is the build and runtime identity of one service instance. The
// instance ID distinguishes replicas in logs, traces and the Via header of
// proxied requests.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	GoVersion  string `json:"go_version"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns the process's Info, computed on first use.
func GetInfo() Info {
	once.Do(func() {
		bi, _ := debug.ReadBuildInfo()
		info = resolve(bi)
		info.InstanceID = uuid.New().String()
		info.Hostname = getHostname()
	})
	return info
}

// resolve merges ldflags values with embedded build settings. ldflags win.
func resolve(bi *debug.BuildInfo) Info {
	i := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
	if bi == nil {
		return i
	}

	settings := make(map[string]string, len(bi.Settings))
	for _, s := range bi.Settings {
		settings[s.Key] = s.Value
	}

	if i.GitCommit == unknown && settings["vcs.revision"] != "" {
		i.GitCommit = shortRevision(settings["vcs.revision"])
		if settings["vcs.modified"] == "true" {
			i.GitCommit += "-dirty"
		}
	}
	if i.BuildDate == unknown && settings["vcs.time"] != "" {
		i.BuildDate = settings["vcs.time"]
	}
	if i.Version == unknown && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}
	if bi.GoVersion != "" {
		i.GoVersion = bi.GoVersion
	}
	return i
}

func shortRevision(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return unknown
	}
	return hostname
}

// String formats version info for -version output.
func (i Info) String() string {
	return fmt.Sprintf("ratelimiter version %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
}

// UserAgent identifies this build on outbound requests made by the health
// probe.
func (i Info) UserAgent() string {
	v := i.Version
	if v == "" {
		v = unknown
	}
	return "ratelimiter/" + v
}
