// Package version reports the build identity of the rst binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/rstlink/rst/internal/version.Version=v0.3.0 \
//	                   -X github.com/rstlink/rst/internal/version.Commit=abc1234"
var (
	Version = ""
	Commit  = ""
)

// Info describes the running binary.
type Info struct {
	Version   string
	Commit    string
	GoVersion string
	Platform  string
}

func init() {
	if Version == "" || Commit == "" {
		v, c := fromBuildInfo(debug.ReadBuildInfo)
		if Version == "" {
			Version = v
		}
		if Commit == "" {
			Commit = c
		}
	}

	if Version == "" {
		Version = fmt.Sprintf("dev-%s", time.Now().Format("20060102-150405"))
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

// fromBuildInfo derives a version and commit from VCS stamps.
func fromBuildInfo(read func() (*debug.BuildInfo, bool)) (version, commit string) {
	info, ok := read()
	if !ok {
		return "", ""
	}

	if v := info.Main.Version; v != "" && v != "(devel)" {
		version = v
	}

	var revision, modified, vcsTime string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value
		case "vcs.time":
			vcsTime = s.Value
		}
	}

	if revision != "" {
		commit = revision
		if len(commit) > 7 {
			commit = commit[:7]
		}
		if modified == "true" {
			commit += "-dirty"
		}
	}

	if version == "" && vcsTime != "" {
		if t, err := time.Parse(time.RFC3339, vcsTime); err == nil {
			version = "dev-" + t.Format("20060102")
		}
	}

	return version, commit
}

// Get returns the build identity.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String renders the identity on one line.
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (commit: %s)", i.Version, i.Commit)
	if i.GoVersion != "" {
		fmt.Fprintf(&b, " %s %s", i.GoVersion, i.Platform)
	}
	return b.String()
}

// Full returns the version string including commit
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}
