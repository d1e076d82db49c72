package version

import (
	"fmt"
	"runtime"
)

// Set via ldflags, e.g.
// go build -ldflags "-X github.com/r9s-ai/gemini-relay/internal/version.Version=v0.3.0"
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("gemini-relay %s (commit %s, built %s, %s %s)",
		i.Version, i.Commit, i.BuildDate, i.GoVersion, i.Platform)
}

// Short is Version plus the abbreviated commit when one was stamped in.
func Short() string {
	if len(Commit) > 7 && Commit != "unknown" {
		return Version + "+" + Commit[:7]
	}
	return Version
}
