package config

import "runtime/debug"

// Set with -ldflags "-X tourbook/internal/config.version=..." and friends.
var (
	version   = "dev"
	commit    = ""
	buildTime = ""
)

// NewBuildInfo reports the linker-injected build metadata. When the commit
// was not injected it falls back to the VCS stamp the go tool embeds.
func NewBuildInfo() BuildInfo {
	info := BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
	if info.Commit != "" {
		return info
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.Commit, info.BuildTime = vcsStamp(bi.Settings, info.BuildTime)
	}
	return info
}

func vcsStamp(settings []debug.BuildSetting, buildTime string) (string, string) {
	var revision, modified string
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value
		case "vcs.time":
			if buildTime == "" {
				buildTime = s.Value
			}
		}
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if revision != "" && modified == "true" {
		revision += "-dirty"
	}
	return revision, buildTime
}
