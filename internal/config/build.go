package config

// Set with -ldflags at release time, for example:
//
//	go build -ldflags "-X avisos/internal/config.version=1.4.0 \
//	    -X avisos/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X avisos/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/avisos
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo reports the linker-injected metadata. LoadConfig stores it in
// Config.Build.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// UserAgent identifies outbound HTTP calls made by service.
func (b BuildInfo) UserAgent(service string) string {
	if b.Version == "" {
		return service
	}
	return service + "/" + b.Version
}
