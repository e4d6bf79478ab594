package handlers

import (
	"net/http"
	"runtime"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/keyrelay/keyrelay/internal/appid"
)

// BuildInfo is stamped by main from ldflags.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

var (
	buildMu     sync.RWMutex
	build       = BuildInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}
	appIdentity *appidentity.Identity
)

// SetVersionInfo records the binary's build stamp.
func SetVersionInfo(version, commit, buildDate string) {
	buildMu.Lock()
	defer buildMu.Unlock()
	build = BuildInfo{Version: version, Commit: commit, BuildDate: buildDate}
}

// SetAppIdentity sets the identity reported by / and /version. Nil falls
// back to the compiled-in name.
func SetAppIdentity(identity *appidentity.Identity) {
	buildMu.Lock()
	defer buildMu.Unlock()
	appIdentity = identity
}

func currentBuild() (BuildInfo, appidentity.Identity) {
	buildMu.RLock()
	defer buildMu.RUnlock()
	if appIdentity != nil {
		return build, *appIdentity
	}
	return build, appidentity.Identity{BinaryName: appid.BinaryName, Description: appid.Description}
}

// VersionReport is the body of GET /version and `keyrelay version --json`.
type VersionReport struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Build       BuildInfo `json:"build"`
	Go          string    `json:"go_version"`
	Platform    string    `json:"platform"`
	Gofulmen    string    `json:"gofulmen"`
	Crucible    string    `json:"crucible"`
	Goroutines  int       `json:"goroutines"`
}

// CurrentVersion reports the running binary.
func CurrentVersion() VersionReport {
	info, identity := currentBuild()
	deps := crucible.GetVersion()
	return VersionReport{
		Name:        identity.BinaryName,
		Description: identity.Description,
		Build:       info,
		Go:          runtime.Version(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
		Gofulmen:    deps.Gofulmen,
		Crucible:    deps.Crucible,
		Goroutines:  runtime.NumGoroutine(),
	}
}

// VersionHandler serves GET /version.
func VersionHandler(w http.ResponseWriter, _ *http.Request) {
	writeStatusJSON(w, http.StatusOK, CurrentVersion())
}
