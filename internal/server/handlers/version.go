package handlers

import (
	"net/http"
	"runtime"
	"sync"

	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/threadline/threadline/internal/appid"
)

var (
	buildMu sync.RWMutex
	build   = BuildInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}
	limiter LimiterInfo
)

// BuildInfo is stamped in at link time and handed over from main.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

// LimiterInfo describes how the running gateway counts requests.
type LimiterInfo struct {
	Store string `json:"store,omitempty"`
	Mode  string `json:"mode,omitempty"`
}

// SetVersionInfo records build metadata for /version.
func SetVersionInfo(version, commit, buildDate string) {
	buildMu.Lock()
	defer buildMu.Unlock()
	build = BuildInfo{Version: version, Commit: commit, BuildDate: buildDate}
}

// SetLimiterInfo records the active store driver and counting mode.
func SetLimiterInfo(store string, strict bool) {
	mode := "relaxed"
	if strict {
		mode = "strict"
	}
	buildMu.Lock()
	defer buildMu.Unlock()
	limiter = LimiterInfo{Store: store, Mode: mode}
}

// VersionResponse is the /version body and the `threadline version --json` output.
type VersionResponse struct {
	App struct {
		Name string `json:"name"`
		BuildInfo
		GoVersion string `json:"go_version,omitempty"`
	} `json:"app"`
	Dependencies struct {
		Gofulmen string `json:"gofulmen"`
		Crucible string `json:"crucible"`
	} `json:"dependencies"`
	Runtime struct {
		Platform      string `json:"platform"`
		NumCPU        int    `json:"num_cpu"`
		NumGoroutines int    `json:"num_goroutines"`
	} `json:"runtime"`
	Limiter *LimiterInfo `json:"limiter,omitempty"`
}

// CurrentVersion assembles the version report.
func CurrentVersion() VersionResponse {
	buildMu.RLock()
	info, lim := build, limiter
	buildMu.RUnlock()

	var resp VersionResponse
	resp.App.Name = appid.Get().BinaryName
	resp.App.BuildInfo = info
	resp.App.GoVersion = runtime.Version()

	deps := crucible.GetVersion()
	resp.Dependencies.Gofulmen = deps.Gofulmen
	resp.Dependencies.Crucible = deps.Crucible

	resp.Runtime.Platform = runtime.GOOS + "/" + runtime.GOARCH
	resp.Runtime.NumCPU = runtime.NumCPU()
	resp.Runtime.NumGoroutines = runtime.NumGoroutine()

	if lim.Store != "" {
		resp.Limiter = &lim
	}
	return resp
}

// VersionHandler serves GET /version.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CurrentVersion())
}
