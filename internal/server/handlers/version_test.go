package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetBuild(t *testing.T) {
	t.Cleanup(func() {
		SetVersionInfo("dev", "unknown", "unknown")
		SetAppIdentity(nil)
	})
}

func TestVersionHandlerReportsBuildStamp(t *testing.T) {
	resetBuild(t)
	SetVersionInfo("1.2.3", "abcd123", "2026-10-18T12:00:00Z")
	SetAppIdentity(&appidentity.Identity{BinaryName: "relay-edge"})

	rec := httptest.NewRecorder()
	VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var report VersionReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, "relay-edge", report.Name)
	assert.Equal(t, BuildInfo{Version: "1.2.3", Commit: "abcd123", BuildDate: "2026-10-18T12:00:00Z"}, report.Build)
	assert.NotEmpty(t, report.Gofulmen)
	assert.NotEmpty(t, report.Crucible)
	assert.NotEmpty(t, report.Platform)
}

func TestVersionDefaultsToCompiledIdentity(t *testing.T) {
	resetBuild(t)
	SetAppIdentity(nil)

	report := CurrentVersion()
	assert.Equal(t, "keyrelay", report.Name)
	assert.NotEmpty(t, report.Description)
	assert.Equal(t, "dev", report.Build.Version)
}

func TestIndexListsProxyRouteWhenHosted(t *testing.T) {
	resetBuild(t)
	SetVersionInfo("2.0.0", "c", "d")

	for _, hosted := range []bool{true, false} {
		rec := httptest.NewRecorder()
		IndexHandler(hosted)(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		var resp IndexResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "keyrelay", resp.Service)
		assert.Equal(t, "2.0.0", resp.Version)
		assert.Contains(t, resp.Endpoints, "POST /credentials")
		assert.Equal(t, hosted, resp.ProxyRoute != "")
	}
}
