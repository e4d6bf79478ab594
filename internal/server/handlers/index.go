package handlers

import "net/http"

// IndexResponse describes the service at GET /.
type IndexResponse struct {
	Service     string            `json:"service"`
	Description string            `json:"description"`
	Version     string            `json:"version"`
	Endpoints   map[string]string `json:"endpoints"`
	ProxyRoute  string            `json:"proxy_route,omitempty"`
}

// IndexHandler returns the entry point description. hosted adds the proxy
// route to the listing.
func IndexHandler(hosted bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, identity := currentBuild()
		resp := IndexResponse{
			Service:     identity.BinaryName,
			Description: "Issue API credentials and query the upstream through a per-credential proxy",
			Version:     info.Version,
			Endpoints: map[string]string{
				"POST /credentials":           "issue a credential for owner_identity",
				"GET /credentials/mine":       "list credentials for the session owner",
				"GET /credentials/export":     "download the proxy definition for the active credential",
				"GET /credentials/export-all": "download every credential for the session owner",
				"POST /credentials/logout":    "clear the session",
			},
		}
		if hosted {
			resp.ProxyRoute = "GET /{api_name}/{endpoint}?api_key=...&..."
		}
		writeStatusJSON(w, http.StatusOK, resp)
	}
}
