package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/keyrelay/keyrelay/internal/core"
	"github.com/keyrelay/keyrelay/internal/core/issuer"
	"github.com/keyrelay/keyrelay/internal/core/proxy"
	apperrors "github.com/keyrelay/keyrelay/internal/errors"
	"github.com/keyrelay/keyrelay/internal/metrics"
	"github.com/keyrelay/keyrelay/internal/observability"
	"github.com/keyrelay/keyrelay/internal/server/middleware"
	"github.com/keyrelay/keyrelay/internal/session"
)

const maxIssueBody = 64 << 10

// CredentialIssuer issues credentials for a client.
type CredentialIssuer interface {
	Issue(ctx context.Context, clientID, owner string) (*issuer.Issuance, error)
}

// CredentialReader reads stored credentials.
type CredentialReader interface {
	ListCredentialsByOwner(ctx context.Context, owner string) ([]core.Credential, error)
	GetCredentialByKey(ctx context.Context, key string) (*core.Credential, error)
}

// SessionStore binds and reads the caller's session.
type SessionStore interface {
	Bind(w http.ResponseWriter, sess session.Session) error
	Load(r *http.Request) (*session.Session, error)
	Clear(w http.ResponseWriter)
}

// CredentialHandler serves issuance, listing and export.
type CredentialHandler struct {
	Issuer    CredentialIssuer
	Store     CredentialReader
	Sessions  SessionStore
	Generator *proxy.Generator

	// RetryAfter is the rate window length, reported to rate limited callers.
	RetryAfter time.Duration
}

// IssueResponse is the body of a successful issuance.
type IssueResponse struct {
	OK                 bool     `json:"ok"`
	Message            string   `json:"message"`
	APIName            string   `json:"api_name"`
	APIKey             string   `json:"api_key"`
	YourBaseURL        string   `json:"your_base_url"`
	ExampleUsage       string   `json:"example_usage"`
	AvailableEndpoints []string `json:"available_endpoints"`
}

// CredentialItem is one row of GET /credentials/mine.
type CredentialItem struct {
	Name         string `json:"api_adi"`
	Key          string `json:"api_key"`
	CreatedAt    string `json:"created_at"`
	RequestCount int64  `json:"request_count"`
}

type issueRequest struct {
	OwnerIdentity string `json:"owner_identity"`
	LegacyOwner   string `json:"kullanici_adi"`
}

// Routes registers the credential endpoints and their legacy aliases.
func (h *CredentialHandler) Routes(r chi.Router) {
	r.Post("/credentials", h.Issue)
	r.Get("/credentials/mine", h.Mine)
	r.Get("/credentials/export", h.Export)
	r.Get("/credentials/export-all", h.ExportAll)
	r.Post("/credentials/logout", h.Logout)

	r.Post("/api_olustur", h.Issue)
	r.Get("/apilerim", h.Mine)
	r.Get("/api_indir", h.Export)
	r.Get("/tum_apileri_indir", h.ExportAll)
}

// Issue handles POST /credentials.
func (h *CredentialHandler) Issue(w http.ResponseWriter, r *http.Request) {
	owner, err := readOwner(w, r)
	if err != nil {
		apperrors.RespondWithResult(w, r, apperrors.WrapValidationError(r.Context(), err, "malformed request body"))
		return
	}

	issuance, err := h.Issuer.Issue(r.Context(), ClientID(r), owner)
	if !stderrors.Is(err, core.ErrOwnerRequired) {
		metrics.RecordRateLimitDecision(!stderrors.Is(err, core.ErrRateLimited))
	}
	if err != nil {
		h.respondIssueError(w, r, err)
		return
	}

	h.logIssuance(r, issuance)

	cred := issuance.Credential
	if h.Sessions != nil {
		sess := session.Session{OwnerIdentity: cred.OwnerIdentity, APIKey: cred.Key, APIName: cred.Name}
		if err := h.Sessions.Bind(w, sess); err != nil && observability.ServerLogger != nil {
			observability.ServerLogger.Warn("Failed to bind session",
				zap.Error(err),
				zap.String("request_id", middleware.GetRequestID(r.Context())))
		}
	}

	endpoints := issuance.Endpoints
	if endpoints == nil {
		endpoints = []string{}
	}
	writeStatusJSON(w, http.StatusOK, IssueResponse{
		OK:                 true,
		Message:            "credential created",
		APIName:            cred.Name,
		APIKey:             cred.Key,
		YourBaseURL:        issuance.BaseURL,
		ExampleUsage:       issuance.ExampleUsage,
		AvailableEndpoints: endpoints,
	})
}

func (h *CredentialHandler) respondIssueError(w http.ResponseWriter, r *http.Request, err error) {
	envelope := apperrors.FromDomainError(r.Context(), err)
	if stderrors.Is(err, core.ErrRateLimited) && h.RetryAfter > 0 {
		seconds := int(h.RetryAfter.Round(time.Second) / time.Second)
		w.Header().Set("Retry-After", fmt.Sprint(seconds))
		envelope = apperrors.Wrap(r.Context(), apperrors.CodeRateLimited, err,
			fmt.Sprintf("too many requests, retry in %d seconds", seconds))
	}
	apperrors.RespondWithResult(w, r, envelope)
}

func (h *CredentialHandler) logIssuance(r *http.Request, issuance *issuer.Issuance) {
	metrics.RecordCredentialIssued(string(issuance.Source))
	if issuance.UpstreamErr != nil {
		metrics.RecordUpstreamIssueFailure()
	}

	logger := observability.ServerLogger
	if logger == nil {
		return
	}
	requestID := middleware.GetRequestID(r.Context())
	if issuance.LimiterErr != nil {
		logger.Warn("Rate limiter unavailable, request allowed",
			zap.Error(issuance.LimiterErr),
			zap.String("request_id", requestID))
	}
	if issuance.UpstreamErr != nil {
		logger.Warn("Upstream did not confirm credential, issued fallback",
			zap.Error(issuance.UpstreamErr),
			zap.String("api_name", issuance.Credential.Name),
			zap.String("request_id", requestID))
	}
	logger.Info("Credential issued",
		zap.String("api_name", issuance.Credential.Name),
		zap.String("source", string(issuance.Source)),
		zap.String("request_id", requestID))
}

// Mine handles GET /credentials/mine.
func (h *CredentialHandler) Mine(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	creds, err := h.Store.ListCredentialsByOwner(r.Context(), sess.OwnerIdentity)
	if err != nil {
		apperrors.RespondWithResult(w, r, apperrors.WrapDatabaseError(r.Context(), err, "could not load credentials"))
		return
	}

	items := make([]CredentialItem, 0, len(creds))
	for _, cred := range creds {
		items = append(items, CredentialItem{
			Name:         cred.Name,
			Key:          cred.Key,
			CreatedAt:    cred.IssuedAt.UTC().Format(time.RFC3339),
			RequestCount: cred.RequestCount,
		})
	}
	writeStatusJSON(w, http.StatusOK, items)
}

// Export handles GET /credentials/export: the proxy definition for the
// session's active credential as a YAML attachment.
func (h *CredentialHandler) Export(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	cred, err := h.Store.GetCredentialByKey(r.Context(), sess.APIKey)
	if err != nil {
		apperrors.RespondWithResult(w, r, apperrors.FromDomainError(r.Context(), err))
		return
	}

	def := h.Generator.Materialize(*cred)
	var body strings.Builder
	if err := def.EncodeYAML(&body); err != nil {
		apperrors.RespondWithResult(w, r, apperrors.WrapInternal(r.Context(), err, "could not render proxy definition"))
		return
	}

	writeAttachment(w, cred.Name+"_proxy.yaml", "application/yaml", []byte(body.String()))
}

// ExportAll handles GET /credentials/export-all?format=text|json|yaml.
func (h *CredentialHandler) ExportAll(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	catalog, err := h.Generator.MaterializeCatalog(r.Context(), sess.OwnerIdentity)
	if err != nil {
		apperrors.RespondWithResult(w, r, apperrors.WrapDatabaseError(r.Context(), err, "could not load credentials"))
		return
	}

	body, contentType, ext, err := catalog.Render(r.URL.Query().Get("format"))
	if err != nil {
		apperrors.RespondWithResult(w, r, apperrors.WrapValidationError(r.Context(), err, "unsupported export format"))
		return
	}

	writeAttachment(w, strings.ToLower(sess.OwnerIdentity)+"_credentials."+ext, contentType, body)
}

// Logout handles POST /credentials/logout.
func (h *CredentialHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	if h.Sessions != nil {
		h.Sessions.Clear(w)
	}
	writeStatusJSON(w, http.StatusOK, apperrors.ResultResponse{OK: true, Message: "session cleared"})
}

// session loads the caller's session or redirects to the entry point.
func (h *CredentialHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if h.Sessions == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return nil, false
	}
	sess, err := h.Sessions.Load(r)
	if err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return nil, false
	}
	return sess, true
}

func readOwner(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxIssueBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req issueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", fmt.Errorf("decode issue request: %w", err)
		}
		if req.OwnerIdentity != "" {
			return req.OwnerIdentity, nil
		}
		return req.LegacyOwner, nil
	}

	if err := r.ParseForm(); err != nil {
		return "", fmt.Errorf("parse issue form: %w", err)
	}
	if owner := r.PostForm.Get("owner_identity"); owner != "" {
		return owner, nil
	}
	return r.PostForm.Get("kullanici_adi"), nil
}

// ClientID identifies the caller for rate limiting. It is the remote host,
// which middleware.RealIP rewrites from forwarding headers when trusted.
func ClientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeAttachment(w http.ResponseWriter, filename, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeStatusJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
