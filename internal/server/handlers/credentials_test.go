package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyrelay/keyrelay/internal/core"
	"github.com/keyrelay/keyrelay/internal/core/engine"
	"github.com/keyrelay/keyrelay/internal/core/issuer"
	"github.com/keyrelay/keyrelay/internal/core/proxy"
	"github.com/keyrelay/keyrelay/internal/core/upstream"
	apperrors "github.com/keyrelay/keyrelay/internal/errors"
	"github.com/keyrelay/keyrelay/internal/session"
)

type memoryCredentials struct {
	mu    sync.Mutex
	creds []core.Credential
}

func (m *memoryCredentials) SaveCredential(_ context.Context, cred *core.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.creds {
		if existing.Key == cred.Key {
			return core.ErrDuplicateCredentialKey
		}
	}
	cred.ID = int64(len(m.creds) + 1)
	m.creds = append(m.creds, *cred)
	return nil
}

func (m *memoryCredentials) ListCredentialsByOwner(_ context.Context, owner string) ([]core.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Credential
	for _, cred := range m.creds {
		if cred.OwnerIdentity == owner {
			out = append(out, cred)
		}
	}
	return out, nil
}

func (m *memoryCredentials) GetCredentialByKey(_ context.Context, key string) (*core.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cred := range m.creds {
		if cred.Key == key {
			found := cred
			return &found, nil
		}
	}
	return nil, core.ErrCredentialNotFound
}

type confirmingUpstream struct {
	key string
}

func (u confirmingUpstream) RequestCredential(context.Context, string) (*upstream.CredentialResponse, error) {
	return &upstream.CredentialResponse{OK: true, APIKey: u.key, AvailableEndpoints: []string{"adsoyad", "plaka2"}}, nil
}

type credentialFixture struct {
	router http.Handler
	store  *memoryCredentials
}

func newCredentialFixture(t *testing.T, limit int, up issuer.CredentialRequester) credentialFixture {
	t.Helper()

	store := &memoryCredentials{}
	sessions, err := session.NewStore([]byte("0123456789abcdef0123456789abcdef"), session.Options{})
	require.NoError(t, err)

	h := &CredentialHandler{
		Issuer: &issuer.Issuer{
			Limiter: &engine.RateLimiter{
				Store:  engine.NewMemoryWindowStore(),
				Policy: core.WindowPolicy{Limit: limit, Window: time.Minute},
			},
			Upstream: up,
			Store:    store,
		},
		Store:    store,
		Sessions: sessions,
		Generator: &proxy.Generator{
			UpstreamBaseURL: "https://upstream.test",
			Timeout:         8 * time.Second,
			Endpoints:       []string{"adsoyad"},
			Credentials:     store,
		},
		RetryAfter: time.Minute,
	}

	r := chi.NewRouter()
	h.Routes(r)
	return credentialFixture{router: r, store: store}
}

func (f credentialFixture) issueForm(t *testing.T, path, field, owner string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{field: {owner}}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f credentialFixture) get(path string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestIssueFallbackBindsSession(t *testing.T) {
	f := newCredentialFixture(t, 10, nil)

	rec := f.issueForm(t, "/credentials", "owner_identity", "Ahmet ")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp IssueResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "ahmet", resp.APIName)
	assert.Len(t, resp.APIKey, 32)
	assert.Equal(t, "/ahmet", resp.YourBaseURL)
	assert.Contains(t, resp.ExampleUsage, "api_key="+resp.APIKey)
	assert.NotEmpty(t, resp.AvailableEndpoints)

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	mine := f.get("/credentials/mine", cookies)
	require.Equal(t, http.StatusOK, mine.Code)

	var items []CredentialItem
	require.NoError(t, json.NewDecoder(mine.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, "ahmet", items[0].Name)
	assert.Equal(t, resp.APIKey, items[0].Key)
	assert.NotEmpty(t, items[0].CreatedAt)
}

func TestIssueResponseShapeMatchesAcrossSources(t *testing.T) {
	fields := func(rec *httptest.ResponseRecorder) []string {
		var body map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		keys := make([]string, 0, len(body))
		for k := range body {
			keys = append(keys, k)
		}
		return keys
	}

	fallback := newCredentialFixture(t, 10, nil).issueForm(t, "/credentials", "owner_identity", "Ayse")
	confirmed := newCredentialFixture(t, 10, confirmingUpstream{key: "up-key-123"}).
		issueForm(t, "/credentials", "owner_identity", "Ayse")

	require.Equal(t, http.StatusOK, fallback.Code)
	require.Equal(t, http.StatusOK, confirmed.Code)
	assert.ElementsMatch(t, fields(fallback), fields(confirmed))
}

func TestIssueAcceptsJSONAndLegacyAlias(t *testing.T) {
	f := newCredentialFixture(t, 10, nil)

	req := httptest.NewRequest(http.MethodPost, "/api_olustur", strings.NewReader(`{"kullanici_adi":"Mehmet"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp IssueResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "mehmet", resp.APIName)

	legacy := f.issueForm(t, "/api_olustur", "kullanici_adi", "Zeynep")
	assert.Equal(t, http.StatusOK, legacy.Code)
}

func TestIssueRejectsBlankOwner(t *testing.T) {
	f := newCredentialFixture(t, 10, nil)

	rec := f.issueForm(t, "/credentials", "owner_identity", "   ")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp apperrors.ResultResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.OK)
	assert.Equal(t, core.ErrOwnerRequired.Error(), resp.Message)
	assert.Empty(t, f.store.creds)
}

func TestIssueRejectsMalformedJSON(t *testing.T) {
	f := newCredentialFixture(t, 10, nil)

	req := httptest.NewRequest(http.MethodPost, "/credentials", strings.NewReader(`{"owner_identity":`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIssueRateLimitedAfterLimit(t *testing.T) {
	f := newCredentialFixture(t, 2, nil)

	for i := 0; i < 2; i++ {
		rec := f.issueForm(t, "/credentials", "owner_identity", "Ali")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := f.issueForm(t, "/credentials", "owner_identity", "Ali")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	var resp apperrors.ResultResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Message, "60 seconds")
	assert.Len(t, f.store.creds, 2)
}

func TestSessionRoutesRedirectWithoutSession(t *testing.T) {
	f := newCredentialFixture(t, 10, nil)

	for _, path := range []string{"/credentials/mine", "/credentials/export", "/credentials/export-all", "/apilerim"} {
		rec := f.get(path, nil)
		assert.Equal(t, http.StatusSeeOther, rec.Code, path)
		assert.Equal(t, "/", rec.Header().Get("Location"), path)
	}
}

func TestExportReturnsDefinitionAttachment(t *testing.T) {
	f := newCredentialFixture(t, 10, nil)

	issued := f.issueForm(t, "/credentials", "owner_identity", "Ahmet")
	require.Equal(t, http.StatusOK, issued.Code)
	var resp IssueResponse
	require.NoError(t, json.NewDecoder(issued.Body).Decode(&resp))

	rec := f.get("/credentials/export", issued.Result().Cookies())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "ahmet_proxy.yaml")

	def, err := proxy.DecodeDefinition(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "ahmet", def.Name)
	assert.Equal(t, resp.APIKey, def.APIKey)
	assert.Equal(t, "https://upstream.test", def.UpstreamBaseURL)
}

func TestExportAllListsEveryCredentialInOrder(t *testing.T) {
	f := newCredentialFixture(t, 10, nil)

	first := f.issueForm(t, "/credentials", "owner_identity", "Ahmet")
	require.Equal(t, http.StatusOK, first.Code)
	second := f.issueForm(t, "/credentials", "owner_identity", "Ahmet")
	require.Equal(t, http.StatusOK, second.Code)

	rec := f.get("/credentials/export-all?format=json", second.Result().Cookies())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "ahmet_credentials.json")

	var catalog proxy.Catalog
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&catalog))
	require.Len(t, catalog.Entries, 2)
	assert.Equal(t, f.store.creds[0].Key, catalog.Entries[0].Key)
	assert.Equal(t, f.store.creds[1].Key, catalog.Entries[1].Key)

	bad := f.get("/credentials/export-all?format=xml", second.Result().Cookies())
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestLogoutClearsSession(t *testing.T) {
	f := newCredentialFixture(t, 10, nil)

	req := httptest.NewRequest(http.MethodPost, "/credentials/logout", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, session.DefaultCookieName, cookies[0].Name)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestClientIDStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	assert.Equal(t, "203.0.113.7", ClientID(req))

	req.RemoteAddr = "203.0.113.7"
	assert.Equal(t, "203.0.113.7", ClientID(req))
}
