// Package issuer implements the credential issuance flow: validation, the
// per-client rate gate, the upstream request and the local fallback.
package issuer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/keyrelay/keyrelay/internal/core"
	"github.com/keyrelay/keyrelay/internal/core/upstream"
)

const (
	DefaultKeyBytes        = 16
	DefaultExampleEndpoint = "adsoyad"
	DefaultExampleQuery    = "ad=AHMET&soyad=YILMAZ"

	saveAttempts = 3
)

// Limiter gates issuance per client.
type Limiter interface {
	Check(ctx context.Context, clientID string) (bool, error)
}

// CredentialRequester asks the upstream for a credential.
type CredentialRequester interface {
	RequestCredential(ctx context.Context, owner string) (*upstream.CredentialResponse, error)
}

// CredentialSaver persists issued credentials.
type CredentialSaver interface {
	SaveCredential(ctx context.Context, cred *core.Credential) error
}

// Issuer issues credentials. Upstream may be nil, in which case every
// credential is synthesized locally.
type Issuer struct {
	Limiter         Limiter
	Upstream        CredentialRequester
	Store           CredentialSaver
	Endpoints       []string
	ExampleEndpoint string
	ExampleQuery    string
	KeyBytes        int
	Clock           func() time.Time
	Random          io.Reader
}

// Issuance is the outcome of a successful Issue call. Source, UpstreamErr and
// LimiterErr are for logs and metrics only and are never shown to callers.
type Issuance struct {
	Credential   core.Credential
	BaseURL      string
	ExampleUsage string
	Endpoints    []string

	Source      core.CredentialSource
	UpstreamErr error
	LimiterErr  error
}

// Issue validates owner, applies the rate gate for clientID and issues a
// credential, falling back to a synthesized key when the upstream does not
// confirm one.
func (i *Issuer) Issue(ctx context.Context, clientID, owner string) (*Issuance, error) {
	if i == nil || i.Store == nil {
		return nil, errors.New("issuer is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, core.ErrOwnerRequired
	}

	result := &Issuance{}

	if i.Limiter != nil {
		allowed, err := i.Limiter.Check(ctx, clientID)
		result.LimiterErr = err
		if !allowed {
			return nil, core.ErrRateLimited
		}
	}

	name := strings.ToLower(owner)
	cred := core.Credential{
		OwnerIdentity: owner,
		Name:          name,
		IssuedAt:      i.now(),
	}
	endpoints := i.defaultEndpoints()

	if i.Upstream != nil {
		resp, err := i.Upstream.RequestCredential(ctx, owner)
		if err == nil {
			cred.Key = resp.APIKey
			cred.Source = core.SourceUpstream
			if len(resp.AvailableEndpoints) > 0 {
				endpoints = append([]string(nil), resp.AvailableEndpoints...)
			}
		} else {
			result.UpstreamErr = err
		}
	} else {
		result.UpstreamErr = core.ErrUpstreamUnavailable
	}

	if err := i.save(ctx, &cred); err != nil {
		return nil, err
	}

	result.Credential = cred
	result.Source = cred.Source
	result.Endpoints = endpoints
	result.BaseURL = BaseURL(cred.Name)
	result.ExampleUsage = i.ExampleUsage(result.BaseURL, cred.Key)
	return result, nil
}

// save persists cred, synthesizing a key when none was confirmed and retrying
// on key collisions. An upstream key that collides is replaced by a
// synthesized one.
func (i *Issuer) save(ctx context.Context, cred *core.Credential) error {
	for attempt := 0; attempt < saveAttempts; attempt++ {
		if cred.Key == "" {
			key, err := i.newKey()
			if err != nil {
				return err
			}
			cred.Key = key
			cred.Source = core.SourceFallback
		}

		err := i.Store.SaveCredential(ctx, cred)
		if err == nil {
			return nil
		}
		if !errors.Is(err, core.ErrDuplicateCredentialKey) {
			return fmt.Errorf("save credential: %w", err)
		}
		cred.Key = ""
	}
	return fmt.Errorf("save credential: %w after %d attempts", core.ErrDuplicateCredentialKey, saveAttempts)
}

func (i *Issuer) newKey() (string, error) {
	size := i.KeyBytes
	if size < DefaultKeyBytes {
		size = DefaultKeyBytes
	}
	reader := i.Random
	if reader == nil {
		reader = rand.Reader
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return "", fmt.Errorf("generate credential key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ExampleUsage builds "<base>/<endpoint>?api_key=<key>&<query>".
func (i *Issuer) ExampleUsage(base, key string) string {
	endpoint := DefaultExampleEndpoint
	query := DefaultExampleQuery
	if i != nil && strings.TrimSpace(i.ExampleEndpoint) != "" {
		endpoint = strings.TrimSpace(i.ExampleEndpoint)
	}
	if i != nil && strings.TrimSpace(i.ExampleQuery) != "" {
		query = strings.TrimSpace(i.ExampleQuery)
	}
	return ExampleURL(base, endpoint, key, query)
}

// BaseURL is the path prefix a credential's queries live under.
func BaseURL(name string) string {
	return "/" + url.PathEscape(name)
}

// ExampleURL joins base, endpoint, the key and an extra query string.
func ExampleURL(base, endpoint, key, query string) string {
	target := strings.TrimRight(base, "/") + "/" + endpoint + "?api_key=" + url.QueryEscape(key)
	if query = strings.TrimPrefix(query, "&"); query != "" {
		target += "&" + query
	}
	return target
}

func (i *Issuer) defaultEndpoints() []string {
	if len(i.Endpoints) == 0 {
		return []string{}
	}
	return append([]string(nil), i.Endpoints...)
}

func (i *Issuer) now() time.Time {
	if i.Clock != nil {
		return i.Clock().UTC()
	}
	return time.Now().UTC()
}
