package proxy

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/keyrelay/keyrelay/internal/core"
)

// DefinitionSource resolves the definition a request addresses. name is empty
// on the standalone route. A wrong or unknown key yields
// core.ErrUnauthorizedCredential.
type DefinitionSource interface {
	Resolve(ctx context.Context, name, key string) (*Definition, error)
}

// StaticSource serves one fixed definition.
type StaticSource struct {
	Definition Definition
}

func (s StaticSource) Resolve(_ context.Context, name, key string) (*Definition, error) {
	if !equalSecret(key, s.Definition.APIKey) {
		return nil, core.ErrUnauthorizedCredential
	}
	if name != "" && !equalSecret(name, s.Definition.Name) {
		return nil, core.ErrUnauthorizedCredential
	}
	def := s.Definition
	return &def, nil
}

// CredentialLookup finds a credential by key.
type CredentialLookup interface {
	GetCredentialByKey(ctx context.Context, key string) (*core.Credential, error)
}

// StoreSource materializes definitions on demand from stored credentials.
type StoreSource struct {
	Credentials CredentialLookup
	Generator   *Generator
}

func (s StoreSource) Resolve(ctx context.Context, name, key string) (*Definition, error) {
	if s.Credentials == nil || s.Generator == nil {
		return nil, errors.New("store definition source is not configured")
	}
	if key == "" {
		return nil, core.ErrUnauthorizedCredential
	}

	cred, err := s.Credentials.GetCredentialByKey(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrCredentialNotFound) {
			return nil, core.ErrUnauthorizedCredential
		}
		return nil, err
	}
	if !equalSecret(key, cred.Key) || !equalSecret(name, cred.Name) {
		return nil, core.ErrUnauthorizedCredential
	}

	def := s.Generator.Materialize(*cred)
	return &def, nil
}

func equalSecret(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
