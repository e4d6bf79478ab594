package core

import (
	"errors"
	"time"
)

// Domain errors. The HTTP layer maps these onto error envelopes.
var (
	ErrOwnerRequired          = errors.New("owner_identity required")
	ErrRateLimited            = errors.New("too many requests, retry after the window")
	ErrCredentialNotFound     = errors.New("credential not found")
	ErrDuplicateCredentialKey = errors.New("credential key already issued")
	ErrUnauthorizedCredential = errors.New("invalid api key")
	ErrUpstreamUnavailable    = errors.New("upstream unavailable")
)

// CredentialSource records how a credential was produced.
type CredentialSource string

const (
	SourceUpstream CredentialSource = "upstream"
	SourceFallback CredentialSource = "fallback"
)

// Credential is an issued (name, key) pair owned by a display name.
type Credential struct {
	ID            int64            `json:"id,omitempty" yaml:"-"`
	OwnerIdentity string           `json:"owner_identity" yaml:"owner_identity"`
	Name          string           `json:"api_name" yaml:"api_name"`
	Key           string           `json:"api_key" yaml:"api_key"`
	Source        CredentialSource `json:"-" yaml:"-"`
	IssuedAt      time.Time        `json:"issued_at" yaml:"issued_at"`
	RequestCount  int64            `json:"request_count" yaml:"request_count"`
}

// QueryParam is a single query parameter in the order the caller sent it.
type QueryParam struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// UsageEntry is one proxied call as written to the usage log.
type UsageEntry struct {
	ID         int64        `json:"id,omitempty"`
	APIKey     string       `json:"-"`
	Endpoint   string       `json:"endpoint"`
	Parameters []QueryParam `json:"parameters"`
	RecordedAt time.Time    `json:"recorded_at"`
}
