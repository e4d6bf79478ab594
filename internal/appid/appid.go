// Package appid holds the application identity shared by the CLI, config
// loader and HTTP handlers.
package appid

import (
	"context"

	"github.com/fulmenhq/gofulmen/appidentity"
)

const (
	BinaryName  = "keyrelay"
	EnvPrefix   = "KEYRELAY_"
	ConfigName  = "keyrelay"
	Description = "API credential issuance with a rate-limited per-credential query proxy"
)

// Get returns the compiled-in identity. The context is accepted so callers can
// swap in a discovered identity later without changing signatures.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &appidentity.Identity{
		BinaryName:  BinaryName,
		EnvPrefix:   EnvPrefix,
		ConfigName:  ConfigName,
		Description: Description,
	}, nil
}
