package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keyrelay/keyrelay/internal/core"
	"github.com/keyrelay/keyrelay/internal/core/issuer"
)

// CredentialLister lists an owner's credentials in issuance order.
type CredentialLister interface {
	ListCredentialsByOwner(ctx context.Context, owner string) ([]core.Credential, error)
}

// Generator materializes definitions and catalogs for credentials.
type Generator struct {
	UpstreamBaseURL string
	Timeout         time.Duration
	MaxConcurrent   int
	RatePerSecond   float64
	Burst           int
	Endpoints       []string
	ExampleEndpoint string
	ExampleQuery    string
	Credentials     CredentialLister
}

// Materialize returns the proxy definition bound to cred.
func (g *Generator) Materialize(cred core.Credential) Definition {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	return Definition{
		Name:            cred.Name,
		APIKey:          cred.Key,
		UpstreamBaseURL: strings.TrimRight(g.UpstreamBaseURL, "/"),
		StripParams:     []string{"api_key"},
		Timeout:         timeout,
		MaxConcurrent:   g.MaxConcurrent,
		RatePerSecond:   g.RatePerSecond,
		Burst:           g.Burst,
		Endpoints:       append([]string(nil), g.Endpoints...),
	}
}

// CatalogEntry is one credential in an export-all listing.
type CatalogEntry struct {
	Name         string `json:"api_name" yaml:"api_name"`
	Key          string `json:"api_key" yaml:"api_key"`
	BaseURL      string `json:"base_url" yaml:"base_url"`
	ExampleUsage string `json:"example_usage_url" yaml:"example_usage_url"`
}

// Catalog lists every credential an owner holds.
type Catalog struct {
	Owner   string         `json:"owner_identity" yaml:"owner_identity"`
	Entries []CatalogEntry `json:"credentials" yaml:"credentials"`
}

// MaterializeCatalog builds the listing for owner from the credential store.
func (g *Generator) MaterializeCatalog(ctx context.Context, owner string) (*Catalog, error) {
	if g == nil || g.Credentials == nil {
		return nil, errors.New("catalog generator is not configured")
	}

	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, core.ErrOwnerRequired
	}

	creds, err := g.Credentials.ListCredentialsByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	return g.CatalogFor(owner, creds), nil
}

// CatalogFor builds a listing from already-loaded credentials.
func (g *Generator) CatalogFor(owner string, creds []core.Credential) *Catalog {
	catalog := &Catalog{Owner: owner, Entries: make([]CatalogEntry, 0, len(creds))}
	for _, cred := range creds {
		base := strings.TrimRight(g.UpstreamBaseURL, "/") + issuer.BaseURL(cred.Name)
		catalog.Entries = append(catalog.Entries, CatalogEntry{
			Name:         cred.Name,
			Key:          cred.Key,
			BaseURL:      base,
			ExampleUsage: issuer.ExampleURL(base, g.exampleEndpoint(), cred.Key, g.exampleQuery()),
		})
	}
	return catalog
}

// Catalog render formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Render encodes the catalog and returns the bytes, the content type and the
// file extension for the format.
func (c *Catalog) Render(format string) ([]byte, string, string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText, "txt":
		return c.renderText(), "text/plain; charset=utf-8", "txt", nil
	case FormatJSON:
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return nil, "", "", fmt.Errorf("encode catalog: %w", err)
		}
		return append(data, '\n'), "application/json", "json", nil
	case FormatYAML, "yml":
		data, err := yaml.Marshal(c)
		if err != nil {
			return nil, "", "", fmt.Errorf("encode catalog: %w", err)
		}
		return data, "application/yaml", "yaml", nil
	default:
		return nil, "", "", fmt.Errorf("unsupported catalog format %q", format)
	}
}

func (c *Catalog) renderText() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# keyrelay credentials for %s\n\n", c.Owner)
	for _, entry := range c.Entries {
		fmt.Fprintf(&b, "# %s\n", strings.ToUpper(entry.Name))
		fmt.Fprintf(&b, "API Name: %s\n", entry.Name)
		fmt.Fprintf(&b, "API Key: %s\n", entry.Key)
		fmt.Fprintf(&b, "Base URL: %s\n", entry.BaseURL)
		fmt.Fprintf(&b, "Example: %s\n\n", entry.ExampleUsage)
	}
	return b.Bytes()
}

func (g *Generator) exampleEndpoint() string {
	if strings.TrimSpace(g.ExampleEndpoint) != "" {
		return strings.TrimSpace(g.ExampleEndpoint)
	}
	return issuer.DefaultExampleEndpoint
}

func (g *Generator) exampleQuery() string {
	if strings.TrimSpace(g.ExampleQuery) != "" {
		return strings.TrimSpace(g.ExampleQuery)
	}
	return issuer.DefaultExampleQuery
}
