// Package proxy turns a credential into a Definition and serves definitions
// through one generic handler that checks the key, records usage and
// forwards the query upstream.
package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition is everything needed to serve one credential's proxy. It is the
// artifact users download and feed to `keyrelay proxy --definition`.
type Definition struct {
	Name            string        `yaml:"name" json:"name"`
	APIKey          string        `yaml:"api_key" json:"api_key"`
	UpstreamBaseURL string        `yaml:"upstream_base_url" json:"upstream_base_url"`
	StripParams     []string      `yaml:"strip_params" json:"strip_params"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	MaxConcurrent   int           `yaml:"max_concurrent" json:"max_concurrent"`
	RatePerSecond   float64       `yaml:"rate_per_second,omitempty" json:"rate_per_second,omitempty"`
	Burst           int           `yaml:"burst,omitempty" json:"burst,omitempty"`
	Endpoints       []string      `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
}

// Validate checks the fields the handler relies on.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("definition name is required")
	}
	if d.APIKey == "" {
		return errors.New("definition api_key is required")
	}
	parsed, err := url.Parse(d.UpstreamBaseURL)
	if err != nil {
		return fmt.Errorf("definition upstream_base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("definition upstream_base_url must be http or https, got %q", d.UpstreamBaseURL)
	}
	if d.MaxConcurrent < 0 || d.RatePerSecond < 0 || d.Burst < 0 {
		return errors.New("definition limits must not be negative")
	}
	return nil
}

// stripList returns the parameters removed before forwarding; api_key is
// always among them.
func (d Definition) stripList() []string {
	out := []string{"api_key"}
	for _, name := range d.StripParams {
		if name != "" && name != "api_key" {
			out = append(out, name)
		}
	}
	return out
}

// EncodeYAML writes the definition as YAML.
func (d Definition) EncodeYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encode definition: %w", err)
	}
	return enc.Close()
}

// DecodeDefinition reads and validates a YAML definition.
func DecodeDefinition(r io.Reader) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadDefinition reads a definition file.
func LoadDefinition(path string) (*Definition, error) {
	// #nosec G304 -- operator-supplied definition path
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open definition: %w", err)
	}
	defer f.Close() // nolint:errcheck // read-only file

	return DecodeDefinition(f)
}
