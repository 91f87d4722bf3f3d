package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// XtreamConfig describes a templated Xtream-style provider API.
// All three fields are required when the block is present.
type XtreamConfig struct {
	ServerURL string `yaml:"server_url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// ProviderConfig is one upstream provider definition from the registry file.
type ProviderConfig struct {
	Name            string        `yaml:"name"`
	Tier            int           `yaml:"tier"`
	Capacity        int           `yaml:"capacity"`
	PlaylistURL     string        `yaml:"playlist_url"`
	Xtream          *XtreamConfig `yaml:"xtream"`
	AllowFuzzyMatch bool          `yaml:"allow_fuzzy_match"`

	// ProbeTimeout overrides the global health probe timeout for this
	// provider. Zero means use the global value.
	ProbeTimeout Duration `yaml:"probe_timeout"`
}

// ProvidersFile is the top-level structure of the provider registry file.
type ProvidersFile struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// LoadProvidersFile reads and validates the YAML provider registry.
// Any invalid definition is fatal: the caller must not start with a
// partially valid provider set.
func LoadProvidersFile(path string) (*ProvidersFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file %s: %w", path, err)
	}
	return ParseProviders(data)
}

// ParseProviders parses and validates provider definitions.
func ParseProviders(data []byte) (*ProvidersFile, error) {
	var pf ProvidersFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}

	var errs []string
	if len(pf.Providers) == 0 {
		errs = append(errs, "at least one provider must be defined")
	}

	seen := make(map[string]bool, len(pf.Providers))
	for i := range pf.Providers {
		p := &pf.Providers[i]
		prefix := fmt.Sprintf("provider[%d]", i)
		if p.Name != "" {
			prefix = fmt.Sprintf("provider %q", p.Name)
		}

		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, prefix+": name must not be empty")
		} else if seen[p.Name] {
			errs = append(errs, prefix+": duplicate name")
		}
		seen[p.Name] = true

		if p.Tier < 0 {
			errs = append(errs, fmt.Sprintf("%s: tier must be non-negative, got %d", prefix, p.Tier))
		}
		if p.Capacity <= 0 {
			errs = append(errs, fmt.Sprintf("%s: capacity must be positive, got %d", prefix, p.Capacity))
		}

		if p.Xtream == nil && p.PlaylistURL == "" {
			errs = append(errs, prefix+": one of xtream or playlist_url is required")
		}
		if p.PlaylistURL != "" {
			if err := validateHTTPURL(p.PlaylistURL); err != nil {
				errs = append(errs, fmt.Sprintf("%s: playlist_url: %v", prefix, err))
			}
		}
		if p.ProbeTimeout < 0 {
			errs = append(errs, prefix+": probe_timeout must not be negative")
		}
		if p.Xtream != nil {
			if err := validateHTTPURL(p.Xtream.ServerURL); err != nil {
				errs = append(errs, fmt.Sprintf("%s: xtream.server_url: %v", prefix, err))
			}
			if p.Xtream.Username == "" || p.Xtream.Password == "" {
				errs = append(errs, prefix+": xtream credentials are incomplete (username and password required)")
			}
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("provider validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return &pf, nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return nil
}
