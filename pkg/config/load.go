package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/ewoutp/kiruna/pkg/log"
)

const (
	// EnvConfigPath overrides the manifest location.
	EnvConfigPath = "KIRUNA_CONF"

	// DefaultPath is the manifest file looked up in the working directory.
	DefaultPath = "kiruna.conf"
)

// Path returns the manifest path from the environment or the default.
func Path() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultPath
}

// rawConfig is the manifest shape before defaults merging. Service entries
// stay untyped so Defaults can be merged underneath them.
type rawConfig struct {
	Variables    map[string]string
	Defaults     map[string]any
	Services     map[string]map[string]any
	Registration Registration
	Logging      Logging
}

// Load reads, expands, merges, and validates the manifest at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a manifest from its JSON bytes.
func Parse(data []byte) (*Config, error) {
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	vars := stringMap(tree["Variables"])
	resolved, err := resolveVariables(vars)
	if err != nil {
		return nil, err
	}
	if _, err := expandTree(tree, resolved); err != nil {
		return nil, err
	}

	// Round-trip the expanded tree through JSON into the typed shape.
	expanded, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode manifest: %w", err)
	}
	var raw rawConfig
	if err := json.Unmarshal(expanded, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	cfg := &Config{
		Variables:    resolved,
		Registration: raw.Registration,
		Logging:      raw.Logging,
	}
	if raw.Logging.Loggly.Token != "" {
		log.Component("config").Warn().Msg("Loggly output is not supported, only console logging is active")
	}

	for name, entry := range raw.Services {
		spec, err := decodeService(name, mergeMaps(raw.Defaults, entry))
		if err != nil {
			return nil, err
		}
		cfg.Services = append(cfg.Services, spec)
	}
	sort.Slice(cfg.Services, func(i, j int) bool {
		return cfg.Services[i].Name < cfg.Services[j].Name
	})

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeService(name string, entry map[string]any) (ServiceSpec, error) {
	buf, err := json.Marshal(entry)
	if err != nil {
		return ServiceSpec{}, fmt.Errorf("service %s: %w", name, err)
	}
	var spec ServiceSpec
	if err := json.Unmarshal(buf, &spec); err != nil {
		return ServiceSpec{}, fmt.Errorf("service %s: %w", name, err)
	}
	spec.Name = name
	if spec.Scale == 0 {
		spec.Scale = 1
	}
	return spec, nil
}

// mergeMaps deep-merges entry over defaults. Nested maps merge key-wise;
// any other value in entry wins outright.
func mergeMaps(defaults, entry map[string]any) map[string]any {
	if len(defaults) == 0 {
		return entry
	}
	out := make(map[string]any, len(defaults)+len(entry))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range entry {
		if base, ok := out[k].(map[string]any); ok {
			if override, ok := v.(map[string]any); ok {
				out[k] = mergeMaps(base, override)
				continue
			}
		}
		out[k] = v
	}
	return out
}

func (c *Config) validate() error {
	byName := make(map[string]bool, len(c.Services))
	for _, s := range c.Services {
		byName[s.Name] = true
	}
	for i := range c.Services {
		s := &c.Services[i]
		if s.Image == "" {
			return fmt.Errorf("service %s: Image is required", s.Name)
		}
		if s.Tag == "" {
			return fmt.Errorf("service %s: Tag is required", s.Name)
		}
		if s.Scale < 1 {
			return fmt.Errorf("service %s: Scale must be at least 1", s.Name)
		}
		for _, dep := range s.DependencyNames() {
			if dep == s.Name {
				return fmt.Errorf("service %s depends on itself", s.Name)
			}
			if !byName[dep] {
				return fmt.Errorf("service %s depends on unknown service %s", s.Name, dep)
			}
		}
	}
	return nil
}

// Service returns the spec for name, or nil.
func (c *Config) Service(name string) *ServiceSpec {
	for i := range c.Services {
		if c.Services[i].Name == name {
			return &c.Services[i]
		}
	}
	return nil
}

func stringMap(v any) map[string]string {
	out := map[string]string{}
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}
