// Package config loads the ragnos.yaml definition: provider blocks, tenant
// routing tables and service tuning. The file is schema-validated before it
// is decoded so misconfigurations surface with field paths instead of
// half-built runtime objects.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the only definition version this build reads.
const CurrentVersion = 1

const definitionSchema = `{
	"type": "object",
	"properties": {
		"version": {"type": "integer", "minimum": 1, "maximum": 1},
		"providers": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"properties": {
					"type": {"type": "string", "minLength": 1},
					"timeout_ms": {"type": "integer", "minimum": 0}
				},
				"required": ["type"]
			}
		},
		"tenants": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"additionalProperties": {
					"type": "object",
					"properties": {
						"region": {"type": "string"},
						"weight": {"type": "integer", "minimum": 1}
					},
					"additionalProperties": false
				}
			}
		},
		"registry": {
			"type": "object",
			"properties": {
				"health_interval": {"type": "string"},
				"max_failures": {"type": "integer", "minimum": 1},
				"circuit_breaker_timeout": {"type": "string"}
			},
			"additionalProperties": false
		},
		"vault": {
			"type": "object",
			"properties": {
				"key_cache_ttl": {"type": "string"},
				"keyring_dsn": {"type": "string"},
				"keyring_driver": {"type": "string"}
			},
			"additionalProperties": false
		}
	},
	"required": ["version"],
	"additionalProperties": false
}`

// Definition is the parsed ragnos.yaml.
type Definition struct {
	Version   int                           `yaml:"version"`
	Providers map[string]ProviderBlock      `yaml:"providers"`
	Tenants   map[string]map[string]Mapping `yaml:"tenants"`
	Registry  RegistrySettings              `yaml:"registry"`
	Vault     VaultSettings                 `yaml:"vault"`
}

// ProviderBlock names a provider type and carries its adapter-specific
// settings inline.
type ProviderBlock struct {
	Type      string         `yaml:"type"`
	TimeoutMs int            `yaml:"timeout_ms"`
	Config    map[string]any `yaml:",inline"`
}

// Timeout converts the block's timeout_ms; zero means the registry default.
func (b ProviderBlock) Timeout() time.Duration {
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// Mapping assigns one provider to a tenant with routing weight.
type Mapping struct {
	Region string `yaml:"region"`
	Weight int    `yaml:"weight"`
}

// RegistrySettings tunes health checking and the circuit breaker.
type RegistrySettings struct {
	HealthInterval        Duration `yaml:"health_interval"`
	MaxFailures           int      `yaml:"max_failures"`
	CircuitBreakerTimeout Duration `yaml:"circuit_breaker_timeout"`
}

// VaultSettings tunes the envelope encryption service.
type VaultSettings struct {
	KeyCacheTTL   Duration `yaml:"key_cache_ttl"`
	KeyringDSN    string   `yaml:"keyring_dsn"`
	KeyringDriver string   `yaml:"keyring_driver"`
}

// Duration decodes YAML strings like "30s" or "15m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads, expands, validates and parses a definition file. Environment
// references of the form ${VAR} are expanded before parsing so credentials
// can stay out of the file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse validates and decodes definition bytes.
func Parse(data []byte) (*Definition, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validate(raw); err != nil {
		return nil, err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if def.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d, want %d", def.Version, CurrentVersion)
	}
	for tenant, mappings := range def.Tenants {
		for name := range mappings {
			if _, ok := def.Providers[name]; !ok {
				return nil, fmt.Errorf("tenant %q maps unknown provider %q", tenant, name)
			}
		}
	}
	return &def, nil
}

// validate runs the JSON schema over the YAML document. YAML decodes map
// keys as any, so the document is round-tripped through JSON first.
func validate(raw any) error {
	doc, err := json.Marshal(normalize(raw))
	if err != nil {
		return fmt.Errorf("normalize config: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(definitionSchema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func normalize(v any) any {
	switch val := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[fmt.Sprint(k)] = normalize(inner)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[k] = normalize(inner)
		}
		return m
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalize(inner)
		}
		return out
	default:
		return v
	}
}
