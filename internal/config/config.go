// Package config loads the enumerated configuration surface governing
// model routing, retry/parallelism bounds, tool trust, identity,
// telemetry, and privacy (spec §9 "Configuration surface is enumerated").
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lbliii/sunwell/internal/tools"
)

// defaultRetryLimit and defaultParallelismCap mirror execution.Manager's
// own defaults so a missing config section is equivalent to omitting it
// (spec §9).
const (
	defaultRetryLimit     = 2
	defaultParallelismCap = 4
)

type (
	// Config is the full enumerated surface (spec §9): model_routing.*,
	// retry_limit, parallelism_cap, trust_level, identity.*, telemetry.*,
	// privacy.*. Unknown keys are rejected at load.
	Config struct {
		ModelRouting   ModelRoutingConfig `yaml:"model_routing"`
		RetryLimit     int                `yaml:"retry_limit"`
		ParallelismCap int                `yaml:"parallelism_cap"`
		TrustLevel     string             `yaml:"trust_level"`
		Identity       IdentityConfig     `yaml:"identity"`
		Telemetry      TelemetryConfig    `yaml:"telemetry"`
		Privacy        PrivacyConfig      `yaml:"privacy"`
	}

	// ModelRoutingConfig toggles Lens-driven model selection and lists
	// per-category overrides (spec §4.3, §9).
	ModelRoutingConfig struct {
		Enabled     bool              `yaml:"enabled"`
		Preferences map[string]string `yaml:"preferences"`
	}

	// IdentityConfig toggles the identity tracker (spec §4.10, §9).
	IdentityConfig struct {
		Enabled bool `yaml:"enabled"`
	}

	// TelemetryConfig toggles event emission beyond local logging (spec §9).
	TelemetryConfig struct {
		Enabled bool `yaml:"enabled"`
	}

	// PrivacyConfig constrains what leaves the local machine (spec §9).
	PrivacyConfig struct {
		LocalOnly bool     `yaml:"local_only"`
		KeepLocal []string `yaml:"keep_local"`
	}
)

// Default returns a Config with every documented default applied (spec
// §9): model routing and identity and telemetry enabled, retry_limit 2,
// parallelism_cap 4, trust_level read_only, privacy off.
func Default() Config {
	return Config{
		ModelRouting:   ModelRoutingConfig{Enabled: true},
		RetryLimit:     defaultRetryLimit,
		ParallelismCap: defaultParallelismCap,
		TrustLevel:     "read_only",
		Identity:       IdentityConfig{Enabled: true},
		Telemetry:      TelemetryConfig{Enabled: true},
	}
}

// Load reads and strictly decodes a config file at path, rejecting
// unknown keys (spec §9 "unknown keys MUST be rejected at load"),
// starting from Default() so an omitted section keeps its default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// Trust resolves the configured trust_level string into a
// tools.TrustLevel, defaulting to TrustReadOnly for an unrecognised or
// empty value.
func (c Config) Trust() tools.TrustLevel {
	switch c.TrustLevel {
	case "workspace":
		return tools.TrustWorkspace
	case "shell":
		return tools.TrustShell
	default:
		return tools.TrustReadOnly
	}
}

// IsLocalOnly reports whether field should stay on the local machine
// under the configured privacy policy (spec §9 "privacy.local_only,
// privacy.keep_local[]"). When LocalOnly is false, nothing is kept local;
// when true, exactly the fields listed in KeepLocal are kept local and
// every other field may leave.
func (c Config) IsLocalOnly(field string) bool {
	if !c.Privacy.LocalOnly {
		return false
	}
	for _, f := range c.Privacy.KeepLocal {
		if f == field {
			return true
		}
	}
	return false
}
