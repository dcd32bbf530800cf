package policy

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/opsdesk/internal/models"
)

// Config holds the tunable parts of the approval policy. Only the shape of the
// rules is fixed; the numbers and checkpoint lists are configuration.
type Config struct {
	// RepeatRejectionThreshold: approving when the client already has at least
	// this many rejections for the same checkpoint type raises an escalation.
	RepeatRejectionThreshold int `yaml:"repeat_rejection_threshold"`

	// RationaleRequired lists checkpoint types whose rejection needs comments.
	RationaleRequired []models.CheckpointType `yaml:"rationale_required"`

	// RationaleEscalationLevel is the level raised when a rejection without
	// rationale is attempted on a client-facing checkpoint.
	RationaleEscalationLevel models.EscalationLevel `yaml:"rationale_escalation_level"`

	// RepeatEscalationLevel is the level raised for repeated overturns.
	RepeatEscalationLevel models.EscalationLevel `yaml:"repeat_escalation_level"`
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		RepeatRejectionThreshold: 2,
		RationaleRequired:        []models.CheckpointType{models.CheckpointProposalReview},
		RationaleEscalationLevel: models.LevelL1,
		RepeatEscalationLevel:    models.LevelL2,
	}
}

// Validate checks that every configured value is usable.
func (c Config) Validate() error {
	if c.RepeatRejectionThreshold < 1 {
		return fmt.Errorf("repeat_rejection_threshold must be >= 1, got %d", c.RepeatRejectionThreshold)
	}
	for _, cp := range c.RationaleRequired {
		if !cp.Valid() {
			return fmt.Errorf("rationale_required: unknown checkpoint type %q", cp)
		}
	}
	if !c.RationaleEscalationLevel.Valid() {
		return fmt.Errorf("rationale_escalation_level: unknown level %q", c.RationaleEscalationLevel)
	}
	if !c.RepeatEscalationLevel.Valid() {
		return fmt.Errorf("repeat_escalation_level: unknown level %q", c.RepeatEscalationLevel)
	}
	return nil
}

func (c Config) requiresRationale(cp models.CheckpointType) bool {
	for _, r := range c.RationaleRequired {
		if r == cp {
			return true
		}
	}
	return false
}

// LoadConfig reads a YAML policy file, expanding env vars. An empty path or a
// missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("policy config: read %s: %w", path, err)
	}
	return LoadConfigBytes(raw)
}

// LoadConfigBytes parses a YAML policy document. Unset fields keep defaults.
func LoadConfigBytes(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return Config{}, fmt.Errorf("policy config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("policy config: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR_NAME} and $VAR_NAME.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "${")
		name = strings.TrimSuffix(name, "}")
		name = strings.TrimPrefix(name, "$")
		return os.Getenv(name)
	})
}
