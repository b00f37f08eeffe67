package insight

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/harrier/internal/domain"
)

//go:embed rules/default.yaml
var defaultPack []byte

// rulePack is the YAML document holding an ordered rule list.
type rulePack struct {
	Rules []yaml.Node `yaml:"rules"`
}

// DefaultRules returns the built-in rule pack.
func DefaultRules() ([]*domain.RuleConfig, error) {
	return ParseRulePack(defaultPack)
}

// LoadRulePack reads a rule pack file. An empty path returns the built-in pack.
func LoadRulePack(path string) ([]*domain.RuleConfig, error) {
	if path == "" {
		return DefaultRules()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules pack: %w", err)
	}
	rules, err := ParseRulePack(b)
	if err != nil {
		return nil, fmt.Errorf("rules pack %s: %w", path, err)
	}
	return rules, nil
}

// ParseRulePack decodes a YAML rule pack, keeping declaration order.
func ParseRulePack(b []byte) ([]*domain.RuleConfig, error) {
	var pack rulePack
	if err := yaml.Unmarshal(b, &pack); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %w", ErrInvalidRule, err)
	}

	rules := make([]*domain.RuleConfig, 0, len(pack.Rules))
	for i := range pack.Rules {
		// Rules are enabled unless the pack says otherwise.
		cfg := &domain.RuleConfig{Enabled: true}
		err := pack.Rules[i].Decode(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d: %w", ErrInvalidRule, i+1, err)
		}
		cfg.ID = strings.TrimSpace(cfg.ID)
		if cfg.GroupBy, err = normalizeDimensions(cfg.GroupBy); err != nil {
			return nil, fmt.Errorf("%w: rule %s: %w", ErrInvalidRule, cfg.ID, err)
		}
		if cfg.Requires, err = normalizeDimensions(cfg.Requires); err != nil {
			return nil, fmt.Errorf("%w: rule %s: %w", ErrInvalidRule, cfg.ID, err)
		}
		if len(cfg.Actions) > 0 {
			actions := make(map[string]string, len(cfg.Actions))
			for k, v := range cfg.Actions {
				actions[strings.ToLower(strings.TrimSpace(k))] = v
			}
			cfg.Actions = actions
		}
		rules = append(rules, cfg)
	}
	return rules, nil
}

func normalizeDimensions(dims []domain.Dimension) ([]domain.Dimension, error) {
	if len(dims) == 0 {
		return nil, nil
	}
	out := make([]domain.Dimension, len(dims))
	for i, d := range dims {
		parsed, err := domain.ParseDimension(string(d))
		if err != nil {
			return nil, err
		}
		out[i] = parsed
	}
	return out, nil
}
