package tls

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RuleConfig is the YAML structure for a ClientHello filter list: a set of
// SNI or JA3 patterns that select which flows dissect should report and
// attempt to decrypt.
type RuleConfig struct {
	Rules []*Rule `yaml:"rules"`
}

// Rule matches a ClientHello by hostname suffix and/or JA3 fingerprint.
// A Rule with an empty SNI and JA3 matches nothing.
type Rule struct {
	ID   string `yaml:"id"`
	SNI  string `yaml:"sni,omitempty"`
	JA3  string `yaml:"ja3,omitempty"`
	Deny bool   `yaml:"deny,omitempty"`
}

// LoadRules reads a RuleConfig from a YAML file.
func LoadRules(path string) (*RuleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var config RuleConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	for _, r := range config.Rules {
		if r.SNI == "" && r.JA3 == "" {
			return nil, fmt.Errorf("rule %q has neither sni nor ja3 set", r.ID)
		}
	}

	return &config, nil
}

// Allows reports whether ch passes the rule set: it matches when no deny
// rule fires. An empty rule set allows everything.
func (c *RuleConfig) Allows(ch *ClientHello) bool {
	if c == nil || len(c.Rules) == 0 {
		return true
	}

	sni, _ := GetSNI(ch)
	ja3, _ := JA3(ch)

	for _, r := range c.Rules {
		if !r.Deny {
			continue
		}
		if r.SNI != "" && strings.HasSuffix(sni, r.SNI) {
			return false
		}
		if r.JA3 != "" && r.JA3 == ja3 {
			return false
		}
	}

	return true
}
