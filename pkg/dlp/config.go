package dlp

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Rule struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Pattern  string `yaml:"pattern" json:"pattern"`
	Mask     string `yaml:"mask" json:"mask"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Severity string `yaml:"severity" json:"severity"`
}

// RulesConfig holds the redaction rules and the keys dropped outright from a context map.
// PIIKeys listed in a rules file extend the defaults, they never replace them.
type RulesConfig struct {
	Rules   []Rule   `yaml:"rules" json:"rules"`
	PIIKeys []string `yaml:"pii_keys" json:"pii_keys"`
}

// DefaultPIIKeys are the identifying fields never allowed past the sanitizer.
var DefaultPIIKeys = []string{
	"nome",
	"nome_completo",
	"cpf",
	"rg",
	"email",
	"telefone",
	"endereco",
	"data_nascimento",
}

func LoadRules(path string) (RulesConfig, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultRules(), err
	}

	var cfg RulesConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return RulesConfig{}, err
	}

	if len(cfg.Rules) == 0 {
		return RulesConfig{}, errors.New("no DLP rules configured")
	}
	cfg.PIIKeys = append(append([]string{}, DefaultPIIKeys...), cfg.PIIKeys...)

	return cfg, nil
}

// DefaultRules is the built-in rule set. Patterns are unanchored so identifiers glued to words or
// underscores are still caught.
func DefaultRules() RulesConfig {
	return RulesConfig{
		Rules: []Rule{
			{Name: "CPF", Type: "cpf", Pattern: `\d{3}\.?\d{3}\.?\d{3}-?\d{2}`, Mask: "[CPF_REMOVIDO]", Enabled: true, Severity: "high"},
			{Name: "Email", Type: "email", Pattern: `[\w\.-]+@[\w\.-]+\.\w+`, Mask: "[EMAIL_REMOVIDO]", Enabled: true, Severity: "medium"},
			{Name: "Phone", Type: "phone", Pattern: `\+?\d{2}\s?\(?\d{2}\)?\s?\d{4,5}-?\d{4}`, Mask: "[TEL_REMOVIDO]", Enabled: true, Severity: "medium"},
			{Name: "PhoneLocal", Type: "phone", Pattern: `\(\d{2}\)\s?\d{4,5}-?\d{4}`, Mask: "[TEL_REMOVIDO]", Enabled: true, Severity: "medium"},
		},
		PIIKeys: append([]string{}, DefaultPIIKeys...),
	}
}
