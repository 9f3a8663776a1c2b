package correction

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
	"github.com/kirillkom/thai-fin-ocr/internal/infrastructure/validation"
)

//go:embed rules/default.yaml
var defaultRulesYAML []byte

const rulesetSchema = `{
  "type": "object",
  "required": ["version", "rules"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["pattern", "replacement", "priority"],
        "properties": {
          "pattern": {"type": "string", "minLength": 1},
          "replacement": {"type": "string"},
          "regex": {"type": "boolean"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1},
          "frequency": {"type": "integer", "minimum": 0},
          "priority": {"enum": ["critical", "high", "medium", "low"]},
          "type": {"enum": ["duplication", "confusable_character", "abbreviation_punctuation", "segmentation"]}
        }
      }
    }
  }
}`

type rulesetFile struct {
	Version int                     `yaml:"version"`
	Rules   []domain.CorrectionRule `yaml:"rules"`
}

var compiledRulesetSchema = validation.MustCompileSchema("ruleset.json", rulesetSchema)

// DefaultRules returns the ruleset shipped with the binary.
func DefaultRules() ([]domain.CorrectionRule, error) {
	return ParseRules(defaultRulesYAML)
}

// LoadRules reads the embedded rules and, when path is set, appends the rules
// from that YAML file after them.
func LoadRules(path string) ([]domain.CorrectionRule, error) {
	rules, err := DefaultRules()
	if err != nil {
		return nil, fmt.Errorf("parse default rules: %w", err)
	}
	if strings.TrimSpace(path) == "" {
		return rules, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	extra, err := ParseRules(raw)
	if err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return append(rules, extra...), nil
}

// ParseRules validates a YAML ruleset document and decodes its rules.
func ParseRules(raw []byte) ([]domain.CorrectionRule, error) {
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse rules", err)
	}
	// The validator expects JSON-shaped values (float64 numbers, string keys).
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse rules", err)
	}
	var doc any
	decoder := json.NewDecoder(bytes.NewReader(asJSON))
	decoder.UseNumber()
	if err := decoder.Decode(&doc); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse rules", err)
	}
	if err := compiledRulesetSchema.Validate(doc); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "validate rules", err)
	}

	var file rulesetFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode rules", err)
	}
	return file.Rules, nil
}
