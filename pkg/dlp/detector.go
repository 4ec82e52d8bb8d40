package dlp

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/prescritto-ai/platform/pkg/common/models"
)

// maxRedactionPasses bounds the fixpoint loop in redact; one pass is enough for every
// input seen so far, the extra passes catch matches exposed by a previous replacement.
const maxRedactionPasses = 5

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

type Detector struct {
	rules   []compiledRule
	piiKeys map[string]struct{}
}

var defaultDetector = MustNewDetector(DefaultRules())

func NewDetector(cfg RulesConfig) (*Detector, error) {
	var compiled []compiledRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.Name, err)
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}

	keys := cfg.PIIKeys
	if len(keys) == 0 {
		keys = DefaultPIIKeys
	}
	piiKeys := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		piiKeys[normalizeKey(key)] = struct{}{}
	}
	return &Detector{rules: compiled, piiKeys: piiKeys}, nil
}

func MustNewDetector(cfg RulesConfig) *Detector {
	d, err := NewDetector(cfg)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Detector) orDefault() *Detector {
	if d == nil {
		return defaultDetector
	}
	return d
}

// IsPIIKey reports whether key names an identifying field.
func (d *Detector) IsPIIKey(key string) bool {
	_, ok := d.orDefault().piiKeys[normalizeKey(key)]
	return ok
}

// Detect reports pattern matches and PII keys anywhere in data, including nested maps and lists.
func (d *Detector) Detect(data map[string]interface{}) models.PHIDetectionResult {
	d = d.orDefault()

	var positions []models.PHIPosition
	phiTypes := make(map[string]struct{})
	suggestionSet := make(map[string]struct{})
	keySet := make(map[string]struct{})

	var recurse func(key string, value interface{})
	recurse = func(key string, value interface{}) {
		if d.IsPIIKey(key) {
			keySet[key] = struct{}{}
		}
		switch v := value.(type) {
		case nil:
		case string:
			detectInText(v, d.rules, phiTypes, suggestionSet, &positions)
		case map[string]interface{}:
			for nestedKey, nestedVal := range v {
				recurse(nestedKey, nestedVal)
			}
		case []interface{}:
			for _, nestedVal := range v {
				recurse("", nestedVal)
			}
		case []string:
			for _, nestedVal := range v {
				detectInText(nestedVal, d.rules, phiTypes, suggestionSet, &positions)
			}
		default:
			text := strings.TrimSpace(convertToString(v))
			if text == "" {
				return
			}
			detectInText(text, d.rules, phiTypes, suggestionSet, &positions)
		}
	}

	for key, value := range data {
		recurse(key, value)
	}

	result := models.PHIDetectionResult{
		Detected:   len(positions) > 0 || len(keySet) > 0,
		Confidence: confidenceScore(len(positions) + len(keySet)),
		PHITypes:   sortedKeys(phiTypes),
		Positions:  positions,
	}
	if len(keySet) > 0 {
		result.PIIKeys = sortedKeys(keySet)
	}
	if len(suggestionSet) > 0 {
		result.Suggestions = sortedKeys(suggestionSet)
	}

	return result
}

func detectInText(text string, rules []compiledRule, phiTypes map[string]struct{}, suggestions map[string]struct{}, positions *[]models.PHIPosition) {
	for _, rule := range rules {
		matches := rule.re.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		phiTypes[rule.rule.Type] = struct{}{}
		suggestions[rule.rule.Mask] = struct{}{}
		for _, match := range matches {
			*positions = append(*positions, models.PHIPosition{
				Start: match[0],
				End:   match[1],
				Type:  rule.rule.Type,
				Value: text[match[0]:match[1]],
			})
		}
	}
}

// Sanitize returns a copy of data with PII keys removed at every depth and all string values redacted.
func (d *Detector) Sanitize(data map[string]interface{}) map[string]interface{} {
	d = d.orDefault()

	copyMap := make(map[string]interface{}, len(data))
	for key, value := range data {
		if d.IsPIIKey(key) {
			continue
		}
		copyMap[key] = d.sanitizeValue(value)
	}
	return copyMap
}

// SanitizeText redacts a single free-text value.
func (d *Detector) SanitizeText(text string) string {
	return d.orDefault().redact(text)
}

func (d *Detector) sanitizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return d.redact(v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, nested := range v {
			if d.IsPIIKey(k) {
				continue
			}
			out[k] = d.sanitizeValue(nested)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, nested := range v {
			out[i] = d.sanitizeValue(nested)
		}
		return out
	case []string:
		out := make([]interface{}, len(v))
		for i, nested := range v {
			out[i] = d.redact(nested)
		}
		return out
	case bool:
		return v
	default:
		text := convertToString(v)
		if redacted := d.redact(text); redacted != text {
			return redacted
		}
		return value
	}
}

func (d *Detector) redact(text string) string {
	masked := text
	for pass := 0; pass < maxRedactionPasses; pass++ {
		before := masked
		for _, rule := range d.rules {
			masked = rule.re.ReplaceAllLiteralString(masked, rule.rule.Mask)
		}
		if masked == before {
			break
		}
	}
	return masked
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func convertToString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case float64:
		return fmt.Sprintf("%.0f", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func confidenceScore(count int) float64 {
	switch {
	case count == 0:
		return 0
	case count == 1:
		return 0.7
	case count == 2:
		return 0.85
	default:
		return 0.95
	}
}
