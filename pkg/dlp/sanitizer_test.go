package dlp

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fillerWords = []string{"febre", "dor", "garganta", "há", "3", "dias", "tosse", "38.5", "mg", "(", ")", "-", ".", ",", "@", "+"}

func randomDigits(r *rand.Rand, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(byte('0' + r.Intn(10)))
	}
	return b.String()
}

func randomPII(r *rand.Rand) string {
	switch r.Intn(6) {
	case 0:
		d := randomDigits(r, 11)
		return fmt.Sprintf("%s.%s.%s-%s", d[:3], d[3:6], d[6:9], d[9:])
	case 1:
		return randomDigits(r, 11)
	case 2:
		return fmt.Sprintf("user%s@hospital%d.com.br", randomDigits(r, 3), r.Intn(9))
	case 3:
		return fmt.Sprintf("+55 %s %s-%s", randomDigits(r, 2), randomDigits(r, 5), randomDigits(r, 4))
	case 4:
		return fmt.Sprintf("(%s) %s-%s", randomDigits(r, 2), randomDigits(r, 4), randomDigits(r, 4))
	default:
		return fmt.Sprintf("55%s%s", randomDigits(r, 2), randomDigits(r, 9))
	}
}

var gluePrefixes = []string{"", "", "prontuario_", "cpf", "tel:", "x"}

var glueSuffixes = []string{"", "", "_anexo", "abc", "."}

func randomText(r *rand.Rand) string {
	n := 3 + r.Intn(10)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if r.Intn(3) == 0 {
			pii := gluePrefixes[r.Intn(len(gluePrefixes))] + randomPII(r) + glueSuffixes[r.Intn(len(glueSuffixes))]
			parts = append(parts, pii)
			continue
		}
		parts = append(parts, fillerWords[r.Intn(len(fillerWords))])
	}
	sep := []string{" ", ", ", "; ", "\n"}[r.Intn(4)]
	return strings.Join(parts, sep)
}

// Unanchored forms of the identifiers that must never survive sanitization.
var leakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{3}\.?\d{3}\.?\d{3}-?\d{2}`),
	regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`),
	regexp.MustCompile(`\(\d{2}\)\s?\d{4,5}-?\d{4}`),
	regexp.MustCompile(`\+?\d{2}\s?\(?\d{2}\)?\s?\d{4,5}-?\d{4}`),
}

func TestSanitizeRemovesAllPIIPatterns(t *testing.T) {
	detector := MustNewDetector(DefaultRules())
	patterns := leakPatterns

	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		raw := map[string]interface{}{
			"sintomas":    randomText(r),
			"diagnostico": randomText(r),
			"historico": map[string]interface{}{
				"observacao":      randomText(r),
				"telefone":        randomPII(r),
				"alergias":        []interface{}{randomText(r), randomText(r)},
				"data_nascimento": "01/02/1980",
			},
			"cpf":   randomPII(r),
			"email": randomPII(r),
			"nome":  "Fulano de Tal",
		}

		out := detector.SanitizeContext(raw)
		encoded, err := json.Marshal(out)
		require.NoError(t, err)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(encoded, &decoded))

		walkStrings(decoded, func(key, value string) {
			assert.False(t, detector.IsPIIKey(key), "pii key %q survived", key)
			for _, re := range patterns {
				assert.False(t, re.MatchString(value), "pattern %s matched %q (iteration %d)", re, value, i)
			}
		})
		for _, key := range DefaultPIIKeys {
			_, present := decoded[key]
			assert.False(t, present, "key %s present", key)
		}
	}
}

func TestSanitizeRedactsIdentifiersGluedToWords(t *testing.T) {
	detector := MustNewDetector(DefaultRules())

	out := detector.SanitizeContext(map[string]interface{}{
		"sintomas": "febre alta; prontuario_123.456.789-09 anexo",
		"historico": map[string]interface{}{
			"obs": "cpf12345678909 contato ana@example.com, tel11987654321x",
		},
	})

	assert.Equal(t, "febre alta; prontuario_[CPF_REMOVIDO] anexo", out.Text("sintomas"))
	encoded, err := json.Marshal(out)
	require.NoError(t, err)
	for _, re := range leakPatterns {
		assert.False(t, re.Match(encoded), "pattern %s matched %s", re, encoded)
	}
}

func walkStrings(v interface{}, fn func(key, value string)) {
	var walk func(key string, v interface{})
	walk = func(key string, v interface{}) {
		switch val := v.(type) {
		case string:
			fn(key, val)
		case map[string]interface{}:
			for k, nested := range val {
				fn(k, "")
				walk(k, nested)
			}
		case []interface{}:
			for _, nested := range val {
				walk(key, nested)
			}
		}
	}
	walk("", v)
}

func TestSanitizedAccessors(t *testing.T) {
	detector := MustNewDetector(DefaultRules())
	raw := map[string]interface{}{
		"sintomas":    "  dor de garganta, ligar (11) 98765-4321 ou +55 11 98765-4321  ",
		"diagnostico": "Amigdalite",
		"idade":       float64(34),
		"nome":        "Maria",
	}

	out := detector.SanitizeContext(raw)

	assert.Equal(t, 3, out.Len())
	assert.Equal(t, "Amigdalite", out.Text("diagnostico"))
	assert.Equal(t, "34", out.Text("idade"))
	assert.Empty(t, out.Text("nome"))
	assert.Contains(t, out.Text("sintomas"), "[TEL_REMOVIDO]")
	assert.NotContains(t, out.Text("sintomas"), "98765-4321")

	fields := out.Fields()
	fields["sintomas"] = "mutated"
	assert.NotEqual(t, "mutated", out.Text("sintomas"))
}

func TestZeroSanitizedMarshalsEmptyObject(t *testing.T) {
	var s Sanitized
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestLoadRulesExtendsPIIKeys(t *testing.T) {
	path := t.TempDir() + "/rules.yaml"
	content := `rules:
  - name: CNS
    type: cns
    pattern: '\b\d{15}\b'
    mask: '[CNS_REMOVIDO]'
    enabled: true
    severity: high
pii_keys:
  - nome_mae
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadRules(path)
	require.NoError(t, err)
	detector := MustNewDetector(cfg)

	assert.True(t, detector.IsPIIKey("nome_mae"))
	assert.True(t, detector.IsPIIKey("cpf"))
	assert.Equal(t, "cartão [CNS_REMOVIDO]", detector.SanitizeText("cartão 123456789012345"))
}
