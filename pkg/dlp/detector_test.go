package dlp

import "testing"

func TestDetectorDetectsPatterns(t *testing.T) {
	rules := DefaultRules()
	detector, err := NewDetector(rules)
	if err != nil {
		t.Fatalf("failed to create detector: %v", err)
	}

	data := map[string]interface{}{
		"sintomas": "Paciente CPF 123.456.789-09 relata febre, contato joao.silva@example.com",
		"nested":   map[string]interface{}{"contato": "+55 11 98765-4321"},
	}

	result := detector.Detect(data)
	if !result.Detected {
		t.Fatal("expected PII detection")
	}
	if len(result.PHITypes) != 3 {
		t.Fatalf("expected cpf, email and phone, got %v", result.PHITypes)
	}

	sanitized := detector.Sanitize(data)
	note := sanitized["sintomas"].(string)
	if note == data["sintomas"].(string) {
		t.Fatal("expected sanitized note to differ from original")
	}
	if want := "Paciente CPF [CPF_REMOVIDO] relata febre, contato [EMAIL_REMOVIDO]"; note != want {
		t.Fatalf("unexpected redaction: %q", note)
	}
}

func TestDetectorFlagsPIIKeys(t *testing.T) {
	detector := MustNewDetector(DefaultRules())

	result := detector.Detect(map[string]interface{}{
		"historico": map[string]interface{}{"Nome_Completo": "Maria"},
		"sintomas":  "tosse seca",
	})
	if !result.Detected {
		t.Fatal("expected PII key detection")
	}
	if len(result.PIIKeys) != 1 || result.PIIKeys[0] != "Nome_Completo" {
		t.Fatalf("unexpected pii keys %v", result.PIIKeys)
	}
	if len(result.Positions) != 0 {
		t.Fatalf("expected no pattern matches, got %v", result.Positions)
	}
}

func TestDetectorDisabledRuleIgnored(t *testing.T) {
	cfg := DefaultRules()
	for i := range cfg.Rules {
		if cfg.Rules[i].Type == "email" {
			cfg.Rules[i].Enabled = false
		}
	}
	detector := MustNewDetector(cfg)

	out := detector.SanitizeText("ana@example.com")
	if out != "ana@example.com" {
		t.Fatalf("disabled email rule still applied: %q", out)
	}
}

func TestNilDetectorUsesDefaults(t *testing.T) {
	var detector *Detector
	out := detector.Sanitize(map[string]interface{}{"cpf": "123", "nota": "12345678909"})
	if _, ok := out["cpf"]; ok {
		t.Fatal("cpf key should be dropped")
	}
	if out["nota"] != "[CPF_REMOVIDO]" {
		t.Fatalf("unexpected nota %v", out["nota"])
	}
}
