package core

import "testing"

func TestRedactSensitiveMap(t *testing.T) {
	redacted := RedactSensitiveMap(map[string]any{
		"provider_id":   "revolut",
		"access_token":  "abc",
		"client_secret": "def",
		"nested": map[string]any{
			"refresh_token": "ghi",
			"amount":        "10.00",
		},
	})
	if redacted["provider_id"] != "revolut" {
		t.Fatalf("expected traceability key to survive")
	}
	if redacted["access_token"] != RedactedValue || redacted["client_secret"] != RedactedValue {
		t.Fatalf("expected secrets to be redacted: %#v", redacted)
	}
	nested := redacted["nested"].(map[string]any)
	if nested["refresh_token"] != RedactedValue || nested["amount"] != "10.00" {
		t.Fatalf("unexpected nested redaction: %#v", nested)
	}
}

func TestRedactHeaders(t *testing.T) {
	headers := RedactHeaders(map[string]string{
		"Authorization": "Bearer abc",
		"x-api-key":     "key",
		"Content-Type":  "application/json",
	})
	if headers["Authorization"] != RedactedValue || headers["x-api-key"] != RedactedValue {
		t.Fatalf("expected auth headers to be redacted: %#v", headers)
	}
	if headers["Content-Type"] != "application/json" {
		t.Fatalf("expected content type to survive")
	}
}
