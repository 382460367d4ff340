package auth

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildRS256JWT_VerifiesWithPublicKey(t *testing.T) {
	key := generateTestRSAPrivateKey(t)
	token, err := buildRS256JWT("kid-1", key, map[string]any{"sub": "client_1"})
	if err != nil {
		t.Fatalf("build jwt: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("expected three segments, got %d", len(parts))
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	digest := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], signature); err != nil {
		t.Fatalf("verify signature: %v", err)
	}
	claims, err := decodeJWTClaims(token)
	if err != nil {
		t.Fatalf("decode claims: %v", err)
	}
	if claims["sub"] != "client_1" {
		t.Fatalf("unexpected claims %#v", claims)
	}
}

func TestBuildRS256JWT_RequiresKey(t *testing.T) {
	if _, err := buildRS256JWT("", nil, map[string]any{}); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestLoadRSAPrivateKey_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, generateTestRSAPrivateKeyPEM(t), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	key, err := LoadRSAPrivateKey(path)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	if key.N.BitLen() != 2048 {
		t.Fatalf("expected 2048 bit key, got %d", key.N.BitLen())
	}
	if _, err := ParseRSAPrivateKeyPEM([]byte("not pem")); err == nil {
		t.Fatalf("expected parse error for non pem input")
	}
}
