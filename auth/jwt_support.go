package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
)

const jwtAlgRS256 = "RS256"

func buildRS256JWT(keyID string, key *rsa.PrivateKey, claims map[string]any) (string, error) {
	if key == nil {
		return "", fmt.Errorf("auth: jwt signing key is required")
	}
	header := map[string]any{
		"alg": jwtAlgRS256,
		"typ": "JWT",
	}
	if strings.TrimSpace(keyID) != "" {
		header["kid"] = strings.TrimSpace(keyID)
	}

	headerRaw, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("auth: marshal jwt header: %w", err)
	}
	claimsRaw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("auth: marshal jwt claims: %w", err)
	}

	headerToken := base64.RawURLEncoding.EncodeToString(headerRaw)
	claimsToken := base64.RawURLEncoding.EncodeToString(claimsRaw)
	signed := headerToken + "." + claimsToken

	digest := sha256.Sum256([]byte(signed))
	signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("auth: sign jwt: %w", err)
	}
	return signed + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

// decodeJWTClaims returns the claims segment of a compact JWT.
func decodeJWTClaims(token string) (map[string]any, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("auth: jwt must have three segments")
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("auth: decode jwt claims: %w", err)
	}
	claims := map[string]any{}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, fmt.Errorf("auth: unmarshal jwt claims: %w", err)
	}
	return claims, nil
}

// ParseRSAPrivateKeyPEM accepts PKCS#1 and PKCS#8 encoded RSA keys.
func ParseRSAPrivateKeyPEM(encoded []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(encoded)
	if block == nil {
		return nil, fmt.Errorf("auth: private key is not PEM encoded")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("auth: private key is not RSA")
	}
	return key, nil
}

func LoadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	encoded, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("auth: read private key: %w", err)
	}
	return ParseRSAPrivateKeyPEM(encoded)
}
