// Package security seals credential material before it reaches a durable
// cache.
package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	envelopePrefix    = "settlement.secret.v1:"
	envelopeAlgorithm = "aes-256-gcm"
)

type envelope struct {
	KeyID      string `json:"kid"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type Option func(*Sealer)

func WithKeyID(id string) Option {
	return func(s *Sealer) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			s.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(s *Sealer) {
		if version > 0 {
			s.version = version
		}
	}
}

// Sealer encrypts values with AES-GCM under a single application key.
// Keys that are not 16, 24 or 32 bytes long are stretched with SHA-256.
type Sealer struct {
	key     []byte
	keyID   string
	version int
}

func NewSealer(keyMaterial []byte, opts ...Option) (*Sealer, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	sealer := &Sealer{
		key:     normalizeKey(key),
		keyID:   "app-key",
		version: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sealer)
		}
	}
	return sealer, nil
}

func NewSealerFromString(key string, opts ...Option) (*Sealer, error) {
	return NewSealer([]byte(key), opts...)
}

func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("security: sealer is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	data, err := json.Marshal(envelope{
		KeyID:      s.keyID,
		Version:    s.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
	})
	if err != nil {
		return nil, fmt.Errorf("security: encode envelope: %w", err)
	}
	return append([]byte(envelopePrefix), data...), nil
}

func (s *Sealer) Open(ciphertext []byte) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("security: sealer is nil")
	}
	payload, ok := bytes.CutPrefix(ciphertext, []byte(envelopePrefix))
	if !ok {
		return nil, fmt.Errorf("security: invalid ciphertext envelope prefix")
	}
	var parsed envelope
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("security: decode envelope: %w", err)
	}
	if parsed.KeyID != "" && parsed.KeyID != s.keyID {
		return nil, fmt.Errorf("security: key id mismatch: got %q want %q", parsed.KeyID, s.keyID)
	}
	if parsed.Version > 0 && parsed.Version != s.version {
		return nil, fmt.Errorf("security: key version mismatch: got %d want %d", parsed.Version, s.version)
	}
	if parsed.Algorithm != "" && parsed.Algorithm != envelopeAlgorithm {
		return nil, fmt.Errorf("security: unsupported algorithm %q", parsed.Algorithm)
	}
	nonce, err := base64.StdEncoding.DecodeString(parsed.Nonce)
	if err != nil {
		return nil, fmt.Errorf("security: decode nonce: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(parsed.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("security: decode ciphertext payload: %w", err)
	}
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("security: invalid nonce size")
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

func (s *Sealer) KeyID() string {
	if s == nil {
		return ""
	}
	return s.keyID
}

// IsSealed reports whether value carries the envelope prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, envelopePrefix)
}

func (s *Sealer) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	return sum[:]
}
