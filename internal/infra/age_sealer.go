package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
)

// AgeSealer はローカルのage鍵で分割片を封印する。Cloud KMSを使えない環境向け。
type AgeSealer struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewAgeSealer は AgeSealer を生成する。
func NewAgeSealer(identity *age.X25519Identity) *AgeSealer {
	return &AgeSealer{identity: identity, recipient: identity.Recipient()}
}

// LoadAgeSealer は鍵ファイル（age-keygen形式）から AgeSealer を生成する。
func LoadAgeSealer(path string) (*AgeSealer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening age identity file: %w", err)
	}
	defer f.Close()

	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parsing age identity file: %w", err)
	}
	for _, id := range ids {
		if x, ok := id.(*age.X25519Identity); ok {
			return NewAgeSealer(x), nil
		}
	}
	return nil, errors.New("age identity file contains no X25519 identity")
}

// Seal は label を前置した平文を暗号化する。
func (s *AgeSealer) Seal(ctx context.Context, plaintext, label []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	if _, err := w.Write(labeled(label, plaintext)); err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	return buf.Bytes(), nil
}

// Open は復号し、label が一致することを確認する。
func (s *AgeSealer) Open(ctx context.Context, ciphertext, label []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), s.identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	prefix := labeled(label, nil)
	if !bytes.HasPrefix(data, prefix) {
		return nil, errors.New("decrypting: label mismatch")
	}
	return data[len(prefix):], nil
}

// Close は何もしない。
func (s *AgeSealer) Close() error {
	return nil
}

// labeled は [len(label)][label][data] を返す。
func labeled(label, data []byte) []byte {
	out := make([]byte, 0, 1+len(label)+len(data))
	out = append(out, byte(len(label)))
	out = append(out, label...)
	return append(out, data...)
}
