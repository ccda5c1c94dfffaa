package threshold

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"
)

// HolderKey は保有者のage X25519鍵ペアを表す。
// Identity は保有者のみが保持し、サーバーに渡してはならない。
type HolderKey struct {
	Identity  string
	Recipient string
}

// GenerateHolderKey は保有者用のage鍵ペアを生成する。
func GenerateHolderKey() (*HolderKey, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	return &HolderKey{
		Identity:  identity.String(),
		Recipient: identity.Recipient().String(),
	}, nil
}

// ValidateRecipient はage公開鍵として正しいかを検証する。
func ValidateRecipient(recipient string) error {
	if _, err := age.ParseX25519Recipient(recipient); err != nil {
		return fmt.Errorf("invalid age recipient: %w", err)
	}
	return nil
}

// EncryptShareForHolder は分割片を保有者の公開鍵で暗号化する。永続化は行わない。
func EncryptShareForHolder(share []byte, holderRecipient string) ([]byte, error) {
	recipient, err := age.ParseX25519Recipient(holderRecipient)
	if err != nil {
		return nil, fmt.Errorf("parsing recipient: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(share); err != nil {
		return nil, fmt.Errorf("writing share: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	return buf.Bytes(), nil
}

// DecryptShare は保有者の秘密鍵で分割片を復号する。永続化は行わない。
func DecryptShare(ciphertext []byte, holderIdentity string) ([]byte, error) {
	identity, err := age.ParseX25519Identity(holderIdentity)
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting share: %w", err)
	}
	share, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading share: %w", err)
	}
	return share, nil
}
