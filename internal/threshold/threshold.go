// Package threshold は閾値秘密分散（Shamir）と分割片の輸送用暗号化を提供する。
//
// 平文の分割片と主秘密は、分割・結合・暗号化・復号の間だけメモリ上に存在する。
// 永続化されるのは暗号化済み分割片とフィンガープリントのみ。
package threshold

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/hashicorp/vault/shamir"

	"breakglass-service/internal/domain"
)

// MasterSecretSize は主秘密のバイト長。
const MasterSecretSize = 32

// NewMasterSecret は暗号論的乱数で主秘密を生成する。
func NewMasterSecret() ([]byte, error) {
	secret := make([]byte, MasterSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating master secret: %w", err)
	}
	return secret, nil
}

// Split は秘密をN個の分割片に分割する。任意のT個で復元できる。
// 分割片は len(secret)+1 バイトで、末尾1バイトがx座標。
func Split(secret []byte, threshold, total int) ([][]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", domain.ErrInvalidThreshold)
	}
	if err := domain.ValidateThreshold(threshold, total); err != nil {
		return nil, err
	}

	// T=1 は定数多項式となるため、全分割片のy値が秘密そのものになる。
	if threshold == 1 {
		shares := make([][]byte, total)
		for i := range shares {
			share := make([]byte, len(secret)+1)
			copy(share, secret)
			share[len(secret)] = byte(i + 1)
			shares[i] = share
		}
		return shares, nil
	}

	shares, err := shamir.Split(secret, total, threshold)
	if err != nil {
		return nil, fmt.Errorf("splitting secret: %w", err)
	}
	return shares, nil
}

// Combine はT個以上の分割片から秘密を復元する。
// T未満の場合は推測値を返さず ErrInsufficientShares で失敗する。
func Combine(shares [][]byte, threshold int) ([]byte, error) {
	if threshold < 1 {
		return nil, domain.ErrInvalidThreshold
	}
	if len(shares) < threshold {
		return nil, fmt.Errorf("%w: have %d, need %d", domain.ErrInsufficientShares, len(shares), threshold)
	}

	shareLen := len(shares[0])
	if shareLen < 2 {
		return nil, domain.ErrMalformedShare
	}
	seen := make(map[byte]struct{}, len(shares))
	for _, s := range shares {
		if len(s) != shareLen {
			return nil, fmt.Errorf("%w: share lengths differ", domain.ErrMalformedShare)
		}
		x := s[shareLen-1]
		if _, dup := seen[x]; dup {
			return nil, fmt.Errorf("%w: duplicate share", domain.ErrMalformedShare)
		}
		seen[x] = struct{}{}
	}

	if threshold == 1 && len(shares) == 1 {
		secret := make([]byte, shareLen-1)
		copy(secret, shares[0][:shareLen-1])
		return secret, nil
	}

	secret, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedShare, err)
	}
	return secret, nil
}

// Fingerprint は平文分割片のSHA-256を16進文字列で返す。
func Fingerprint(share []byte) string {
	sum := sha256.Sum256(share)
	return hex.EncodeToString(sum[:])
}

// ValidFingerprint はSHA-256の16進表現（64文字・小文字）として正しいかを返す。
func ValidFingerprint(fp string) bool {
	if len(fp) != sha256.Size*2 {
		return false
	}
	for _, c := range fp {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// VerifyFingerprint は分割片が登録済みフィンガープリントと一致するかを定数時間で比較する。
func VerifyFingerprint(share []byte, fingerprint string) bool {
	got := Fingerprint(share)
	return subtle.ConstantTimeCompare([]byte(got), []byte(fingerprint)) == 1
}

// Wipe はバイト列をゼロで上書きする。
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// WipeAll は複数のバイト列をゼロで上書きする。
func WipeAll(bs [][]byte) {
	for _, b := range bs {
		Wipe(b)
	}
}
