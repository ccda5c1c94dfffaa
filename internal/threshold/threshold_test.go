package threshold

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakglass-service/internal/domain"
)

// subsets はn個からk個を選ぶ全組み合わせを返す。
func subsets(n, k int) [][]int {
	var out [][]int
	var rec func(start int, cur []int)
	rec = func(start int, cur []int) {
		if len(cur) == k {
			out = append(out, append([]int(nil), cur...))
			return
		}
		for i := start; i < n; i++ {
			rec(i+1, append(cur, i))
		}
	}
	rec(0, nil)
	return out
}

func pick(shares [][]byte, idx []int) [][]byte {
	out := make([][]byte, len(idx))
	for i, j := range idx {
		out[i] = append([]byte(nil), shares[j]...)
	}
	return out
}

func TestSplitCombine_AnyThresholdSubset(t *testing.T) {
	secret, err := NewMasterSecret()
	require.NoError(t, err)

	cases := []struct{ threshold, total int }{
		{1, 1}, {1, 3}, {2, 2}, {2, 3}, {3, 5}, {5, 5},
	}
	for _, tc := range cases {
		shares, err := Split(secret, tc.threshold, tc.total)
		require.NoError(t, err)
		require.Len(t, shares, tc.total)

		for k := tc.threshold; k <= tc.total; k++ {
			for _, idx := range subsets(tc.total, k) {
				got, err := Combine(pick(shares, idx), tc.threshold)
				require.NoError(t, err, "T=%d N=%d subset=%v", tc.threshold, tc.total, idx)
				assert.True(t, bytes.Equal(secret, got), "T=%d N=%d subset=%v", tc.threshold, tc.total, idx)
			}
		}
	}
}

func TestCombine_BelowThresholdFailsClosed(t *testing.T) {
	secret, err := NewMasterSecret()
	require.NoError(t, err)
	shares, err := Split(secret, 3, 5)
	require.NoError(t, err)

	for k := 0; k < 3; k++ {
		for _, idx := range subsets(5, k) {
			got, err := Combine(pick(shares, idx), 3)
			assert.ErrorIs(t, err, domain.ErrInsufficientShares)
			assert.Nil(t, got)
		}
	}
}

func TestCombine_RejectsMalformedShares(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	shares, err := Split(secret, 2, 3)
	require.NoError(t, err)

	_, err = Combine([][]byte{shares[0], shares[0]}, 2)
	assert.ErrorIs(t, err, domain.ErrMalformedShare)

	_, err = Combine([][]byte{shares[0], shares[1][:10]}, 2)
	assert.ErrorIs(t, err, domain.ErrMalformedShare)
}

func TestSplit_InvalidParameters(t *testing.T) {
	secret := []byte("secret")

	_, err := Split(secret, 0, 3)
	assert.ErrorIs(t, err, domain.ErrInvalidThreshold)

	_, err = Split(secret, 4, 3)
	assert.ErrorIs(t, err, domain.ErrInvalidThreshold)

	_, err = Split(secret, 2, 256)
	assert.ErrorIs(t, err, domain.ErrInvalidThreshold)

	_, err = Split(nil, 2, 3)
	assert.ErrorIs(t, err, domain.ErrInvalidThreshold)
}

func TestFingerprint(t *testing.T) {
	share := []byte("share-bytes")
	fp := Fingerprint(share)

	assert.True(t, ValidFingerprint(fp))
	assert.True(t, VerifyFingerprint(share, fp))
	assert.False(t, VerifyFingerprint([]byte("other"), fp))

	assert.False(t, ValidFingerprint(""))
	assert.False(t, ValidFingerprint("xyz"))
	assert.False(t, ValidFingerprint(fp[:63]+"Z"))
}

func TestEncryptDecryptShare(t *testing.T) {
	key, err := GenerateHolderKey()
	require.NoError(t, err)
	require.NoError(t, ValidateRecipient(key.Recipient))

	share := []byte("plaintext-share")
	ct, err := EncryptShareForHolder(share, key.Recipient)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(ct, share))

	pt, err := DecryptShare(ct, key.Identity)
	require.NoError(t, err)
	assert.Equal(t, share, pt)

	other, err := GenerateHolderKey()
	require.NoError(t, err)
	_, err = DecryptShare(ct, other.Identity)
	assert.Error(t, err)

	assert.Error(t, ValidateRecipient("not-a-key"))
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3}
	Wipe(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}
