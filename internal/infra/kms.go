package infra

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"

	kms "cloud.google.com/go/kms/apiv1"
	kmspb "cloud.google.com/go/kms/apiv1/kmspb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// errKMSIntegrity はKMSとの通信中にデータが破損したことを示す。
var errKMSIntegrity = errors.New("kms response failed integrity check")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func crc32c(b []byte) int64 {
	return int64(crc32.Checksum(b, castagnoli))
}

// KMSSealer は提出された分割片をCloud KMSの対称鍵で封印する。
type KMSSealer struct {
	client  *kms.KeyManagementClient
	keyName string
}

// NewKMSSealer は keyName の暗号鍵を使う KMSSealer を生成する。
func NewKMSSealer(ctx context.Context, keyName string) (*KMSSealer, error) {
	if keyName == "" {
		return nil, errors.New("KMS_KEY_NAME is required when SEALER=kms")
	}
	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}
	return &KMSSealer{client: client, keyName: keyName}, nil
}

// Seal は label を追加認証データとして分割片を暗号化する。
// 送受信データはCRC32Cで検証する。
func (s *KMSSealer) Seal(ctx context.Context, plaintext, label []byte) ([]byte, error) {
	resp, err := s.client.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:                              s.keyName,
		Plaintext:                         plaintext,
		PlaintextCrc32C:                   wrapperspb.Int64(crc32c(plaintext)),
		AdditionalAuthenticatedData:       label,
		AdditionalAuthenticatedDataCrc32C: wrapperspb.Int64(crc32c(label)),
	})
	if err != nil {
		return nil, fmt.Errorf("sealing share: %w", err)
	}
	if !resp.VerifiedPlaintextCrc32C || !resp.VerifiedAdditionalAuthenticatedDataCrc32C {
		return nil, fmt.Errorf("sealing share: %w", errKMSIntegrity)
	}
	if resp.CiphertextCrc32C == nil || resp.CiphertextCrc32C.Value != crc32c(resp.Ciphertext) {
		return nil, fmt.Errorf("sealing share: %w", errKMSIntegrity)
	}
	return resp.Ciphertext, nil
}

// Open は Seal で封印した分割片を復号する。label が異なると失敗する。
func (s *KMSSealer) Open(ctx context.Context, ciphertext, label []byte) ([]byte, error) {
	resp, err := s.client.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:                              s.keyName,
		Ciphertext:                        ciphertext,
		CiphertextCrc32C:                  wrapperspb.Int64(crc32c(ciphertext)),
		AdditionalAuthenticatedData:       label,
		AdditionalAuthenticatedDataCrc32C: wrapperspb.Int64(crc32c(label)),
	})
	if err != nil {
		return nil, fmt.Errorf("opening share: %w", err)
	}
	if resp.PlaintextCrc32C == nil || resp.PlaintextCrc32C.Value != crc32c(resp.Plaintext) {
		return nil, fmt.Errorf("opening share: %w", errKMSIntegrity)
	}
	return resp.Plaintext, nil
}

func (s *KMSSealer) Close() error {
	return s.client.Close()
}
