package vault

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"filippo.io/age"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"breakglass-service/internal/domain"
)

// KeySize は保管庫で使う対称鍵のサイズ。
const KeySize = 32

// blobVersion は暗号化ブロブの先頭に付与する形式バージョン。AADにも含める。
const blobVersion byte = 0x01

// HKDFのinfo。変更すると既存の保管庫は開けなくなる。
var (
	hkdfInfoCheck = []byte("breakglass.vault.check.v1")
	hkdfInfoWrap  = []byte("breakglass.vault.wrap.v1")
	checkMessage  = []byte("breakglass.vault.keycheck")
)

const (
	objKeyCheck  = "keycheck"
	objRecipient = "recipient"
	objIdentity  = "identity"
	objManifest  = "manifest.json"
	dirBackups   = "backups/"
)

// ManifestEntry はバックアップ1件の完全性情報。
type ManifestEntry struct {
	Name     string    `json:"name"`
	Size     int       `json:"size"`
	SHA256   string    `json:"sha256"`
	StoredAt time.Time `json:"stored_at"`
}

// Manifest は世代ごとのバックアップ一覧。
type Manifest struct {
	Generation uint            `json:"generation"`
	Entries    []ManifestEntry `json:"entries"`
}

// BackupHandle は開封済みの保管庫を表す。使用後は Close で破棄する。
type BackupHandle struct {
	Generation uint
	identity   *age.X25519Identity
}

// Close は復号鍵への参照を破棄する。
func (h *BackupHandle) Close() {
	h.identity = nil
}

// RestoredFile は復元した1ファイルの情報。
type RestoredFile struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Size   int    `json:"size"`
	SHA256 string `json:"sha256"`
}

// RestoreReport は Restore の結果。
type RestoreReport struct {
	Generation uint           `json:"generation"`
	Dir        string         `json:"dir"`
	Files      []RestoredFile `json:"files"`
}

// Vault は世代ごとに封印されたバックアップを管理する。
//
// バックアップは世代のage公開鍵で暗号化するため、追加にマスターシークレットは不要。
// 復号用の秘密鍵はマスターシークレットから導出した鍵でラップして保存する。
//
// 格納レイアウト（世代 N）:
//
//	gen-N/keycheck       HMAC(checkKey, checkMessage)
//	gen-N/recipient      age公開鍵（平文）
//	gen-N/identity       ラップ済みage秘密鍵
//	gen-N/backups/<name> age暗号化したバックアップ
//	gen-N/manifest.json  平文のSHA-256一覧
type Vault struct {
	store      ObjectStore
	restoreDir string
}

// New は Vault を生成する。
func New(store ObjectStore, restoreDir string) *Vault {
	return &Vault{store: store, restoreDir: restoreDir}
}

func genKey(generation uint, name string) string {
	return fmt.Sprintf("gen-%d/%s", generation, name)
}

// Seal は世代のマスターシークレットで保管庫を封印する。
// 世代用のage鍵を生成し、秘密鍵をラップして保存する。
func (v *Vault) Seal(ctx context.Context, generation uint, secret []byte) error {
	if _, err := v.store.Get(ctx, genKey(generation, objKeyCheck)); err == nil {
		return fmt.Errorf("%w: generation %d", ErrAlreadySealed, generation)
	} else if !errors.Is(err, ErrObjectNotFound) {
		return fmt.Errorf("%w: %v", domain.ErrVaultUnreachable, err)
	}

	checkKey, wrapKey, err := deriveKeys(secret, generation)
	if err != nil {
		return err
	}
	defer wipe(checkKey)
	defer wipe(wrapKey)

	id, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("failed to generate vault key: %w", err)
	}
	wrapped, err := encryptBlob([]byte(id.String()), wrapKey, []byte(objIdentity))
	if err != nil {
		return err
	}

	puts := []struct {
		key  string
		data []byte
	}{
		{genKey(generation, objRecipient), []byte(id.Recipient().String())},
		{genKey(generation, objIdentity), wrapped},
		{genKey(generation, objManifest), mustJSON(&Manifest{Generation: generation, Entries: []ManifestEntry{}})},
		// keycheck は封印完了の印のため最後に書く
		{genKey(generation, objKeyCheck), keyCheck(checkKey)},
	}
	for _, p := range puts {
		if err := v.store.Put(ctx, p.key, p.data); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrVaultUnreachable, err)
		}
	}

	slog.InfoContext(ctx, "vault sealed", "generation", generation)
	return nil
}

// Unlock はマスターシークレットで保管庫を開封する。
// 格納先に到達できない場合は ErrVaultUnreachable、鍵が一致しない場合は ErrVaultKeyMismatch を返す。
func (v *Vault) Unlock(ctx context.Context, generation uint, secret []byte) (*BackupHandle, error) {
	stored, err := v.store.Get(ctx, genKey(generation, objKeyCheck))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, domain.ErrVaultNotSealed
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrVaultUnreachable, err)
	}

	checkKey, wrapKey, err := deriveKeys(secret, generation)
	if err != nil {
		return nil, err
	}
	defer wipe(checkKey)
	defer wipe(wrapKey)

	if subtle.ConstantTimeCompare(stored, keyCheck(checkKey)) != 1 {
		return nil, domain.ErrVaultKeyMismatch
	}

	wrapped, err := v.store.Get(ctx, genKey(generation, objIdentity))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVaultUnreachable, err)
	}
	raw, err := decryptBlob(wrapped, wrapKey, []byte(objIdentity))
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap vault key: %v", domain.ErrVaultKeyMismatch, err)
	}
	defer wipe(raw)
	id, err := age.ParseX25519Identity(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: parse vault key: %v", domain.ErrVaultKeyMismatch, err)
	}
	return &BackupHandle{Generation: generation, identity: id}, nil
}

// PutBackup はバックアップを世代の公開鍵で暗号化して保存し、マニフェストに記録する。
// 同名のバックアップは上書きする。
func (v *Vault) PutBackup(ctx context.Context, generation uint, name string, data []byte) (*ManifestEntry, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	raw, err := v.store.Get(ctx, genKey(generation, objRecipient))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, domain.ErrVaultNotSealed
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrVaultUnreachable, err)
	}
	recipient, err := age.ParseX25519Recipient(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: recipient: %v", domain.ErrIntegrityCheckFailed, err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("encrypting backup: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("encrypting backup: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("encrypting backup: %w", err)
	}
	if err := v.store.Put(ctx, genKey(generation, dirBackups+name), buf.Bytes()); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVaultUnreachable, err)
	}

	m, err := v.manifest(ctx, generation)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	entry := ManifestEntry{Name: name, Size: len(data), SHA256: hex.EncodeToString(sum[:]), StoredAt: time.Now().UTC()}
	replaced := false
	for i := range m.Entries {
		if m.Entries[i].Name == name {
			m.Entries[i] = entry
			replaced = true
		}
	}
	if !replaced {
		m.Entries = append(m.Entries, entry)
	}
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].Name < m.Entries[j].Name })

	if err := v.store.Put(ctx, genKey(generation, objManifest), mustJSON(m)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVaultUnreachable, err)
	}
	return &entry, nil
}

// Manifest は世代のマニフェストを返す。
func (v *Vault) Manifest(ctx context.Context, generation uint) (*Manifest, error) {
	return v.manifest(ctx, generation)
}

func (v *Vault) manifest(ctx context.Context, generation uint) (*Manifest, error) {
	raw, err := v.store.Get(ctx, genKey(generation, objManifest))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, domain.ErrVaultNotSealed
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrVaultUnreachable, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", domain.ErrIntegrityCheckFailed, err)
	}
	return &m, nil
}

// Restore は全バックアップを復号し、復元先ディレクトリ（restoreDir/gen-N）に書き出す。
func (v *Vault) Restore(ctx context.Context, h *BackupHandle) (*RestoreReport, error) {
	m, err := v.manifest(ctx, h.Generation)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(v.restoreDir, fmt.Sprintf("gen-%d", h.Generation))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create restore directory: %w", err)
	}

	report := &RestoreReport{Generation: h.Generation, Dir: dir, Files: make([]RestoredFile, 0, len(m.Entries))}
	for _, e := range m.Entries {
		blob, err := v.store.Get(ctx, genKey(h.Generation, dirBackups+e.Name))
		if err != nil {
			if errors.Is(err, ErrObjectNotFound) {
				return nil, fmt.Errorf("%w: backup %s missing", domain.ErrIntegrityCheckFailed, e.Name)
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrVaultUnreachable, err)
		}
		data, err := h.decrypt(blob)
		if err != nil {
			return nil, fmt.Errorf("%w: backup %s: %v", domain.ErrIntegrityCheckFailed, e.Name, err)
		}

		p := filepath.Join(dir, e.Name)
		if err := os.WriteFile(p, data, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write restored file: %w", err)
		}
		sum := sha256.Sum256(data)
		report.Files = append(report.Files, RestoredFile{Name: e.Name, Path: p, Size: len(data), SHA256: hex.EncodeToString(sum[:])})
	}
	return report, nil
}

// VerifyIntegrity は復元済みファイルのSHA-256をマニフェストと照合する。
func (v *Vault) VerifyIntegrity(ctx context.Context, h *BackupHandle, report *RestoreReport) error {
	m, err := v.manifest(ctx, h.Generation)
	if err != nil {
		return err
	}
	restored := make(map[string]RestoredFile, len(report.Files))
	for _, f := range report.Files {
		restored[f.Name] = f
	}

	for _, e := range m.Entries {
		f, ok := restored[e.Name]
		if !ok {
			return fmt.Errorf("%w: %s not restored", domain.ErrIntegrityCheckFailed, e.Name)
		}
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrIntegrityCheckFailed, e.Name, err)
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != e.SHA256 {
			return fmt.Errorf("%w: %s checksum mismatch", domain.ErrIntegrityCheckFailed, e.Name)
		}
	}
	return nil
}

func (h *BackupHandle) decrypt(blob []byte) ([]byte, error) {
	if h.identity == nil {
		return nil, errors.New("backup handle is closed")
	}
	r, err := age.Decrypt(bytes.NewReader(blob), h.identity)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// deriveKeys はマスターシークレットから鍵確認用鍵とラップ鍵を導出する。
// 世代番号をsaltに含め、世代間で鍵を共有しない。
func deriveKeys(secret []byte, generation uint) (checkKey, wrapKey []byte, err error) {
	if len(secret) == 0 {
		return nil, nil, errors.New("empty vault secret")
	}
	salt := []byte(fmt.Sprintf("gen-%d", generation))
	checkKey = make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, hkdfInfoCheck), checkKey); err != nil {
		return nil, nil, fmt.Errorf("failed to derive check key: %w", err)
	}
	wrapKey = make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, hkdfInfoWrap), wrapKey); err != nil {
		return nil, nil, fmt.Errorf("failed to derive wrap key: %w", err)
	}
	return checkKey, wrapKey, nil
}

func keyCheck(checkKey []byte) []byte {
	mac := hmac.New(sha256.New, checkKey)
	mac.Write(checkMessage)
	return mac.Sum(nil)
}

// encryptBlob は [version][nonce][ciphertext+tag] 形式で暗号化する。
func encryptBlob(plaintext, key, identity []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}
	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, blobVersion)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, aad(identity)), nil
}

func decryptBlob(blob, key, identity []byte) ([]byte, error) {
	if len(blob) < 1+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, errors.New("encrypted blob too short")
	}
	if blob[0] != blobVersion {
		return nil, fmt.Errorf("unsupported blob version %d", blob[0])
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	return aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], aad(identity))
}

func aad(identity []byte) []byte {
	return append([]byte{blobVersion}, identity...)
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidBackupName, name)
	}
	return nil
}

func mustJSON(v any) []byte {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(err)
	}
	return b
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
