package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"breakglass-service/internal/domain"
	"breakglass-service/internal/notify"
	"breakglass-service/internal/repository"
	"breakglass-service/internal/threshold"
	"breakglass-service/internal/vault"
)

// fakeSealer はラベルを前置するだけのテスト用エスクロー。
type fakeSealer struct {
	sealErr error
}

func (f *fakeSealer) Seal(_ context.Context, plaintext, label []byte) ([]byte, error) {
	if f.sealErr != nil {
		return nil, f.sealErr
	}
	out := make([]byte, 0, len(label)+1+len(plaintext))
	out = append(out, label...)
	out = append(out, 0)
	return append(out, plaintext...), nil
}

func (f *fakeSealer) Open(_ context.Context, ciphertext, label []byte) ([]byte, error) {
	prefix := make([]byte, 0, len(label)+1)
	prefix = append(prefix, label...)
	prefix = append(prefix, 0)
	if !bytes.HasPrefix(ciphertext, prefix) {
		return nil, errors.New("label mismatch")
	}
	return append([]byte(nil), ciphertext[len(prefix):]...), nil
}

// flakyStore は到達不能状態を切り替えられる ObjectStore。
type flakyStore struct {
	vault.ObjectStore
	mu   sync.Mutex
	down bool
}

func (s *flakyStore) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *flakyStore) isDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.isDown() {
		return nil, errors.New("dial tcp: connection refused")
	}
	return s.ObjectStore.Get(ctx, key)
}

func (s *flakyStore) Put(ctx context.Context, key string, data []byte) error {
	if s.isDown() {
		return errors.New("dial tcp: connection refused")
	}
	return s.ObjectStore.Put(ctx, key, data)
}

// recordingNotifier は通知を記録する。
type recordingNotifier struct {
	mu    sync.Mutex
	calls []notify.Message
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, channels []string, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, msg)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

// recordingMetrics はメトリクスの呼び出しを記録する。
type recordingMetrics struct {
	mu       sync.Mutex
	counters map[string]int
	gauges   map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counters: map[string]int{}, gauges: map[string]int{}}
}

func (m *recordingMetrics) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
}

func (m *recordingMetrics) set(key string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[key] = n
}

func (m *recordingMetrics) counter(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key]
}

func (m *recordingMetrics) gauge(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[key]
}

func (m *recordingMetrics) ActivationCreated(severity string) { m.inc("activation:" + severity) }
func (m *recordingMetrics) SignatureSubmitted(result string)  { m.inc("signature:" + result) }
func (m *recordingMetrics) RecoveryStep(step, result string)  { m.inc("recovery:" + step + ":" + result) }
func (m *recordingMetrics) NotificationFailed()               { m.inc("notification_failed") }
func (m *recordingMetrics) SetOverdueConfigs(n int)           { m.set("overdue_configs", n) }
func (m *recordingMetrics) SetHoldersDue(kind string, n int)  { m.set("holders_due:"+kind, n) }
func (m *recordingMetrics) SetOpenActivations(n int)          { m.set("open_activations", n) }

// setupTestDB はスキーマ適用済みのインメモリSQLiteデータベースを作成する。
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := repository.ApplySQLiteSchema(db); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	return db
}

// testEnv は実リポジトリとファイル保管庫で組み立てたサービス一式。
type testEnv struct {
	db             *gorm.DB
	configRepo     *repository.ConfigRepository
	holderRepo     *repository.HolderRepository
	activationRepo *repository.ActivationRepository
	drillRepo      *repository.DrillRepository
	store          *flakyStore
	vault          *vault.Vault
	restoreDir     string
	sealer         *fakeSealer
	notifier       *recordingNotifier
	metrics        *recordingMetrics

	trust       *TrustRootService
	holders     *HolderService
	activations *ActivationService
	runner      *RecoveryRunner
	drills      *DrillService

	// keys と issued は現行世代の保有者（順序位置順）。
	keys   []*threshold.HolderKey
	issued []IssuedShare
}

func newTestEnv(t *testing.T, th, total int) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	dir := t.TempDir()
	fs, err := vault.NewFileStore(filepath.Join(dir, "vault"))
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}
	env := &testEnv{
		db:             db,
		configRepo:     repository.NewConfigRepository(db),
		holderRepo:     repository.NewHolderRepository(db),
		activationRepo: repository.NewActivationRepository(db),
		drillRepo:      repository.NewDrillRepository(db),
		store:          &flakyStore{ObjectStore: fs},
		restoreDir:     filepath.Join(dir, "restore"),
		sealer:         &fakeSealer{},
		notifier:       &recordingNotifier{},
		metrics:        newRecordingMetrics(),
	}
	env.vault = vault.New(env.store, env.restoreDir)

	env.trust = NewTrustRootService(env.configRepo, env.vault)
	env.holders = NewHolderService(env.holderRepo, env.configRepo)
	env.runner = NewRecoveryRunner(context.Background(), env.activationRepo, env.sealer, env.vault, env.metrics)
	env.runner.backoff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	}
	env.activations = NewActivationService(env.activationRepo, env.configRepo, env.holderRepo,
		env.sealer, env.notifier, env.runner, env.metrics)
	env.drills = NewDrillService(env.drillRepo, env.configRepo, env.holderRepo, env.activationRepo)

	t.Cleanup(func() {
		env.runner.Wait()
		env.activations.WaitNotifications()
	})

	res, err := env.trust.Initialize(context.Background(), env.ceremony(t, th, total))
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	env.issued = res.Shares
	return env
}

// ceremony は新しい保有者鍵で参加者を用意する。
func (e *testEnv) ceremony(t *testing.T, th, total int) CeremonyRequest {
	t.Helper()

	e.keys = make([]*threshold.HolderKey, total)
	enrollments := make([]Enrollment, total)
	for i := range enrollments {
		k, err := threshold.GenerateHolderKey()
		if err != nil {
			t.Fatalf("GenerateHolderKey() error = %v", err)
		}
		e.keys[i] = k
		enrollments[i] = Enrollment{
			Identity:        fmt.Sprintf("holder-%d", i+1),
			RoleLabel:       "custodian",
			RecipientKey:    k.Recipient,
			ContactChannels: []string{fmt.Sprintf("log:holder-%d", i+1)},
		}
	}
	return CeremonyRequest{Threshold: th, TotalShares: total, Enrollments: enrollments}
}

// share は i 番目（0始まり）の保有者が手元で復号した分割片を返す。
func (e *testEnv) share(t *testing.T, i int) []byte {
	t.Helper()

	share, err := threshold.DecryptShare(e.issued[i].EncryptedShare, e.keys[i].Identity)
	if err != nil {
		t.Fatalf("DecryptShare() error = %v", err)
	}
	return share
}

func (e *testEnv) submit(t *testing.T, activationID string, i int) (*domain.SignatureResult, error) {
	t.Helper()

	return e.activations.SubmitSignature(context.Background(), SignatureSubmission{
		ActivationID: activationID,
		HolderID:     e.issued[i].HolderID,
		Share:        e.share(t, i),
		Origin:       "test",
	})
}

func (e *testEnv) activate(t *testing.T) *domain.EmergencyActivation {
	t.Helper()

	a, err := e.activations.Activate(context.Background(), ActivationRequest{
		TriggerRef:  "INC-1",
		Reason:      "primary region lost",
		Severity:    "critical",
		ActivatedBy: "oncall",
	})
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	return a
}

func actionNames(actions []*domain.RecoveryAction) []string {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = a.Action
	}
	return names
}
