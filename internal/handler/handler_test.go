package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"filippo.io/age"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"breakglass-service/internal/infra"
	"breakglass-service/internal/notify"
	"breakglass-service/internal/repository"
	"breakglass-service/internal/threshold"
	"breakglass-service/internal/usecase"
	"breakglass-service/internal/vault"
)

// testServer は実リポジトリとファイル保管庫で組み立てたAPIサーバー。
type testServer struct {
	router      http.Handler
	runner      *usecase.RecoveryRunner
	activations *usecase.ActivationService
	restoreDir  string
}

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

func setupServer(t *testing.T) *testServer {
	t.Helper()

	db := setupTestDB(t)
	dir := t.TempDir()
	store, err := vault.NewFileStore(filepath.Join(dir, "vault"))
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}
	escrow, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("failed to generate escrow identity: %v", err)
	}

	configRepo := repository.NewConfigRepository(db)
	holderRepo := repository.NewHolderRepository(db)
	activationRepo := repository.NewActivationRepository(db)
	v := vault.New(store, filepath.Join(dir, "restore"))
	sealer := infra.NewAgeSealer(escrow)
	metrics := infra.NewMetrics()

	runner := usecase.NewRecoveryRunner(context.Background(), activationRepo, sealer, v, metrics)
	activations := usecase.NewActivationService(activationRepo, configRepo, holderRepo, sealer,
		notify.NewDispatcher(nil, nil), runner, metrics)
	drills := usecase.NewDrillService(repository.NewDrillRepository(db), configRepo, holderRepo, activationRepo)

	s := &testServer{
		router: NewRouter(Handlers{
			Config:     NewConfigHandler(usecase.NewTrustRootService(configRepo, v)),
			Holder:     NewHolderHandler(usecase.NewHolderService(holderRepo, configRepo)),
			Activation: NewActivationHandler(activations),
			RTO:        NewRTOHandler(usecase.NewRTOService(repository.NewRTORepository(db), activationRepo)),
			Drill:      NewDrillHandler(drills),
			Backup:     NewBackupHandler(usecase.NewBackupService(v, configRepo)),
			Metrics:    metrics.Handler(),
		}),
		runner:      runner,
		activations: activations,
		restoreDir:  filepath.Join(dir, "restore"),
	}
	t.Cleanup(func() {
		runner.Wait()
		activations.WaitNotifications()
	})
	return s
}

// do はリクエストを送り、レスポンスを out に読み込む。
func (s *testServer) do(t *testing.T, method, path string, body, out interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("decode response of %s %s: %v", method, path, err)
		}
	}
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var resp struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Code
}

// initialize は n 人の保有者で最初の世代を作成し、各保有者の鍵を返す。
func (s *testServer) initialize(t *testing.T, th, n int) (CeremonyResponse, []*threshold.HolderKey) {
	t.Helper()

	keys := make([]*threshold.HolderKey, n)
	req := CeremonyRequest{Threshold: th, TotalShares: n}
	for i := range keys {
		k, err := threshold.GenerateHolderKey()
		if err != nil {
			t.Fatalf("GenerateHolderKey() error = %v", err)
		}
		keys[i] = k
		req.Enrollments = append(req.Enrollments, EnrollmentRequest{
			Identity:        fmt.Sprintf("holder-%d", i+1),
			RecipientKey:    k.Recipient,
			ContactChannels: []string{fmt.Sprintf("log:holder-%d", i+1)},
		})
	}

	var resp CeremonyResponse
	rec := s.do(t, http.MethodPost, "/v1/config/initialize", req, &resp)
	if rec.Code != http.StatusCreated {
		t.Fatalf("initialize: want status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return resp, keys
}
