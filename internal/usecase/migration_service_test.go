package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"breakglass-service/internal/domain"
	"breakglass-service/internal/repository"
)

// mockMigrationRepository はテスト用のモック。
type mockMigrationRepository struct {
	applied    map[string]*domain.Migration
	statements map[string][]string
	applyErr   error
}

func newMockMigrationRepository() *mockMigrationRepository {
	return &mockMigrationRepository{
		applied:    make(map[string]*domain.Migration),
		statements: make(map[string][]string),
	}
}

func (m *mockMigrationRepository) EnsureTable(ctx context.Context) error {
	return nil
}

func (m *mockMigrationRepository) FindAllApplied(ctx context.Context) ([]*domain.Migration, error) {
	var result []*domain.Migration
	for _, migration := range m.applied {
		result = append(result, migration)
	}
	return result, nil
}

func (m *mockMigrationRepository) IsMigrationApplied(ctx context.Context, version string) (bool, error) {
	_, ok := m.applied[version]
	return ok, nil
}

func (m *mockMigrationRepository) Apply(ctx context.Context, migration *domain.Migration, statements []string) error {
	if m.applyErr != nil {
		return m.applyErr
	}
	now := time.Now()
	m.applied[migration.Version] = &domain.Migration{Version: migration.Version, Checksum: migration.Checksum, AppliedAt: &now, Status: domain.MigrationStatusApplied}
	m.statements[migration.Version] = statements
	return nil
}

// setupTestMigrationsDir はテスト用のmigrationsディレクトリを作成する。
func setupTestMigrationsDir(t *testing.T) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "migrations")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create migrations dir: %v", err)
	}

	files := map[string]string{
		"001_create_holders.sql": "-- holders\nCREATE TABLE holders (id INT);\nCREATE TABLE holder_notes (id INT);\n",
		"002_create_drills.sql":  "CREATE TABLE drills (id INT);",
		"003_create_rtos.sql":    "CREATE TABLE rtos (id INT);",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to create test migration file: %v", err)
		}
	}
	return dir
}

// setupMigrationDB は空のインメモリSQLiteを作成する。履歴テーブルはサービスが作る。
func setupMigrationDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db
}

func TestSplitStatements(t *testing.T) {
	sql := "-- comment\nCREATE TABLE a (id INT);\n\nCREATE TABLE b (id INT);\n;\n"
	got := splitStatements(sql)
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %v", len(got), got)
	}
	if got[0] != "CREATE TABLE a (id INT)" {
		t.Errorf("unexpected first statement: %q", got[0])
	}
}

func TestMigrationService_ApplyMigrations(t *testing.T) {
	ctx := context.Background()
	dir := setupTestMigrationsDir(t)
	db := setupMigrationDB(t)

	service := NewMigrationService(repository.NewMigrationRepository(db), dir)

	count, err := service.ApplyMigrations(ctx)
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 migrations applied, got %d", count)
	}

	for _, table := range []string{"holders", "holder_notes", "drills", "rtos"} {
		var n int64
		if err := db.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n).Error; err != nil {
			t.Errorf("failed to check table %s: %v", table, err)
		}
		if n != 1 {
			t.Errorf("table %s was not created", table)
		}
	}

	// 2回目は何も適用しない
	count, err = service.ApplyMigrations(ctx)
	if err != nil {
		t.Fatalf("second ApplyMigrations failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 migrations on rerun, got %d", count)
	}
}

func TestMigrationService_ApplyMigrations_AlreadyApplied(t *testing.T) {
	ctx := context.Background()
	repo := newMockMigrationRepository()
	now := time.Now()
	repo.applied["001"] = &domain.Migration{Version: "001", AppliedAt: &now, Status: domain.MigrationStatusApplied}
	repo.applied["002"] = &domain.Migration{Version: "002", AppliedAt: &now, Status: domain.MigrationStatusApplied}

	service := NewMigrationService(repo, setupTestMigrationsDir(t))

	count, err := service.ApplyMigrations(ctx)
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 migration applied, got %d", count)
	}
	if len(repo.statements["003"]) != 1 {
		t.Errorf("expected 003 to be applied with 1 statement, got %v", repo.statements["003"])
	}
}

func TestMigrationService_ApplyMigrations_InvalidSQL(t *testing.T) {
	ctx := context.Background()
	dir := setupTestMigrationsDir(t)
	db := setupMigrationDB(t)

	if err := os.WriteFile(filepath.Join(dir, "004_invalid.sql"), []byte("INVALID SQL SYNTAX;"), 0644); err != nil {
		t.Fatalf("failed to create invalid migration file: %v", err)
	}

	service := NewMigrationService(repository.NewMigrationRepository(db), dir)
	count, err := service.ApplyMigrations(ctx)
	if !errors.Is(err, domain.ErrMigrationFailed) {
		t.Fatalf("expected ErrMigrationFailed, got %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 migrations before failure, got %d", count)
	}
}

func TestMigrationService_ApplyMigrations_BadFileName(t *testing.T) {
	dir := setupTestMigrationsDir(t)
	if err := os.WriteFile(filepath.Join(dir, "nounderscore.sql"), []byte("SELECT 1;"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	service := NewMigrationService(newMockMigrationRepository(), dir)
	if _, err := service.ApplyMigrations(context.Background()); !errors.Is(err, domain.ErrInvalidMigrationFile) {
		t.Errorf("expected ErrInvalidMigrationFile, got %v", err)
	}
}

func TestMigrationService_GetMigrationStatus(t *testing.T) {
	repo := newMockMigrationRepository()
	now := time.Now()
	repo.applied["001"] = &domain.Migration{Version: "001", AppliedAt: &now, Status: domain.MigrationStatusApplied}

	service := NewMigrationService(repo, setupTestMigrationsDir(t))

	migrations, err := service.GetMigrationStatus(context.Background())
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}

	expected := map[string]domain.MigrationStatus{
		"001": domain.MigrationStatusApplied,
		"002": domain.MigrationStatusPending,
		"003": domain.MigrationStatusPending,
	}
	for _, m := range migrations {
		if m.Status != expected[m.Version] {
			t.Errorf("migration %s: expected status %s, got %s", m.Version, expected[m.Version], m.Status)
		}
	}
}

func TestMigrationService_GetMigrationStatus_Modified(t *testing.T) {
	ctx := context.Background()
	dir := setupTestMigrationsDir(t)
	service := NewMigrationService(repository.NewMigrationRepository(setupMigrationDB(t)), dir)

	if _, err := service.ApplyMigrations(ctx); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "002_create_drills.sql"), []byte("CREATE TABLE drills (id BIGINT);"), 0644); err != nil {
		t.Fatalf("failed to rewrite migration: %v", err)
	}

	migrations, err := service.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	for _, m := range migrations {
		want := domain.MigrationStatusApplied
		if m.Version == "002" {
			want = domain.MigrationStatusModified
		}
		if m.Status != want {
			t.Errorf("migration %s: expected status %s, got %s", m.Version, want, m.Status)
		}
		if m.AppliedAt == nil {
			t.Errorf("migration %s: expected applied_at", m.Version)
		}
	}
}
