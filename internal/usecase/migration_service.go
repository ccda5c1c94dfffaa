package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"breakglass-service/internal/domain"
)

// MigrationRepository はスキーマ変更の適用と履歴管理のインターフェース。
type MigrationRepository interface {
	EnsureTable(ctx context.Context) error
	FindAllApplied(ctx context.Context) ([]*domain.Migration, error)
	IsMigrationApplied(ctx context.Context, version string) (bool, error)
	Apply(ctx context.Context, m *domain.Migration, statements []string) error
}

// MigrationService は migrations/ 配下のSQLを番号順に適用する。
type MigrationService struct {
	repo          MigrationRepository
	migrationsDir string
}

// NewMigrationService は新しいMigrationServiceを生成する。
func NewMigrationService(repo MigrationRepository, migrationsDir string) *MigrationService {
	return &MigrationService{
		repo:          repo,
		migrationsDir: migrationsDir,
	}
}

// scanMigrationFiles は .sql ファイルをバージョン順に列挙する。
func (s *MigrationService) scanMigrationFiles() ([]*domain.Migration, error) {
	entries, err := os.ReadDir(s.migrationsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrMigrationFileNotFound, s.migrationsDir)
		}
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []*domain.Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, name, err := parseMigrationFileName(entry.Name())
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, &domain.Migration{
			Version:  version,
			Name:     name,
			FilePath: filepath.Join(s.migrationsDir, entry.Name()),
			Status:   domain.MigrationStatusPending,
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseMigrationFileName は {version}_{name}.sql 形式のファイル名を分解する。
func parseMigrationFileName(filename string) (version, name string, err error) {
	parts := strings.SplitN(strings.TrimSuffix(filename, ".sql"), "_", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %s (expected format: {version}_{name}.sql)", domain.ErrInvalidMigrationFile, filename)
	}
	return parts[0], parts[1], nil
}

// splitStatements はSQLファイルを文単位に分割する。
// 行コメント（--）と空文は除去する。文字列リテラル内のセミコロンは扱わない。
func splitStatements(sql string) []string {
	var lines []string
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}

	var statements []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

// ApplyMigrations は未適用のマイグレーションを番号順に実行し、適用件数を返す。
func (s *MigrationService) ApplyMigrations(ctx context.Context) (int, error) {
	all, err := s.scanMigrationFiles()
	if err != nil {
		slog.ErrorContext(ctx, "failed to scan migration files",
			"operation", "apply_migrations",
			"error", err,
		)
		return 0, err
	}

	if err := s.repo.EnsureTable(ctx); err != nil {
		return 0, fmt.Errorf("failed to prepare migration history: %w", err)
	}

	applied := 0
	for _, m := range all {
		done, err := s.repo.IsMigrationApplied(ctx, m.Version)
		if err != nil {
			return applied, fmt.Errorf("failed to check migration status: %w", err)
		}
		if done {
			continue
		}

		sqlBytes, err := os.ReadFile(m.FilePath)
		if err != nil {
			return applied, fmt.Errorf("%w: %s", domain.ErrMigrationFileNotFound, m.FilePath)
		}
		m.Checksum = checksum(sqlBytes)
		statements := splitStatements(string(sqlBytes))
		if len(statements) == 0 {
			return applied, fmt.Errorf("%w: %s has no statements", domain.ErrInvalidMigrationFile, m.FilePath)
		}

		if err := s.repo.Apply(ctx, m, statements); err != nil {
			slog.ErrorContext(ctx, "failed to apply migration",
				"operation", "apply_migrations",
				"version", m.Version,
				"error", err,
			)
			return applied, fmt.Errorf("%w: version %s: %v", domain.ErrMigrationFailed, m.Version, err)
		}
		slog.InfoContext(ctx, "migration applied",
			"version", m.Version,
			"name", m.Name,
			"statements", len(statements),
		)
		applied++
	}
	return applied, nil
}

// GetMigrationStatus はファイルごとの適用状況を返す。
func (s *MigrationService) GetMigrationStatus(ctx context.Context) ([]*domain.Migration, error) {
	all, err := s.scanMigrationFiles()
	if err != nil {
		return nil, err
	}

	if err := s.repo.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare migration history: %w", err)
	}
	appliedList, err := s.repo.FindAllApplied(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch applied migrations: %w", err)
	}
	applied := make(map[string]*domain.Migration, len(appliedList))
	for _, m := range appliedList {
		applied[m.Version] = m
	}

	for _, m := range all {
		a, ok := applied[m.Version]
		if !ok {
			continue
		}
		m.Status = domain.MigrationStatusApplied
		m.AppliedAt = a.AppliedAt
		sqlBytes, err := os.ReadFile(m.FilePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrMigrationFileNotFound, m.FilePath)
		}
		m.Checksum = checksum(sqlBytes)
		// チェックサム導入前の履歴は比較しない
		if a.Checksum != "" && a.Checksum != m.Checksum {
			m.Status = domain.MigrationStatusModified
		}
	}
	return all, nil
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
