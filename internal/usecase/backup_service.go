package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"breakglass-service/internal/domain"
	"breakglass-service/internal/vault"
)

// BackupStore はバックアップの追加と一覧のインターフェース。
type BackupStore interface {
	PutBackup(ctx context.Context, generation uint, name string, data []byte) (*vault.ManifestEntry, error)
	Manifest(ctx context.Context, generation uint) (*vault.Manifest, error)
}

// BackupService は保管庫へのバックアップ登録を提供する。
// 登録は世代の公開鍵で暗号化するだけで、マスターシークレットは扱わない。
type BackupService struct {
	backups BackupStore
	configs ConfigRepository
}

// NewBackupService は新しいBackupServiceを生成する。
func NewBackupService(backups BackupStore, configs ConfigRepository) *BackupService {
	return &BackupService{backups: backups, configs: configs}
}

// Put はバックアップを保存する。generation が0の場合は現行世代。
func (s *BackupService) Put(ctx context.Context, generation uint, name string, data []byte) (*vault.ManifestEntry, error) {
	gen, err := s.resolve(ctx, generation)
	if err != nil {
		return nil, err
	}
	entry, err := s.backups.PutBackup(ctx, gen, name, data)
	if err != nil {
		return nil, fmt.Errorf("storing backup: %w", err)
	}
	slog.InfoContext(ctx, "backup stored",
		"generation", gen,
		"name", entry.Name,
		"size", entry.Size,
	)
	return entry, nil
}

// Manifest は世代のバックアップ一覧を返す。generation が0の場合は現行世代。
func (s *BackupService) Manifest(ctx context.Context, generation uint) (*vault.Manifest, error) {
	gen, err := s.resolve(ctx, generation)
	if err != nil {
		return nil, err
	}
	m, err := s.backups.Manifest(ctx, gen)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return m, nil
}

func (s *BackupService) resolve(ctx context.Context, generation uint) (uint, error) {
	if generation != 0 {
		cfg, err := s.configs.FindByGeneration(ctx, generation)
		if err != nil {
			return 0, fmt.Errorf("finding config: %w", err)
		}
		if cfg == nil {
			return 0, domain.ErrNoActiveConfig
		}
		return generation, nil
	}
	cfg, err := s.configs.GetCurrent(ctx)
	if err != nil {
		return 0, fmt.Errorf("finding current config: %w", err)
	}
	if cfg == nil {
		return 0, domain.ErrNoActiveConfig
	}
	return cfg.Generation, nil
}
