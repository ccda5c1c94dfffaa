package repository

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"breakglass-service/internal/domain"
)

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
	// :memory: は接続ごとに別DBになるため1接続に固定する
	sqlDB.SetMaxOpenConns(1)

	if err := ApplySQLiteSchema(db); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	return db
}

// seedGeneration は世代と n 人の保有者を登録し、保有者を返す。
func seedGeneration(t *testing.T, db *gorm.DB, generation uint, threshold, total int, expectedCurrent uint) []*domain.KeyHolder {
	t.Helper()

	now := time.Now().UTC()
	cfg := &domain.ThresholdConfig{
		Generation:    generation,
		Threshold:     threshold,
		TotalShares:   total,
		NextTestDueAt: now.Add(domain.DrillCadence),
	}
	holders := make([]*domain.KeyHolder, total)
	for i := range holders {
		holders[i] = &domain.KeyHolder{
			Generation:        generation,
			Identity:          "holder-" + string(rune('a'+i)),
			Ordinal:           i + 1,
			EncryptedShare:    []byte{byte(i)},
			ShareFingerprint:  "00",
			KeyIssuedAt:       now,
			RotationDueAt:     now.Add(domain.KeyRotationInterval),
			VerificationDueAt: now.Add(domain.VerificationInterval),
			TrainingExpiresAt: now.Add(domain.TrainingValidity),
			Status:            domain.HolderStatusActive,
		}
	}
	if err := NewConfigRepository(db).CreateGeneration(context.Background(), cfg, holders, expectedCurrent); err != nil {
		t.Fatalf("failed to seed generation %d: %v", generation, err)
	}
	return holders
}
