package repository

import (
	"fmt"

	"gorm.io/gorm"
)

// sqliteSchema はローカル開発・テスト用のSQLiteスキーマ。
// 本番(MySQL)のスキーマは migrations/ 配下のSQLで管理する。
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS trust_roots (
		id INTEGER PRIMARY KEY,
		current_generation INTEGER NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS threshold_configs (
		generation INTEGER PRIMARY KEY,
		threshold INTEGER NOT NULL,
		total_shares INTEGER NOT NULL,
		superseded INTEGER NOT NULL DEFAULT 0,
		superseded_at DATETIME,
		last_tested_at DATETIME,
		next_test_due_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS key_holders (
		id TEXT PRIMARY KEY,
		generation INTEGER NOT NULL,
		identity TEXT NOT NULL,
		role_label TEXT NOT NULL DEFAULT '',
		ordinal INTEGER NOT NULL,
		encrypted_share BLOB NOT NULL,
		share_fingerprint TEXT NOT NULL,
		recipient_key TEXT NOT NULL DEFAULT '',
		contact_channels TEXT,
		key_issued_at DATETIME NOT NULL,
		rotation_due_at DATETIME NOT NULL,
		verification_due_at DATETIME NOT NULL,
		training_expires_at DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(generation, ordinal),
		UNIQUE(generation, identity)
	)`,
	`CREATE TABLE IF NOT EXISTS emergency_activations (
		id TEXT PRIMARY KEY,
		trigger_ref TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL,
		severity TEXT NOT NULL,
		activated_by TEXT NOT NULL,
		activated_at DATETIME NOT NULL,
		generation INTEGER NOT NULL,
		threshold INTEGER NOT NULL,
		total_shares INTEGER NOT NULL,
		status TEXT NOT NULL,
		signatures_received INTEGER NOT NULL DEFAULT 0,
		authorized_at DATETIME,
		extended INTEGER NOT NULL DEFAULT 0,
		extension_reason TEXT,
		recovery_in_progress INTEGER NOT NULL DEFAULT 0,
		recovery_started_at DATETIME,
		recovery_completed_at DATETIME,
		last_recovery_error TEXT,
		cancelled_at DATETIME,
		cancel_reason TEXT,
		resolved_at DATETIME,
		resolved_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS activation_signatures (
		id TEXT PRIMARY KEY,
		activation_id TEXT NOT NULL,
		slot INTEGER NOT NULL,
		holder_id TEXT NOT NULL,
		submitted_at DATETIME NOT NULL,
		origin TEXT NOT NULL DEFAULT '',
		sealed_share BLOB,
		UNIQUE(activation_id, slot),
		UNIQUE(activation_id, holder_id)
	)`,
	`CREATE TABLE IF NOT EXISTS activation_rejections (
		id TEXT PRIMARY KEY,
		activation_id TEXT NOT NULL,
		holder_id TEXT NOT NULL,
		reason TEXT,
		rejected_at DATETIME NOT NULL,
		UNIQUE(activation_id, holder_id)
	)`,
	`CREATE TABLE IF NOT EXISTS recovery_actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		activation_id TEXT NOT NULL,
		action TEXT NOT NULL,
		detail TEXT,
		recorded_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS recovery_time_objectives (
		id TEXT PRIMARY KEY,
		component TEXT NOT NULL UNIQUE,
		description TEXT,
		target_recovery_hours REAL NOT NULL,
		target_point_hours REAL NOT NULL,
		tier TEXT NOT NULL,
		depends_on TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS dr_drills (
		id TEXT PRIMARY KEY,
		generation INTEGER NOT NULL,
		name TEXT NOT NULL,
		drill_type TEXT NOT NULL,
		scenario TEXT NOT NULL DEFAULT '',
		scheduled_at DATETIME NOT NULL,
		participants TEXT,
		objectives TEXT,
		target_recovery_hours REAL NOT NULL DEFAULT 0,
		actual_start DATETIME,
		actual_end DATETIME,
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		objectives_met TEXT,
		score INTEGER NOT NULL DEFAULT 0,
		issues TEXT,
		remediation TEXT,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		checksum TEXT NOT NULL DEFAULT '',
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// ApplySQLiteSchema はSQLite用のスキーマを作成する。
func ApplySQLiteSchema(db *gorm.DB) error {
	for _, stmt := range sqliteSchema {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("applying sqlite schema: %w", err)
		}
	}
	return nil
}
