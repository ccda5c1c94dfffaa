package domain

import "time"

// MigrationStatus はスキーマ変更ファイルの適用状態。
type MigrationStatus string

const (
	MigrationStatusPending MigrationStatus = "pending"
	MigrationStatusApplied MigrationStatus = "applied"
	// MigrationStatusModified は適用後にファイルの内容が変わったことを示す。
	MigrationStatusModified MigrationStatus = "modified"
)

// Migration は migrations/ 配下の {version}_{name}.sql 1ファイルを表す。
type Migration struct {
	Version   string
	Name      string
	FilePath  string
	Checksum  string // 適用時のファイル内容のSHA-256（16進）
	AppliedAt *time.Time
	Status    MigrationStatus
}
