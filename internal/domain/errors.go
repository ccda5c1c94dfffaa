package domain

import "errors"

// 構成エラー（呼び出し元の操作は即時失敗し、リトライしない）。
var (
	// ErrNoActiveConfig は有効な閾値構成（世代）が存在しない場合のエラー。
	ErrNoActiveConfig = errors.New("no active threshold config")

	// ErrConfigAlreadyInitialized は既に現行世代が存在する状態で初期化しようとした場合のエラー。
	ErrConfigAlreadyInitialized = errors.New("threshold config already initialized")

	// ErrInvalidThreshold は閾値Tと総数Nの組み合わせが不正な場合のエラー。
	ErrInvalidThreshold = errors.New("invalid threshold parameters")

	// ErrInvalidFingerprint はフィンガープリントが正しいハッシュ形式でない場合のエラー。
	ErrInvalidFingerprint = errors.New("invalid share fingerprint")

	// ErrInvalidOrdinal は保有者の順序位置が 1..N の範囲外の場合のエラー。
	ErrInvalidOrdinal = errors.New("invalid holder ordinal")

	// ErrDuplicateOrdinal は同一世代内で順序位置が既に使われている場合のエラー。
	ErrDuplicateOrdinal = errors.New("duplicate holder ordinal")

	// ErrDuplicateHolder は同一世代内に同じ識別子の保有者が既に存在する場合のエラー。
	ErrDuplicateHolder = errors.New("duplicate holder identity")

	// ErrInvalidEnrollment は鍵生成セレモニーの参加者指定が不正な場合のエラー。
	ErrInvalidEnrollment = errors.New("invalid holder enrollment")

	// ErrConcurrentRotation は世代ポインタの更新が競合した場合のエラー。
	ErrConcurrentRotation = errors.New("concurrent config rotation")
)

// 認可エラー（呼び出し元が理由を表示できるよう個別に返す）。
var (
	// ErrUnknownActivation は指定された発動が存在しない場合のエラー。
	ErrUnknownActivation = errors.New("unknown activation")

	// ErrUnknownHolder は指定された保有者が存在しない場合のエラー。
	ErrUnknownHolder = errors.New("unknown key holder")

	// ErrInactiveHolder は保有者が失効・停止されている場合のエラー。
	ErrInactiveHolder = errors.New("key holder is not active")

	// ErrDuplicateSignature は同じ保有者が同じ発動に二度署名した場合のエラー。
	ErrDuplicateSignature = errors.New("duplicate signature")

	// ErrDuplicateRejection は同じ保有者が同じ発動を二度拒否した場合のエラー。
	ErrDuplicateRejection = errors.New("duplicate rejection")

	// ErrAlreadySigned は署名済みの保有者が拒否を記録しようとした場合のエラー。
	ErrAlreadySigned = errors.New("holder already signed this activation")

	// ErrGenerationMismatch は保有者の世代が発動のスナップショット世代と異なる場合のエラー。
	ErrGenerationMismatch = errors.New("holder generation does not match activation")

	// ErrSignatureSlotsFull は署名枠がN個すべて埋まっている場合のエラー。
	ErrSignatureSlotsFull = errors.New("all signature slots are taken")

	// ErrActivationClosed は取消・解決済みの発動に対する操作のエラー。
	ErrActivationClosed = errors.New("activation is closed")

	// ErrInvalidTransition は許可されない状態遷移のエラー。
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidSeverity は重大度が critical/high/medium 以外の場合のエラー。
	ErrInvalidSeverity = errors.New("invalid severity")

	// ErrConcurrentUpdate は楽観的更新の再試行回数を使い切った場合のエラー。
	ErrConcurrentUpdate = errors.New("concurrent update conflict")

	// ErrRecoveryInProgress は復旧処理が既に実行中の場合のエラー。
	ErrRecoveryInProgress = errors.New("recovery already in progress")
)

// 暗号エラー（フェイルクローズ。部分的な復元結果は決して返さない）。
var (
	// ErrInsufficientShares は閾値未満の分割片で結合しようとした場合のエラー。
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrFingerprintMismatch は提出された分割片のハッシュが登録値と一致しない場合のエラー。
	ErrFingerprintMismatch = errors.New("share fingerprint mismatch")

	// ErrMalformedShare は分割片の形式が不正な場合のエラー。
	ErrMalformedShare = errors.New("malformed share")
)

// 運用エラー（復旧ログに記録し、authorized の事実は覆さない）。
var (
	// ErrVaultUnreachable はオフライン保管庫に到達できない場合のエラー。
	ErrVaultUnreachable = errors.New("vault unreachable")

	// ErrVaultKeyMismatch は復元した秘密で保管庫を開けなかった場合のエラー。
	ErrVaultKeyMismatch = errors.New("vault key mismatch")

	// ErrVaultNotSealed は指定世代の保管庫が封印されていない場合のエラー。
	ErrVaultNotSealed = errors.New("vault not sealed for generation")

	// ErrIntegrityCheckFailed は復元データの整合性検証に失敗した場合のエラー。
	ErrIntegrityCheckFailed = errors.New("integrity check failed")
)

// 訓練・コンプライアンス関連のエラー。
var (
	// ErrDrillNotFound は指定された訓練が存在しない場合のエラー。
	ErrDrillNotFound = errors.New("drill not found")

	// ErrDrillNotScheduled は予定状態でない訓練を完了・欠席にしようとした場合のエラー。
	ErrDrillNotScheduled = errors.New("drill is not scheduled")

	// ErrDrillInPast は過去日時に訓練を予定しようとした場合のエラー。
	ErrDrillInPast = errors.New("drill date must be in the future")

	// ErrInvalidDrillType は訓練種別が不正な場合のエラー。
	ErrInvalidDrillType = errors.New("invalid drill type")

	// ErrInvalidDrillWindow は実施終了が開始より前の場合のエラー。
	ErrInvalidDrillWindow = errors.New("drill end is before start")

	// ErrRTONotFound は指定されたRTOが存在しない場合のエラー。
	ErrRTONotFound = errors.New("recovery time objective not found")

	// ErrInvalidRTO はRTOの目標値や区分が不正な場合のエラー。
	ErrInvalidRTO = errors.New("invalid recovery time objective")
)

// マイグレーション関連のエラー。
var (
	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrMigrationFileNotFound はマイグレーションファイルが見つからない場合のエラー。
	ErrMigrationFileNotFound = errors.New("migration file not found")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)
