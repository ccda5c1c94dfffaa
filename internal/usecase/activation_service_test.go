package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"breakglass-service/internal/domain"
	"breakglass-service/internal/repository"
)

func TestActivationService_QuorumTriggersRecovery(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 3, 5)
	if _, err := env.vault.PutBackup(ctx, 1, "ledger.db", []byte("ledger-contents")); err != nil {
		t.Fatalf("PutBackup() error = %v", err)
	}

	a := env.activate(t)
	if a.Status != domain.ActivationStatusCollecting {
		t.Fatalf("Status = %v, want %v", a.Status, domain.ActivationStatusCollecting)
	}
	if a.Generation != 1 || a.Threshold != 3 || a.TotalShares != 5 {
		t.Errorf("snapshot = gen %d %d/%d, want gen 1 3/5", a.Generation, a.Threshold, a.TotalShares)
	}

	for i := 0; i < 2; i++ {
		res, err := env.submit(t, a.ID, i)
		if err != nil {
			t.Fatalf("SubmitSignature(%d) error = %v", i, err)
		}
		if res.QuorumReached {
			t.Errorf("SubmitSignature(%d) QuorumReached = true before threshold", i)
		}
		if res.Status != domain.ActivationStatusCollecting || res.SignaturesReceived != i+1 {
			t.Errorf("SubmitSignature(%d) = %+v", i, res)
		}
	}

	res, err := env.submit(t, a.ID, 2)
	if err != nil {
		t.Fatalf("SubmitSignature(2) error = %v", err)
	}
	if !res.QuorumReached || res.Status != domain.ActivationStatusAuthorized || res.SignaturesReceived != 3 {
		t.Fatalf("SubmitSignature(2) = %+v, want quorum", res)
	}

	env.runner.Wait()

	got, err := env.activations.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != domain.ActivationStatusRecovering {
		t.Errorf("Status = %v, want %v", got.Status, domain.ActivationStatusRecovering)
	}
	if got.RecoveryCompletedAt == nil || got.RecoveryInProgress || got.LastRecoveryError != "" {
		t.Errorf("recovery state = completed %v, in progress %v, error %q", got.RecoveryCompletedAt, got.RecoveryInProgress, got.LastRecoveryError)
	}
	want := []string{
		domain.ActionRecoveryStarted,
		domain.ActionSharesCombined,
		domain.ActionVaultAccessed,
		domain.ActionBackupRestored,
		domain.ActionIntegrityVerified,
		domain.ActionRecoveryCompleted,
	}
	if names := actionNames(got.Actions); !reflect.DeepEqual(names, want) {
		t.Errorf("actions = %v, want %v", names, want)
	}
	for _, s := range got.Signatures {
		if len(s.SealedShare) != 0 {
			t.Errorf("slot %d exposes sealed share in detail", s.Slot)
		}
	}

	restored, err := os.ReadFile(filepath.Join(env.restoreDir, "gen-1", "ledger.db"))
	if err != nil {
		t.Fatalf("reading restored file: %v", err)
	}
	if string(restored) != "ledger-contents" {
		t.Errorf("restored = %q", restored)
	}

	resolved, err := env.activations.Resolve(ctx, a.ID, "incident-commander")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.Status != domain.ActivationStatusResolved {
		t.Errorf("Status = %v, want resolved", resolved.Status)
	}
	sealed, err := env.activationRepo.ListSealedShares(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListSealedShares() error = %v", err)
	}
	if len(sealed) != 0 {
		t.Errorf("sealed shares after resolve = %d, want 0", len(sealed))
	}

	env.activations.WaitNotifications()
	if n := env.notifier.count(); n != 5 {
		t.Errorf("notifications = %d, want 5", n)
	}
	if n := env.metrics.counter("signature:accepted"); n != 3 {
		t.Errorf("accepted signatures metric = %d, want 3", n)
	}
}

func TestActivationService_LateSignatureIsRecordedWithoutShare(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 3, 5)
	a := env.activate(t)

	for i := 0; i < 3; i++ {
		if _, err := env.submit(t, a.ID, i); err != nil {
			t.Fatalf("SubmitSignature(%d) error = %v", i, err)
		}
	}
	env.runner.Wait()

	res, err := env.submit(t, a.ID, 3)
	if err != nil {
		t.Fatalf("late SubmitSignature() error = %v", err)
	}
	if res.QuorumReached {
		t.Error("late signature reported QuorumReached")
	}
	if res.SignaturesReceived != 4 || res.Slot != 4 {
		t.Errorf("late signature = %+v, want slot 4", res)
	}

	// 定足数到達後は分割片なしでも記録できる
	res, err = env.activations.SubmitSignature(ctx, SignatureSubmission{
		ActivationID: a.ID,
		HolderID:     env.issued[4].HolderID,
		Origin:       "test",
	})
	if err != nil {
		t.Fatalf("share-less SubmitSignature() error = %v", err)
	}
	if res.SignaturesReceived != 5 {
		t.Errorf("SignaturesReceived = %d, want 5", res.SignaturesReceived)
	}

	sealed, err := env.activationRepo.ListSealedShares(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListSealedShares() error = %v", err)
	}
	if len(sealed) != 3 {
		t.Errorf("sealed shares = %d, want 3", len(sealed))
	}
}

func TestActivationService_SignatureRejections(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 3, 5)
	a := env.activate(t)

	if _, err := env.submit(t, a.ID, 0); err != nil {
		t.Fatalf("SubmitSignature() error = %v", err)
	}

	tests := []struct {
		name string
		sub  func() SignatureSubmission
		want error
	}{
		{
			name: "duplicate",
			sub: func() SignatureSubmission {
				return SignatureSubmission{ActivationID: a.ID, HolderID: env.issued[0].HolderID, Share: env.share(t, 0)}
			},
			want: domain.ErrDuplicateSignature,
		},
		{
			name: "unknown activation",
			sub: func() SignatureSubmission {
				return SignatureSubmission{ActivationID: "missing", HolderID: env.issued[1].HolderID, Share: env.share(t, 1)}
			},
			want: domain.ErrUnknownActivation,
		},
		{
			name: "unknown holder",
			sub: func() SignatureSubmission {
				return SignatureSubmission{ActivationID: a.ID, HolderID: "missing", Share: env.share(t, 1)}
			},
			want: domain.ErrUnknownHolder,
		},
		{
			name: "share of another holder",
			sub: func() SignatureSubmission {
				return SignatureSubmission{ActivationID: a.ID, HolderID: env.issued[1].HolderID, Share: env.share(t, 2)}
			},
			want: domain.ErrFingerprintMismatch,
		},
		{
			name: "missing share before quorum",
			sub: func() SignatureSubmission {
				return SignatureSubmission{ActivationID: a.ID, HolderID: env.issued[1].HolderID}
			},
			want: domain.ErrMalformedShare,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.activations.SubmitSignature(ctx, tt.sub())
			if !errors.Is(err, tt.want) {
				t.Errorf("SubmitSignature() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := env.holders.SuspendHolder(ctx, env.issued[1].HolderID); err != nil {
		t.Fatalf("SuspendHolder() error = %v", err)
	}
	if _, err := env.submit(t, a.ID, 1); !errors.Is(err, domain.ErrInactiveHolder) {
		t.Errorf("suspended holder error = %v, want %v", err, domain.ErrInactiveHolder)
	}

	got, err := env.activations.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.SignaturesReceived != 1 || got.Status != domain.ActivationStatusCollecting {
		t.Errorf("after rejections = %d signatures, %v", got.SignaturesReceived, got.Status)
	}
}

func TestActivationService_VaultUnreachableThenRetry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2, 3)
	if _, err := env.vault.PutBackup(ctx, 1, "config.tar", []byte("config")); err != nil {
		t.Fatalf("PutBackup() error = %v", err)
	}
	a := env.activate(t)

	env.store.setDown(true)
	for i := 0; i < 2; i++ {
		if _, err := env.submit(t, a.ID, i); err != nil {
			t.Fatalf("SubmitSignature(%d) error = %v", i, err)
		}
	}
	env.runner.Wait()

	got, err := env.activations.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	// 運用エラーは authorized の事実を覆さない
	if got.Status != domain.ActivationStatusRecovering || got.AuthorizedAt == nil {
		t.Errorf("Status = %v, AuthorizedAt = %v", got.Status, got.AuthorizedAt)
	}
	if got.RecoveryCompletedAt != nil || got.RecoveryInProgress {
		t.Errorf("recovery completed = %v, in progress = %v", got.RecoveryCompletedAt, got.RecoveryInProgress)
	}
	if !strings.Contains(got.LastRecoveryError, "vault unreachable") {
		t.Errorf("LastRecoveryError = %q", got.LastRecoveryError)
	}
	want := []string{domain.ActionRecoveryStarted, domain.ActionSharesCombined, domain.ActionVaultUnreachable}
	if names := actionNames(got.Actions); !reflect.DeepEqual(names, want) {
		t.Errorf("actions = %v, want %v", names, want)
	}
	if _, err := env.activations.Resolve(ctx, a.ID, "ic"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Resolve() before completion error = %v, want %v", err, domain.ErrInvalidTransition)
	}

	env.store.setDown(false)
	if err := env.activations.RetryRecovery(ctx, a.ID); err != nil {
		t.Fatalf("RetryRecovery() error = %v", err)
	}
	env.runner.Wait()

	got, err = env.activations.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RecoveryCompletedAt == nil || got.LastRecoveryError != "" {
		t.Errorf("after retry completed = %v, error = %q", got.RecoveryCompletedAt, got.LastRecoveryError)
	}
	names := actionNames(got.Actions)
	if names[len(names)-1] != domain.ActionRecoveryCompleted {
		t.Errorf("last action = %q, want %q", names[len(names)-1], domain.ActionRecoveryCompleted)
	}
	if err := env.activations.RetryRecovery(ctx, a.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("RetryRecovery() after completion error = %v, want %v", err, domain.ErrInvalidTransition)
	}
	if n := env.metrics.counter("recovery:vault:unreachable"); n != 1 {
		t.Errorf("vault unreachable metric = %d, want 1", n)
	}
}

func TestActivationService_ConcurrentSubmissionsReachQuorumOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 3, 5)
	a := env.activate(t)

	shares := make([][]byte, 5)
	for i := range shares {
		shares[i] = env.share(t, i)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		quorums int
		slots   = map[int]bool{}
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.activations.SubmitSignature(ctx, SignatureSubmission{
				ActivationID: a.ID,
				HolderID:     env.issued[i].HolderID,
				Share:        shares[i],
			})
			if err != nil {
				t.Errorf("SubmitSignature(%d) error = %v", i, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.QuorumReached {
				quorums++
			}
			slots[res.Slot] = true
		}(i)
	}
	wg.Wait()
	env.runner.Wait()

	if quorums != 1 {
		t.Errorf("QuorumReached count = %d, want 1", quorums)
	}
	if len(slots) != 5 {
		t.Errorf("distinct slots = %d, want 5", len(slots))
	}

	got, err := env.activations.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.SignaturesReceived != 5 {
		t.Errorf("SignaturesReceived = %d, want 5", got.SignaturesReceived)
	}
	started := 0
	for _, act := range got.Actions {
		if act.Action == domain.ActionRecoveryStarted {
			started++
		}
	}
	if started != 1 {
		t.Errorf("recovery started %d times, want 1", started)
	}
}

func TestActivationService_CancelAndRejection(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2, 3)
	a := env.activate(t)

	if _, err := env.submit(t, a.ID, 0); err != nil {
		t.Fatalf("SubmitSignature() error = %v", err)
	}
	if _, err := env.activations.RecordRejection(ctx, a.ID, env.issued[0].HolderID, "no"); !errors.Is(err, domain.ErrAlreadySigned) {
		t.Errorf("RecordRejection() by signer error = %v, want %v", err, domain.ErrAlreadySigned)
	}
	rej, err := env.activations.RecordRejection(ctx, a.ID, env.issued[1].HolderID, "not a real incident")
	if err != nil {
		t.Fatalf("RecordRejection() error = %v", err)
	}
	if rej.Reason != "not a real incident" {
		t.Errorf("Reason = %q", rej.Reason)
	}
	if _, err := env.activations.RecordRejection(ctx, a.ID, env.issued[1].HolderID, "again"); !errors.Is(err, domain.ErrDuplicateRejection) {
		t.Errorf("second RecordRejection() error = %v, want %v", err, domain.ErrDuplicateRejection)
	}

	// 停止中の保有者は拒否を記録できない
	if _, err := env.holders.SuspendHolder(ctx, env.issued[2].HolderID); err != nil {
		t.Fatalf("SuspendHolder() error = %v", err)
	}
	if _, err := env.activations.RecordRejection(ctx, a.ID, env.issued[2].HolderID, "suspended"); !errors.Is(err, domain.ErrInactiveHolder) {
		t.Errorf("RecordRejection() by suspended holder error = %v, want %v", err, domain.ErrInactiveHolder)
	}

	// 拒否は定足数に数えない
	got, err := env.activations.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.SignaturesReceived != 1 || len(got.Rejections) != 1 {
		t.Errorf("signatures = %d, rejections = %d", got.SignaturesReceived, len(got.Rejections))
	}

	cancelled, err := env.activations.Cancel(ctx, a.ID, "oncall", "false alarm")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if cancelled.Status != domain.ActivationStatusCancelled || cancelled.CancelledAt == nil {
		t.Errorf("Cancel() = %v at %v", cancelled.Status, cancelled.CancelledAt)
	}
	if _, err := env.submit(t, a.ID, 2); !errors.Is(err, domain.ErrActivationClosed) {
		t.Errorf("SubmitSignature() after cancel error = %v, want %v", err, domain.ErrActivationClosed)
	}
	if _, err := env.activations.Cancel(ctx, a.ID, "oncall", "again"); !errors.Is(err, domain.ErrActivationClosed) {
		t.Errorf("second Cancel() error = %v, want %v", err, domain.ErrActivationClosed)
	}

	// 定足数到達後は取り消せない
	b := env.activate(t)
	for i := 0; i < 2; i++ {
		if _, err := env.submit(t, b.ID, i); err != nil {
			t.Fatalf("SubmitSignature(%d) error = %v", i, err)
		}
	}
	env.runner.Wait()
	if _, err := env.activations.Cancel(ctx, b.ID, "oncall", "late"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Cancel() after quorum error = %v, want %v", err, domain.ErrInvalidTransition)
	}
}

func TestActivationService_SnapshotSurvivesRotation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2, 3)
	if _, err := env.vault.PutBackup(ctx, 1, "gen1.bak", []byte("first")); err != nil {
		t.Fatalf("PutBackup() error = %v", err)
	}
	a := env.activate(t)

	oldKeys, oldIssued := env.keys, env.issued
	res, err := env.trust.Rotate(ctx, env.ceremony(t, 3, 4))
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if res.Config.Generation != 2 || len(res.Shares) != 4 {
		t.Fatalf("Rotate() = gen %d with %d shares", res.Config.Generation, len(res.Shares))
	}
	newIssued := res.Shares

	// 新世代の保有者は旧世代の発動に署名できない
	env.issued = newIssued
	if _, err := env.submit(t, a.ID, 0); !errors.Is(err, domain.ErrGenerationMismatch) {
		t.Errorf("new-generation holder error = %v, want %v", err, domain.ErrGenerationMismatch)
	}

	// 旧世代の保有者は発動時のスナップショット（2/3）で復旧できる
	newKeys := env.keys
	env.keys, env.issued = oldKeys, oldIssued
	for i := 0; i < 2; i++ {
		if _, err := env.submit(t, a.ID, i); err != nil {
			t.Fatalf("SubmitSignature(%d) error = %v", i, err)
		}
	}
	env.runner.Wait()
	got, err := env.activations.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RecoveryCompletedAt == nil {
		t.Errorf("recovery not completed: %q", got.LastRecoveryError)
	}

	// 新しい発動は新世代を使う
	env.keys, env.issued = newKeys, newIssued
	b := env.activate(t)
	if b.Generation != 2 || b.Threshold != 3 || b.TotalShares != 4 {
		t.Errorf("new activation snapshot = gen %d %d/%d", b.Generation, b.Threshold, b.TotalShares)
	}
}

func TestActivationService_Activate(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid severity", func(t *testing.T) {
		env := newTestEnv(t, 1, 1)
		_, err := env.activations.Activate(ctx, ActivationRequest{Reason: "x", Severity: "low"})
		if !errors.Is(err, domain.ErrInvalidSeverity) {
			t.Errorf("Activate() error = %v, want %v", err, domain.ErrInvalidSeverity)
		}
	})

	t.Run("no active config", func(t *testing.T) {
		db := setupTestDB(t)
		svc := NewActivationService(repository.NewActivationRepository(db), repository.NewConfigRepository(db),
			repository.NewHolderRepository(db), &fakeSealer{}, nil, nil, nil)
		_, err := svc.Activate(ctx, ActivationRequest{Reason: "x", Severity: "high"})
		if !errors.Is(err, domain.ErrNoActiveConfig) {
			t.Errorf("Activate() error = %v, want %v", err, domain.ErrNoActiveConfig)
		}
	})

	t.Run("notification failure does not fail activation", func(t *testing.T) {
		env := newTestEnv(t, 1, 2)
		env.notifier.err = errors.New("smtp down")
		if _, err := env.activations.Activate(ctx, ActivationRequest{Reason: "x", Severity: "medium"}); err != nil {
			t.Fatalf("Activate() error = %v", err)
		}
		env.activations.WaitNotifications()
		if n := env.metrics.counter("notification_failed"); n != 2 {
			t.Errorf("notification failures = %d, want 2", n)
		}
	})

	t.Run("threshold of one authorizes on first signature", func(t *testing.T) {
		env := newTestEnv(t, 1, 2)
		a := env.activate(t)
		res, err := env.submit(t, a.ID, 1)
		if err != nil {
			t.Fatalf("SubmitSignature() error = %v", err)
		}
		if !res.QuorumReached {
			t.Error("QuorumReached = false, want true")
		}
		env.runner.Wait()
		got, err := env.activations.Get(ctx, a.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.RecoveryCompletedAt == nil {
			t.Errorf("recovery not completed: %q", got.LastRecoveryError)
		}
	})
}

func TestActivationService_ExtendAffectsProgress(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2, 3)
	a := env.activate(t)

	p, err := env.activations.Progress(ctx, a.ID)
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if !p.OnTrack {
		t.Error("fresh activation is not on track")
	}

	if _, err := env.activations.Extend(ctx, a.ID, "waiting for vendor"); err != nil {
		t.Fatalf("Extend() error = %v", err)
	}
	p, err = env.activations.Progress(ctx, a.ID)
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if p.OnTrack {
		t.Error("extended activation is on track")
	}

	got, err := env.activations.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.Extended || got.ExtensionReason != "waiting for vendor" {
		t.Errorf("Extended = %v (%q)", got.Extended, got.ExtensionReason)
	}
	if names := actionNames(got.Actions); len(names) != 1 || names[0] != domain.ActionActivationExtended {
		t.Errorf("actions = %v", names)
	}

	if _, err := env.activations.Progress(ctx, "missing"); !errors.Is(err, domain.ErrUnknownActivation) {
		t.Errorf("Progress(missing) error = %v, want %v", err, domain.ErrUnknownActivation)
	}
}
