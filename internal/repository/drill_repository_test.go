package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"breakglass-service/internal/domain"
)

func TestDrillRepository_CompleteAdvancesSchedule(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	seedGeneration(t, db, 1, 2, 3, 0)
	repo := NewDrillRepository(db)

	now := time.Now().UTC()
	d := &domain.DisasterRecoveryDrill{
		Generation:   1,
		Name:         "Q3 tabletop",
		Type:         domain.DrillTypeTabletop,
		ScheduledAt:  now.Add(24 * time.Hour),
		Participants: []string{"alice", "bob"},
		Objectives:   []string{"reconstruct secret"},
		Status:       domain.DrillStatusScheduled,
	}
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	start := now.Add(25 * time.Hour)
	end := start.Add(90 * time.Minute)
	d.ActualStart = &start
	d.ActualEnd = &end
	d.DurationMinutes = 90
	d.ObjectivesMet = []string{"reconstruct secret"}
	d.Score = 85
	d.Issues = []string{"slow paging"}
	nextDue := end.Add(domain.DrillCadence)
	if err := repo.Complete(ctx, d, nextDue); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	got, err := repo.FindByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got.Status != domain.DrillStatusCompleted || got.Score != 85 || len(got.ObjectivesMet) != 1 || len(got.Participants) != 2 {
		t.Errorf("unexpected drill: %+v", got)
	}

	cfg, err := NewConfigRepository(db).FindByGeneration(ctx, 1)
	if err != nil {
		t.Fatalf("FindByGeneration failed: %v", err)
	}
	if cfg.LastTestedAt == nil || !cfg.LastTestedAt.Equal(end) {
		t.Errorf("expected last tested %v, got %v", end, cfg.LastTestedAt)
	}
	if !cfg.NextTestDueAt.Equal(nextDue) {
		t.Errorf("expected next due %v, got %v", nextDue, cfg.NextTestDueAt)
	}

	// 完了済みの訓練は再度完了できない
	if err := repo.Complete(ctx, d, nextDue); !errors.Is(err, domain.ErrDrillNotScheduled) {
		t.Errorf("expected ErrDrillNotScheduled, got %v", err)
	}
}

func TestDrillRepository_CompleteOutOfOrderKeepsLatestTest(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	seedGeneration(t, db, 1, 2, 3, 0)
	repo := NewDrillRepository(db)

	now := time.Now().UTC()
	day := 24 * time.Hour
	complete := func(name string, endOffset time.Duration) time.Time {
		t.Helper()
		d := &domain.DisasterRecoveryDrill{
			Generation:  1,
			Name:        name,
			Type:        domain.DrillTypeSimulation,
			ScheduledAt: now.Add(day),
			Status:      domain.DrillStatusScheduled,
		}
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create(%s) failed: %v", name, err)
		}
		end := now.Add(endOffset)
		start := end.Add(-time.Hour)
		d.ActualStart = &start
		d.ActualEnd = &end
		d.DurationMinutes = 60
		if err := repo.Complete(ctx, d, end.Add(domain.DrillCadence)); err != nil {
			t.Fatalf("Complete(%s) failed: %v", name, err)
		}
		return end
	}

	latest := complete("later drill", 50*day)
	complete("earlier drill reported late", 10*day)

	// 古い訓練の完了で期限が戻らない
	cfg, err := NewConfigRepository(db).FindByGeneration(ctx, 1)
	if err != nil {
		t.Fatalf("FindByGeneration failed: %v", err)
	}
	if cfg.LastTestedAt == nil || !cfg.LastTestedAt.Equal(latest) {
		t.Errorf("expected last tested %v, got %v", latest, cfg.LastTestedAt)
	}
	if want := latest.Add(domain.DrillCadence); !cfg.NextTestDueAt.Equal(want) {
		t.Errorf("expected next due %v, got %v", want, cfg.NextTestDueAt)
	}

	overdue, err := NewConfigRepository(db).ListOverdue(ctx, now.Add(domain.DrillCadence+20*day))
	if err != nil {
		t.Fatalf("ListOverdue failed: %v", err)
	}
	if len(overdue) != 0 {
		t.Errorf("expected no overdue configs, got %d", len(overdue))
	}
}

func TestDrillRepository_MarkMissed(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewDrillRepository(db)

	past := time.Now().UTC().Add(-72 * time.Hour)
	d := &domain.DisasterRecoveryDrill{Generation: 1, Name: "surprise", Type: domain.DrillTypeSurprise, ScheduledAt: past, Status: domain.DrillStatusScheduled}
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	stale, err := repo.ListScheduledBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ListScheduledBefore failed: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("expected 1 stale drill, got %d", len(stale))
	}

	ok, err := repo.MarkMissed(ctx, d.ID)
	if err != nil || !ok {
		t.Fatalf("MarkMissed failed: %v %v", ok, err)
	}
	ok, err = repo.MarkMissed(ctx, d.ID)
	if err != nil || ok {
		t.Errorf("second MarkMissed must be a no-op, got %v %v", ok, err)
	}

	missed, err := repo.List(ctx, domain.DrillStatusMissed)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(missed) != 1 {
		t.Errorf("expected 1 missed drill, got %d", len(missed))
	}
}

func TestRTORepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewRTORepository(setupTestDB(t))

	rto := &domain.RecoveryTimeObjective{
		Component:           "payments-db",
		TargetRecoveryHours: 4,
		TargetPointHours:    1,
		Tier:                domain.TierCritical,
		DependsOn:           []string{"kms"},
	}
	if err := repo.Create(ctx, rto); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	dup := *rto
	dup.ID = ""
	if err := repo.Create(ctx, &dup); !errors.Is(err, domain.ErrInvalidRTO) {
		t.Errorf("expected ErrInvalidRTO for duplicate component, got %v", err)
	}

	got, err := repo.FindByID(ctx, rto.ID)
	if err != nil || got == nil || got.DependsOn[0] != "kms" {
		t.Fatalf("unexpected rto: %+v %v", got, err)
	}

	deleted, err := repo.Delete(ctx, rto.ID)
	if err != nil || !deleted {
		t.Fatalf("Delete failed: %v %v", deleted, err)
	}
	list, err := repo.List(ctx)
	if err != nil || len(list) != 0 {
		t.Errorf("expected empty list, got %d %v", len(list), err)
	}
}
