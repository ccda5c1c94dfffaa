package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"breakglass-service/internal/domain"
)

// mockRTORepository はテスト用のモックリポジトリ。
type mockRTORepository struct {
	rtos      []*domain.RecoveryTimeObjective
	createErr error
}

func (m *mockRTORepository) Create(ctx context.Context, rto *domain.RecoveryTimeObjective) error {
	if m.createErr != nil {
		return m.createErr
	}
	rto.ID = "rto-" + rto.Component
	m.rtos = append(m.rtos, rto)
	return nil
}

func (m *mockRTORepository) FindByID(ctx context.Context, id string) (*domain.RecoveryTimeObjective, error) {
	for _, r := range m.rtos {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (m *mockRTORepository) List(ctx context.Context) ([]*domain.RecoveryTimeObjective, error) {
	return m.rtos, nil
}

func (m *mockRTORepository) Delete(ctx context.Context, id string) (bool, error) {
	for i, r := range m.rtos {
		if r.ID == id {
			m.rtos = append(m.rtos[:i], m.rtos[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// mockActivationFinder はテスト用のモック。
type mockActivationFinder struct {
	activation *domain.EmergencyActivation
}

func (m *mockActivationFinder) FindByID(ctx context.Context, id string) (*domain.EmergencyActivation, error) {
	if m.activation == nil || m.activation.ID != id {
		return nil, nil
	}
	return m.activation, nil
}

func TestRTOService_Create(t *testing.T) {
	tests := []struct {
		name    string
		req     RTORequest
		wantErr error
	}{
		{"success", RTORequest{Component: "ledger", TargetRecoveryHours: 4, TargetPointHours: 1, Tier: "critical", DependsOn: []string{"database", " "}}, nil},
		{"missing component", RTORequest{TargetRecoveryHours: 4, Tier: "high"}, domain.ErrInvalidRTO},
		{"zero recovery target", RTORequest{Component: "x", Tier: "high"}, domain.ErrInvalidRTO},
		{"negative point target", RTORequest{Component: "x", TargetRecoveryHours: 1, TargetPointHours: -1, Tier: "high"}, domain.ErrInvalidRTO},
		{"unknown tier", RTORequest{Component: "x", TargetRecoveryHours: 1, Tier: "urgent"}, domain.ErrInvalidRTO},
		{"self dependency", RTORequest{Component: "x", TargetRecoveryHours: 1, Tier: "low", DependsOn: []string{"x"}}, domain.ErrInvalidRTO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockRTORepository{}
			svc := NewRTOService(repo, &mockActivationFinder{})
			got, err := svc.Create(context.Background(), tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Create() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Create() unexpected error = %v", err)
			}
			if got.Tier != domain.TierCritical || len(got.DependsOn) != 1 || got.DependsOn[0] != "database" {
				t.Errorf("Create() = %+v", got)
			}
		})
	}
}

func TestRTOService_ComponentStatus(t *testing.T) {
	ctx := context.Background()
	activatedAt := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	repo := &mockRTORepository{rtos: []*domain.RecoveryTimeObjective{
		{ID: "1", Component: "auth", TargetRecoveryHours: 2, Tier: domain.TierCritical},
		{ID: "2", Component: "reports", TargetRecoveryHours: 24, Tier: domain.TierLow, DependsOn: []string{"auth"}},
	}}
	finder := &mockActivationFinder{activation: &domain.EmergencyActivation{ID: "act", ActivatedAt: activatedAt}}
	svc := NewRTOService(repo, finder)
	svc.now = func() time.Time { return activatedAt.Add(5 * time.Hour) }

	got, err := svc.ComponentStatus(ctx, "act")
	if err != nil {
		t.Fatalf("ComponentStatus() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ComponentStatus() = %d entries", len(got))
	}
	if !got[0].Breached || got[0].HoursRemaining != 0 {
		t.Errorf("auth = %+v, want breached", got[0])
	}
	if got[1].Breached || got[1].HoursRemaining != 19 {
		t.Errorf("reports = %+v, want 19h remaining", got[1])
	}

	// 解決済みの発動は解決時刻で評価する
	resolved := activatedAt.Add(time.Hour)
	finder.activation.ResolvedAt = &resolved
	got, err = svc.ComponentStatus(ctx, "act")
	if err != nil {
		t.Fatalf("ComponentStatus() error = %v", err)
	}
	if got[0].Breached {
		t.Errorf("auth breached although resolved within target")
	}

	if _, err := svc.ComponentStatus(ctx, "missing"); !errors.Is(err, domain.ErrUnknownActivation) {
		t.Errorf("ComponentStatus(missing) error = %v, want %v", err, domain.ErrUnknownActivation)
	}
}

func TestRTOService_GetDelete(t *testing.T) {
	ctx := context.Background()
	repo := &mockRTORepository{rtos: []*domain.RecoveryTimeObjective{{ID: "1", Component: "auth"}}}
	svc := NewRTOService(repo, &mockActivationFinder{})

	if _, err := svc.Get(ctx, "1"); err != nil {
		t.Errorf("Get() error = %v", err)
	}
	if err := svc.Delete(ctx, "1"); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
	if _, err := svc.Get(ctx, "1"); !errors.Is(err, domain.ErrRTONotFound) {
		t.Errorf("Get() after delete error = %v, want %v", err, domain.ErrRTONotFound)
	}
	if err := svc.Delete(ctx, "1"); !errors.Is(err, domain.ErrRTONotFound) {
		t.Errorf("second Delete() error = %v, want %v", err, domain.ErrRTONotFound)
	}
}
