package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"breakglass-service/internal/domain"
)

// mockHolderRepository はテスト用のモックリポジトリ。
type mockHolderRepository struct {
	holders         map[string]*domain.KeyHolder
	existsOrdinal   bool
	existsIdentity  bool
	createErr       error
	listDueResult   []*domain.KeyHolder
	listDueBefore   time.Time
	updatedStatuses map[string]domain.HolderStatus
	trainingUpdates map[string]time.Time
	verifyUpdates   map[string]time.Time
	created         []*domain.KeyHolder
}

func newMockHolderRepository(holders ...*domain.KeyHolder) *mockHolderRepository {
	m := &mockHolderRepository{
		holders:         map[string]*domain.KeyHolder{},
		updatedStatuses: map[string]domain.HolderStatus{},
		trainingUpdates: map[string]time.Time{},
		verifyUpdates:   map[string]time.Time{},
	}
	for _, h := range holders {
		m.holders[h.ID] = h
	}
	return m
}

func (m *mockHolderRepository) Create(ctx context.Context, h *domain.KeyHolder) error {
	if m.createErr != nil {
		return m.createErr
	}
	h.ID = "holder-new"
	m.created = append(m.created, h)
	return nil
}

func (m *mockHolderRepository) FindByID(ctx context.Context, id string) (*domain.KeyHolder, error) {
	h, ok := m.holders[id]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (m *mockHolderRepository) ExistsOrdinal(ctx context.Context, generation uint, ordinal int) (bool, error) {
	return m.existsOrdinal, nil
}

func (m *mockHolderRepository) ExistsIdentity(ctx context.Context, generation uint, identity string) (bool, error) {
	return m.existsIdentity, nil
}

func (m *mockHolderRepository) ListByGeneration(ctx context.Context, generation uint) ([]*domain.KeyHolder, error) {
	var out []*domain.KeyHolder
	for _, h := range m.holders {
		if h.Generation == generation {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *mockHolderRepository) ListActiveByGeneration(ctx context.Context, generation uint) ([]*domain.KeyHolder, error) {
	var out []*domain.KeyHolder
	for _, h := range m.holders {
		if h.Generation == generation && h.IsActive() {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *mockHolderRepository) ListDueForRotation(ctx context.Context, before time.Time) ([]*domain.KeyHolder, error) {
	m.listDueBefore = before
	return m.listDueResult, nil
}

func (m *mockHolderRepository) ListDueForTraining(ctx context.Context, before time.Time) ([]*domain.KeyHolder, error) {
	m.listDueBefore = before
	return m.listDueResult, nil
}

func (m *mockHolderRepository) ListDueForVerification(ctx context.Context, before time.Time) ([]*domain.KeyHolder, error) {
	m.listDueBefore = before
	return m.listDueResult, nil
}

func (m *mockHolderRepository) UpdateStatus(ctx context.Context, id string, status domain.HolderStatus) error {
	m.updatedStatuses[id] = status
	return nil
}

func (m *mockHolderRepository) UpdateTraining(ctx context.Context, id string, expiresAt time.Time) error {
	m.trainingUpdates[id] = expiresAt
	return nil
}

func (m *mockHolderRepository) UpdateVerification(ctx context.Context, id string, dueAt time.Time) error {
	m.verifyUpdates[id] = dueAt
	return nil
}

// mockConfigRepository はテスト用のモックリポジトリ。
type mockConfigRepository struct {
	current    *domain.ThresholdConfig
	currentErr error
	overdue    []*domain.ThresholdConfig
	created    []*domain.ThresholdConfig
	createErr  error
}

func (m *mockConfigRepository) GetCurrent(ctx context.Context) (*domain.ThresholdConfig, error) {
	return m.current, m.currentErr
}

func (m *mockConfigRepository) FindByGeneration(ctx context.Context, generation uint) (*domain.ThresholdConfig, error) {
	if m.current != nil && m.current.Generation == generation {
		return m.current, nil
	}
	return nil, nil
}

func (m *mockConfigRepository) ListAll(ctx context.Context) ([]*domain.ThresholdConfig, error) {
	return append([]*domain.ThresholdConfig(nil), m.created...), nil
}

func (m *mockConfigRepository) CreateGeneration(ctx context.Context, cfg *domain.ThresholdConfig, holders []*domain.KeyHolder, expectedCurrent uint) error {
	if m.createErr != nil {
		return m.createErr
	}
	for i, h := range holders {
		h.ID = "holder-" + string(rune('a'+i))
	}
	m.created = append(m.created, cfg)
	m.current = cfg
	return nil
}

func (m *mockConfigRepository) ListOverdue(ctx context.Context, now time.Time) ([]*domain.ThresholdConfig, error) {
	return m.overdue, nil
}

var validFingerprint = strings.Repeat("ab", 32)

func TestHolderService_RegisterHolder(t *testing.T) {
	current := &domain.ThresholdConfig{Generation: 2, Threshold: 3, TotalShares: 5}
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	valid := HolderRegistration{
		Identity:         "alice@example.com",
		RoleLabel:        "cfo",
		Ordinal:          3,
		EncryptedShare:   []byte("age-ciphertext"),
		ShareFingerprint: strings.ToUpper(validFingerprint),
		ContactChannels:  []string{"email:alice@example.com"},
	}

	tests := []struct {
		name    string
		config  *domain.ThresholdConfig
		repo    func() *mockHolderRepository
		modify  func(r *HolderRegistration)
		wantErr error
	}{
		{
			name:   "success",
			config: current,
			repo:   func() *mockHolderRepository { return newMockHolderRepository() },
		},
		{
			name:    "no active config",
			repo:    func() *mockHolderRepository { return newMockHolderRepository() },
			wantErr: domain.ErrNoActiveConfig,
		},
		{
			name:    "invalid fingerprint",
			config:  current,
			repo:    func() *mockHolderRepository { return newMockHolderRepository() },
			modify:  func(r *HolderRegistration) { r.ShareFingerprint = "abc" },
			wantErr: domain.ErrInvalidFingerprint,
		},
		{
			name:    "ordinal above total",
			config:  current,
			repo:    func() *mockHolderRepository { return newMockHolderRepository() },
			modify:  func(r *HolderRegistration) { r.Ordinal = 6 },
			wantErr: domain.ErrInvalidOrdinal,
		},
		{
			name:    "ordinal zero",
			config:  current,
			repo:    func() *mockHolderRepository { return newMockHolderRepository() },
			modify:  func(r *HolderRegistration) { r.Ordinal = 0 },
			wantErr: domain.ErrInvalidOrdinal,
		},
		{
			name:   "duplicate ordinal",
			config: current,
			repo: func() *mockHolderRepository {
				m := newMockHolderRepository()
				m.existsOrdinal = true
				return m
			},
			wantErr: domain.ErrDuplicateOrdinal,
		},
		{
			name:   "duplicate identity",
			config: current,
			repo: func() *mockHolderRepository {
				m := newMockHolderRepository()
				m.existsIdentity = true
				return m
			},
			wantErr: domain.ErrDuplicateHolder,
		},
		{
			name:    "unsupported channel",
			config:  current,
			repo:    func() *mockHolderRepository { return newMockHolderRepository() },
			modify:  func(r *HolderRegistration) { r.ContactChannels = []string{"pager:123"} },
			wantErr: domain.ErrInvalidEnrollment,
		},
		{
			name:    "missing ciphertext",
			config:  current,
			repo:    func() *mockHolderRepository { return newMockHolderRepository() },
			modify:  func(r *HolderRegistration) { r.EncryptedShare = nil },
			wantErr: domain.ErrInvalidEnrollment,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := tt.repo()
			svc := NewHolderService(repo, &mockConfigRepository{current: tt.config})
			svc.now = func() time.Time { return fixed }

			reg := valid
			if tt.modify != nil {
				tt.modify(&reg)
			}
			got, err := svc.RegisterHolder(context.Background(), reg)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("RegisterHolder() error = %v, want %v", err, tt.wantErr)
				}
				if len(repo.created) != 0 {
					t.Error("holder was created despite error")
				}
				return
			}
			if err != nil {
				t.Fatalf("RegisterHolder() unexpected error = %v", err)
			}
			if got.Generation != 2 || got.Ordinal != 3 || got.Status != domain.HolderStatusActive {
				t.Errorf("RegisterHolder() = %+v", got)
			}
			if !got.RotationDueAt.Equal(fixed.Add(domain.KeyRotationInterval)) {
				t.Errorf("RotationDueAt = %v", got.RotationDueAt)
			}
			if !got.VerificationDueAt.Equal(fixed.Add(domain.VerificationInterval)) {
				t.Errorf("VerificationDueAt = %v", got.VerificationDueAt)
			}
			if repo.created[0].ShareFingerprint != validFingerprint {
				t.Errorf("fingerprint not normalized: %q", repo.created[0].ShareFingerprint)
			}
		})
	}
}

func TestHolderService_StatusTransitions(t *testing.T) {
	ctx := context.Background()
	repo := newMockHolderRepository(
		&domain.KeyHolder{ID: "active", Generation: 1, Status: domain.HolderStatusActive},
		&domain.KeyHolder{ID: "suspended", Generation: 1, Status: domain.HolderStatusSuspended},
		&domain.KeyHolder{ID: "revoked", Generation: 1, Status: domain.HolderStatusRevoked},
	)
	svc := NewHolderService(repo, &mockConfigRepository{})

	if _, err := svc.SuspendHolder(ctx, "active"); err != nil {
		t.Errorf("SuspendHolder(active) error = %v", err)
	}
	if repo.updatedStatuses["active"] != domain.HolderStatusSuspended {
		t.Errorf("status = %v, want suspended", repo.updatedStatuses["active"])
	}
	if _, err := svc.ReinstateHolder(ctx, "suspended"); err != nil {
		t.Errorf("ReinstateHolder(suspended) error = %v", err)
	}
	if _, err := svc.RevokeHolder(ctx, "suspended"); err != nil {
		t.Errorf("RevokeHolder(suspended) error = %v", err)
	}

	for _, fn := range []func(context.Context, string) (*domain.HolderSummary, error){
		svc.ReinstateHolder, svc.SuspendHolder, svc.RevokeHolder,
	} {
		if _, err := fn(ctx, "revoked"); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("transition from revoked error = %v, want %v", err, domain.ErrInvalidTransition)
		}
	}
	if _, err := svc.ReinstateHolder(ctx, "active"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("ReinstateHolder(active) error = %v, want %v", err, domain.ErrInvalidTransition)
	}
	if _, err := svc.RevokeHolder(ctx, "missing"); !errors.Is(err, domain.ErrUnknownHolder) {
		t.Errorf("RevokeHolder(missing) error = %v, want %v", err, domain.ErrUnknownHolder)
	}
}

func TestHolderService_Reminders(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	repo := newMockHolderRepository(&domain.KeyHolder{ID: "h1", Generation: 1, Status: domain.HolderStatusActive})
	repo.listDueResult = []*domain.KeyHolder{{ID: "h1", Generation: 1, EncryptedShare: []byte("secret")}}
	svc := NewHolderService(repo, &mockConfigRepository{})
	svc.now = func() time.Time { return fixed }

	due, err := svc.ListDueForRotation(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("ListDueForRotation() error = %v", err)
	}
	if len(due) != 1 || due[0].ID != "h1" {
		t.Errorf("ListDueForRotation() = %+v", due)
	}
	if want := fixed.Add(30 * 24 * time.Hour); !repo.listDueBefore.Equal(want) {
		t.Errorf("before = %v, want %v", repo.listDueBefore, want)
	}

	if _, err := svc.RecordVerification(ctx, "h1"); err != nil {
		t.Fatalf("RecordVerification() error = %v", err)
	}
	if got := repo.verifyUpdates["h1"]; !got.Equal(fixed.Add(domain.VerificationInterval)) {
		t.Errorf("verification due = %v", got)
	}

	expires := fixed.Add(200 * 24 * time.Hour)
	got, err := svc.RecordTraining(ctx, "h1", expires)
	if err != nil {
		t.Fatalf("RecordTraining() error = %v", err)
	}
	if !got.TrainingExpiresAt.Equal(expires) || !repo.trainingUpdates["h1"].Equal(expires) {
		t.Errorf("training expires = %v", got.TrainingExpiresAt)
	}
}
