package usecase

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"breakglass-service/internal/domain"
)

// RTORepository は復旧目標へのアクセスのインターフェース。
type RTORepository interface {
	Create(ctx context.Context, rto *domain.RecoveryTimeObjective) error
	FindByID(ctx context.Context, id string) (*domain.RecoveryTimeObjective, error)
	List(ctx context.Context) ([]*domain.RecoveryTimeObjective, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// ActivationFinder は発動の参照のインターフェース。
type ActivationFinder interface {
	FindByID(ctx context.Context, id string) (*domain.EmergencyActivation, error)
}

// RTORequest は復旧目標登録の入力。
type RTORequest struct {
	Component           string
	Description         string
	TargetRecoveryHours float64
	TargetPointHours    float64
	Tier                string
	DependsOn           []string
}

// RTOService は構成要素ごとのRTO/RPOを管理する。
type RTOService struct {
	rtos        RTORepository
	activations ActivationFinder
	now         func() time.Time
}

// NewRTOService は新しいRTOServiceを生成する。
func NewRTOService(rtos RTORepository, activations ActivationFinder) *RTOService {
	return &RTOService{
		rtos:        rtos,
		activations: activations,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create は復旧目標を登録する。構成要素名は一意。
func (s *RTOService) Create(ctx context.Context, req RTORequest) (*domain.RecoveryTimeObjective, error) {
	component := strings.TrimSpace(req.Component)
	if component == "" {
		return nil, fmt.Errorf("%w: component is required", domain.ErrInvalidRTO)
	}
	if req.TargetRecoveryHours <= 0 || req.TargetPointHours < 0 {
		return nil, fmt.Errorf("%w: targets must be positive", domain.ErrInvalidRTO)
	}
	tier, err := domain.ParseTier(req.Tier)
	if err != nil {
		return nil, err
	}
	deps := make([]string, 0, len(req.DependsOn))
	for _, d := range req.DependsOn {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if d == component {
			return nil, fmt.Errorf("%w: %s depends on itself", domain.ErrInvalidRTO, component)
		}
		deps = append(deps, d)
	}

	rto := &domain.RecoveryTimeObjective{
		Component:           component,
		Description:         req.Description,
		TargetRecoveryHours: req.TargetRecoveryHours,
		TargetPointHours:    req.TargetPointHours,
		Tier:                tier,
		DependsOn:           deps,
	}
	if err := s.rtos.Create(ctx, rto); err != nil {
		return nil, fmt.Errorf("creating rto: %w", err)
	}
	return rto, nil
}

// Get は復旧目標を返す。
func (s *RTOService) Get(ctx context.Context, id string) (*domain.RecoveryTimeObjective, error) {
	rto, err := s.rtos.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding rto: %w", err)
	}
	if rto == nil {
		return nil, domain.ErrRTONotFound
	}
	return rto, nil
}

// List は全ての復旧目標を返す。
func (s *RTOService) List(ctx context.Context) ([]*domain.RecoveryTimeObjective, error) {
	rtos, err := s.rtos.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing rtos: %w", err)
	}
	return rtos, nil
}

// Delete は復旧目標を削除する。
func (s *RTOService) Delete(ctx context.Context, id string) error {
	ok, err := s.rtos.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting rto: %w", err)
	}
	if !ok {
		return domain.ErrRTONotFound
	}
	return nil
}

// ComponentStatus は発動時刻を起点に各構成要素の復旧期限と超過有無を返す。
// 解決済みの発動は解決時刻で評価する。
func (s *RTOService) ComponentStatus(ctx context.Context, activationID string) ([]*domain.ComponentRecoveryStatus, error) {
	a, err := s.activations.FindByID(ctx, activationID)
	if err != nil {
		return nil, fmt.Errorf("finding activation: %w", err)
	}
	if a == nil {
		return nil, domain.ErrUnknownActivation
	}
	rtos, err := s.rtos.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing rtos: %w", err)
	}

	at := s.now()
	if a.ResolvedAt != nil {
		at = *a.ResolvedAt
	}
	out := make([]*domain.ComponentRecoveryStatus, len(rtos))
	for i, rto := range rtos {
		deadline := a.ActivatedAt.Add(time.Duration(rto.TargetRecoveryHours * float64(time.Hour)))
		out[i] = &domain.ComponentRecoveryStatus{
			Component:        rto.Component,
			Tier:             rto.Tier,
			RecoveryDeadline: deadline,
			HoursRemaining:   math.Max(0, deadline.Sub(at).Hours()),
			Breached:         at.After(deadline),
			DependsOn:        rto.DependsOn,
		}
	}
	return out, nil
}
