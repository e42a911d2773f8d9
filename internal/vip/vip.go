package vip

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/pkg/logger"
)

var (
	ErrInvalidApplication = errors.New("invalid vip application")
	ErrNotFound           = errors.New("vip application not found")
	ErrAlreadyReviewed    = errors.New("vip application already reviewed")
	ErrPendingExists      = errors.New("a pending application already exists")
)

// Plan is the requested subscription length
type Plan string

const (
	PlanMonthly Plan = "monthly"
	PlanYearly  Plan = "yearly"
)

// Status of an application
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Application is a request to upgrade to the premium tier
type Application struct {
	ID         int64      `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	Plan       Plan       `json:"plan"`
	Contact    string     `json:"contact"`
	Note       string     `json:"note,omitempty"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy string     `json:"reviewed_by,omitempty"`
}

// Store persists applications
type Store interface {
	Create(ctx context.Context, a *Application) error
	Get(ctx context.Context, id int64) (*Application, error)
	List(ctx context.Context, status Status) ([]Application, error)
	// Review moves a pending application to status, failing with ErrAlreadyReviewed otherwise
	Review(ctx context.Context, id int64, status Status, reviewer string, at time.Time) error
}

// TierSetter upgrades an account
type TierSetter interface {
	SetTier(ctx context.Context, username string, tier contracts.Tier) error
}

// Service runs the submit, review workflow
type Service struct {
	store  Store
	tiers  TierSetter
	logger *logger.Logger
	now    func() time.Time
}

// NewService creates a vip service
func NewService(store Store, tiers TierSetter, log *logger.Logger) *Service {
	return &Service{store: store, tiers: tiers, logger: log.WithComponent("vip"), now: time.Now}
}

// Apply submits a pending application for username
func (s *Service) Apply(ctx context.Context, username string, a Application) (*Application, error) {
	a.Username = username
	a.Email = strings.TrimSpace(a.Email)
	a.Contact = strings.TrimSpace(a.Contact)
	if a.Plan != PlanMonthly && a.Plan != PlanYearly {
		return nil, fmt.Errorf("plan must be monthly or yearly: %w", ErrInvalidApplication)
	}
	if a.Contact == "" && a.Email == "" {
		return nil, fmt.Errorf("contact or email is required: %w", ErrInvalidApplication)
	}

	pending, err := s.store.List(ctx, StatusPending)
	if err != nil {
		return nil, err
	}
	for _, p := range pending {
		if p.Username == username {
			return nil, ErrPendingExists
		}
	}

	a.Status = StatusPending
	a.CreatedAt = s.now()
	a.ReviewedAt = nil
	a.ReviewedBy = ""
	if err := s.store.Create(ctx, &a); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"username": username,
		"plan":     a.Plan,
		"id":       a.ID,
	}).Info("VIP application submitted")
	return &a, nil
}

// Pending lists applications awaiting review, oldest first
func (s *Service) Pending(ctx context.Context) ([]Application, error) {
	return s.store.List(ctx, StatusPending)
}

// All lists every application
func (s *Service) All(ctx context.Context) ([]Application, error) {
	return s.store.List(ctx, "")
}

// Approve marks the application approved and upgrades the applicant to premium
func (s *Service) Approve(ctx context.Context, id int64, reviewer string) (*Application, error) {
	a, err := s.review(ctx, id, StatusApproved, reviewer)
	if err != nil {
		return nil, err
	}
	if err := s.tiers.SetTier(ctx, a.Username, contracts.TierPremium); err != nil {
		return nil, fmt.Errorf("upgrade %s: %w", a.Username, err)
	}
	return a, nil
}

// Reject marks the application rejected
func (s *Service) Reject(ctx context.Context, id int64, reviewer string) (*Application, error) {
	return s.review(ctx, id, StatusRejected, reviewer)
}

func (s *Service) review(ctx context.Context, id int64, status Status, reviewer string) (*Application, error) {
	now := s.now()
	if err := s.store.Review(ctx, id, status, reviewer, now); err != nil {
		return nil, err
	}
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"id":       id,
		"username": a.Username,
		"status":   status,
		"reviewer": reviewer,
	}).Info("VIP application reviewed")
	return a, nil
}
