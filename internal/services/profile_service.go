package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/totebags/api/internal/domain"
	"github.com/totebags/api/internal/repositories"
)

var (
	ErrProfileInvalidInput = errors.New("profile: invalid input")
	ErrProfileNotFound     = errors.New("profile: not found")
)

// ProfileServiceDeps bundles collaborators required to construct the profile service.
type ProfileServiceDeps struct {
	Profiles repositories.ProfileRepository
	Orders   repositories.OrderRepository
}

type profileService struct {
	profiles repositories.ProfileRepository
	orders   repositories.OrderRepository
}

func NewProfileService(deps ProfileServiceDeps) (ProfileService, error) {
	if deps.Profiles == nil || deps.Orders == nil {
		return nil, errors.New("profile service: profile and order repositories are required")
	}
	return &profileService{profiles: deps.Profiles, orders: deps.Orders}, nil
}

func (s *profileService) List(ctx context.Context, role string) (profiles []Profile, err error) {
	ctx, span := tracer.Start(ctx, "profile.list")
	defer func() { endSpan(span, err) }()

	var filter domain.ProfileRole
	if strings.TrimSpace(role) != "" {
		parsed, ok := domain.ParseProfileRole(role)
		if !ok {
			return nil, fmt.Errorf("%w: unknown role %q", ErrProfileInvalidInput, role)
		}
		filter = parsed
	}
	profiles, err = s.profiles.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("profile: list: %w", err)
	}
	return profiles, nil
}

// Get loads the profile and the orders placed under its user id.
func (s *profileService) Get(ctx context.Context, profileID string) (detail ProfileDetail, err error) {
	ctx, span := tracer.Start(ctx, "profile.get")
	defer func() { endSpan(span, err) }()

	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		return ProfileDetail{}, fmt.Errorf("%w: profile id is required", ErrProfileInvalidInput)
	}
	profile, err := s.profiles.FindByID(ctx, profileID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return ProfileDetail{}, fmt.Errorf("%w: %s", ErrProfileNotFound, profileID)
		}
		return ProfileDetail{}, fmt.Errorf("profile: find: %w", err)
	}
	orders, err := s.orders.ListByUser(ctx, profile.UserID)
	if err != nil {
		return ProfileDetail{}, fmt.Errorf("profile: orders: %w", err)
	}
	if orders == nil {
		orders = []Order{}
	}
	return ProfileDetail{Profile: profile, Orders: orders}, nil
}
