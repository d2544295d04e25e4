package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"allowance/internal/core"
	applog "allowance/internal/log"
	"allowance/internal/ports"
)

const defaultHouseholdName = "Our household"

type HouseholdService struct {
	store  ports.HouseholdStore
	logger *applog.Logger
}

func NewHouseholdService(store ports.HouseholdStore, logger *applog.Logger) *HouseholdService {
	return &HouseholdService{store: store, logger: logger.WithComponent(applog.ComponentHousehold)}
}

// Current returns the user's household or ErrNoHousehold.
func (s *HouseholdService) Current(ctx context.Context, userID string) (core.Household, error) {
	h, err := s.store.HouseholdForUser(ctx, userID)
	if errors.Is(err, ports.ErrNotFound) {
		return core.Household{}, ErrNoHousehold
	}
	return h, err
}

// Create starts a new household with the user as its first member.
func (s *HouseholdService) Create(ctx context.Context, userID, name string) (core.Household, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultHouseholdName
	}
	if len(name) > 80 {
		return core.Household{}, core.ErrNameTooLong
	}
	h, err := s.store.CreateHousehold(ctx, userID, core.Household{Name: name, InviteCode: core.NewInviteCode()})
	if err != nil {
		return core.Household{}, fmt.Errorf("create household: %w", err)
	}
	s.logger.InfoContext(ctx, "Household created", applog.FieldHouseholdID, h.ID, applog.FieldUserID, userID)
	return h, nil
}

// Join adds the user to the household owning the invite code.
func (s *HouseholdService) Join(ctx context.Context, userID, code string) (core.Household, error) {
	code = core.NormalizeInviteCode(code)
	if len(code) != core.InviteCodeLength {
		return core.Household{}, ports.ErrInvalidInviteCode
	}
	h, err := s.store.JoinHousehold(ctx, userID, code)
	if err != nil {
		return core.Household{}, fmt.Errorf("join household: %w", err)
	}
	s.logger.InfoContext(ctx, "Household joined", applog.FieldHouseholdID, h.ID, applog.FieldUserID, userID)
	return h, nil
}

// InviteCode returns the code other parents use to join the user's household.
func (s *HouseholdService) InviteCode(ctx context.Context, userID string) (string, error) {
	h, err := s.Current(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.store.InviteCode(ctx, h.ID)
}
