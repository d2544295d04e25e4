package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"allowance/internal/core"
	"allowance/internal/ports"
)

const inviteCodeAttempts = 8

func (r *Repository) HouseholdForUser(ctx context.Context, userID string) (core.Household, error) {
	var h core.Household
	err := r.queryRow(ctx, r.db, qHouseholdForUser, userID).Scan(&h.ID, &h.Name, &h.InviteCode)
	if err != nil {
		return core.Household{}, notFound(err, "household for user "+userID)
	}
	return h, nil
}

func (r *Repository) CreateHousehold(ctx context.Context, userID string, h core.Household) (core.Household, error) {
	if h.ID == "" {
		h.ID = core.NewID()
	}
	h.Name = strings.TrimSpace(h.Name)

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := r.queryRow(ctx, tx, qMembershipForUser, userID).Scan(&existing)
		if err == nil {
			return ports.ErrAlreadyMember
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check membership: %w", err)
		}

		code, err := r.freeInviteCode(ctx, tx, h.InviteCode)
		if err != nil {
			return err
		}
		h.InviteCode = code

		now := time.Now().UnixMilli()
		if _, err := r.exec(ctx, tx, qCreateHousehold, h.ID, h.Name, h.InviteCode, now); err != nil {
			return fmt.Errorf("create household: %w", err)
		}
		if _, err := r.exec(ctx, tx, qAddMember, userID, h.ID, now); err != nil {
			return fmt.Errorf("add member: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Household{}, err
	}
	return h, nil
}

// freeInviteCode returns want when unused, otherwise a fresh random code.
func (r *Repository) freeInviteCode(ctx context.Context, tx *sql.Tx, want string) (string, error) {
	code := want
	for i := 0; i < inviteCodeAttempts; i++ {
		if code == "" {
			code = core.NewInviteCode()
		}
		var n int
		if err := r.queryRow(ctx, tx, qInviteCodeInUse, code).Scan(&n); err != nil {
			return "", fmt.Errorf("check invite code: %w", err)
		}
		if n == 0 {
			return code, nil
		}
		code = ""
	}
	return "", fmt.Errorf("could not allocate a unique invite code")
}

func (r *Repository) JoinHousehold(ctx context.Context, userID, inviteCode string) (core.Household, error) {
	code := core.NormalizeInviteCode(inviteCode)
	if code == "" {
		return core.Household{}, ports.ErrInvalidInviteCode
	}

	var h core.Household
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		err := r.queryRow(ctx, tx, qHouseholdByCode, code).Scan(&h.ID, &h.Name, &h.InviteCode)
		if errors.Is(err, sql.ErrNoRows) {
			return ports.ErrInvalidInviteCode
		}
		if err != nil {
			return fmt.Errorf("find household by code: %w", err)
		}

		var current string
		err = r.queryRow(ctx, tx, qMembershipForUser, userID).Scan(&current)
		switch {
		case err == nil && current == h.ID:
			return nil
		case err == nil:
			return ports.ErrAlreadyMember
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("check membership: %w", err)
		}

		if _, err := r.exec(ctx, tx, qAddMember, userID, h.ID, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("add member: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Household{}, err
	}
	return h, nil
}

func (r *Repository) InviteCode(ctx context.Context, householdID string) (string, error) {
	var code string
	if err := r.queryRow(ctx, r.db, qInviteCode, householdID).Scan(&code); err != nil {
		return "", notFound(err, "household "+householdID)
	}
	return code, nil
}

func (r *Repository) IsMember(ctx context.Context, userID, householdID string) (bool, error) {
	var n int
	if err := r.queryRow(ctx, r.db, qIsMember, userID, householdID).Scan(&n); err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return n > 0, nil
}

// View tokens

func (r *Repository) GetOrCreateViewToken(ctx context.Context, kidID string) (string, error) {
	var token string
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		err := r.queryRow(ctx, tx, qViewTokenForKid, kidID).Scan(&token)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("get view token: %w", err)
		}
		if err := r.lockKid(ctx, tx, kidID); err != nil {
			return err
		}
		token = core.NewSecretToken()
		if _, err := r.exec(ctx, tx, qCreateViewToken, token, kidID, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("create view token: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (r *Repository) KidForViewToken(ctx context.Context, token string) (core.Kid, error) {
	k, err := scanKid(r.queryRow(ctx, r.db, qKidForViewToken, token))
	if err != nil {
		return core.Kid{}, notFound(err, "view token")
	}
	return k, nil
}
