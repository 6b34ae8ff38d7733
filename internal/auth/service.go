// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package auth provides operator account management, password hashing, and
// the one-way key hashing used across the activation core.
package auth

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/keygate/keygate/internal/dbinterface"
	"github.com/keygate/keygate/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSetupAlreadyDone   = errors.New("setup already completed")
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
)

type Service struct {
	userStore *models.UserStore
}

func NewService(db dbinterface.Querier) *Service {
	return &Service{userStore: models.NewUserStore(db)}
}

// SetupUser creates the initial operator account. Only one account can be
// bootstrapped this way.
func (s *Service) SetupUser(ctx context.Context, username, password string) (*models.User, error) {
	if len(password) < 8 {
		return nil, ErrPasswordTooShort
	}

	count, err := s.userStore.Count(ctx)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrSetupAlreadyDone
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user, err := s.userStore.Create(ctx, username, hash)
	if err != nil {
		return nil, err
	}

	log.Info().Str("username", username).Msg("Operator account created")

	return user, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.userStore.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	valid, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

func (s *Service) ChangePassword(ctx context.Context, username, currentPassword, newPassword string) error {
	if len(newPassword) < 8 {
		return ErrPasswordTooShort
	}

	if _, err := s.Login(ctx, username, currentPassword); err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	return s.userStore.UpdatePassword(ctx, username, hash)
}

// IsSetupComplete reports whether an operator account exists yet.
func (s *Service) IsSetupComplete(ctx context.Context) (bool, error) {
	count, err := s.userStore.Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
