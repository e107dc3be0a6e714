package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"basket-shop/internal/apperror"
	"basket-shop/internal/auth"
	"basket-shop/internal/checkout"
	"basket-shop/internal/models"
	"basket-shop/internal/store"
	"basket-shop/internal/util"

	"go.uber.org/zap"
)

// ProfileStore reads and writes profiles
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	SaveProfile(ctx context.Context, profile *models.Profile) error
}

// Resumer continues a checkout halted for missing contact details
type Resumer interface {
	Resume(ctx context.Context, sessionID string, id *auth.Identity) (*checkout.Result, error)
}

// ProfileService manages customer contact details
type ProfileService struct {
	store    ProfileStore
	checkout Resumer
	logger   *zap.Logger
}

func NewProfileService(store ProfileStore, checkout Resumer) *ProfileService {
	return &ProfileService{
		store:    store,
		checkout: checkout,
		logger:   util.GetLogger(),
	}
}

// UpdateProfileRequest holds the editable fields. The email comes from the identity provider.
type UpdateProfileRequest struct {
	FullName    string `json:"full_name"`
	PhoneNumber string `json:"phone_number"`
	Address     string `json:"address"`
}

// UpdateProfileResponse carries the saved profile and, when the save
// unblocked a halted checkout, that checkout's outcome
type UpdateProfileResponse struct {
	Profile  *models.Profile  `json:"profile"`
	Checkout *checkout.Result `json:"checkout,omitempty"`
}

// GetProfile returns the caller's profile. A user without a row yet gets an
// empty profile carrying the identity's email.
func (s *ProfileService) GetProfile(ctx context.Context, id *auth.Identity) (*models.Profile, error) {
	ctx, span := util.StartSpan(ctx, "ProfileService.GetProfile")
	defer span.End()

	profile, err := s.store.GetProfile(ctx, id.UserID)
	if errors.Is(err, store.ErrProfileNotFound) {
		return &models.Profile{ID: id.UserID, Email: id.Email}, nil
	}
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to get profile: %w", err))
	}
	return profile, nil
}

// UpdateProfile saves the profile, then resumes a checkout of this session
// that was waiting for a phone number
func (s *ProfileService) UpdateProfile(ctx context.Context, sessionID string, id *auth.Identity, req UpdateProfileRequest) (*UpdateProfileResponse, error) {
	ctx, span := util.StartSpan(ctx, "ProfileService.UpdateProfile")
	defer span.End()

	profile := &models.Profile{
		ID:          id.UserID,
		FullName:    strings.TrimSpace(req.FullName),
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		Email:       id.Email,
		Address:     strings.TrimSpace(req.Address),
	}
	if err := s.store.SaveProfile(ctx, profile); err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to save profile: %w", err))
	}

	saved, err := s.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := &UpdateProfileResponse{Profile: saved}

	if s.checkout != nil {
		result, err := s.checkout.Resume(ctx, sessionID, id)
		switch {
		case err == nil:
		case apperror.KindOf(err) == apperror.KindPrecondition:
			// cart emptied while the customer was away
			s.logger.Info("Pending checkout not resumed",
				zap.String("user_id", id.UserID),
				zap.Error(err))
		default:
			s.logger.Error("Failed to resume checkout",
				zap.String("user_id", id.UserID),
				zap.Error(err))
		}
		resp.Checkout = result
	}
	return resp, nil
}
