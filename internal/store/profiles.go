package store

import (
	"context"
	"database/sql"
	"errors"

	"basket-shop/internal/models"
)

// GetProfile retrieves the profile for a user
func (s *Store) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.GetContext(ctx, &profile,
		"SELECT id, full_name, phone_number, email, address FROM profiles WHERE id = $1", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// SaveProfile inserts or updates a profile. The email is only set on first insert
// when the stored one is empty, since it comes from the identity provider.
func (s *Store) SaveProfile(ctx context.Context, profile *models.Profile) error {
	query := `
		INSERT INTO profiles (id, full_name, phone_number, email, address)
		VALUES (:id, :full_name, :phone_number, :email, :address)
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			phone_number = EXCLUDED.phone_number,
			address = EXCLUDED.address,
			email = CASE WHEN profiles.email = '' THEN EXCLUDED.email ELSE profiles.email END,
			updated_at = NOW()`

	_, err := s.db.NamedExecContext(ctx, query, profile)
	return err
}
