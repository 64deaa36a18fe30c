package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stellarion/api/internal/rbac"
	"github.com/stellarion/api/models"
	"github.com/stellarion/api/repositories"
	"go.uber.org/zap"
)

// ProfileRepository implements the repositories.ProfileRepository interface
type ProfileRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *DB, logger *zap.Logger) repositories.ProfileRepository {
	return &ProfileRepository{
		db:     db,
		logger: logger,
	}
}

const profileColumns = `id, email, display_name, role, created_at, last_login_at, is_active, profile_data`

// GetByID retrieves a profile by its provider-issued id
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*models.UserProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM user_profiles WHERE id = $1`

	profile, err := scanProfile(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", repositories.ErrProfileNotFound, id)
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return profile, nil
}

// Upsert inserts or updates a profile. Rows synced at a later time are left alone, so
// out-of-order mirror deliveries cannot roll a profile back.
func (r *ProfileRepository) Upsert(ctx context.Context, profile *models.UserProfile, syncedAt time.Time) (bool, error) {
	query := `
		INSERT INTO user_profiles (id, email, display_name, role, created_at, last_login_at, is_active, profile_data, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			role = EXCLUDED.role,
			last_login_at = EXCLUDED.last_login_at,
			is_active = EXCLUDED.is_active,
			profile_data = EXCLUDED.profile_data,
			synced_at = EXCLUDED.synced_at
		WHERE user_profiles.synced_at <= EXCLUDED.synced_at
	`

	data, err := marshalProfileData(profile.ProfileData)
	if err != nil {
		return false, err
	}

	result, err := r.db.ExecContext(ctx, query,
		profile.ID,
		profile.Email,
		profile.DisplayName,
		string(profile.Role),
		profile.CreatedAt,
		profile.LastLoginAt,
		profile.IsActive,
		data,
		syncedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert profile: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Debug("profile upserted",
		zap.String("id", profile.ID),
		zap.Bool("written", rows > 0))
	return rows > 0, nil
}

// ListByRole returns active profiles with the given role
func (r *ProfileRepository) ListByRole(ctx context.Context, role string, limit int) ([]*models.UserProfile, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + profileColumns + `
		FROM user_profiles
		WHERE role = $1 AND is_active = true
		ORDER BY last_login_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, role, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*models.UserProfile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}
	return profiles, nil
}

// CountByRole returns profile counts grouped by role
func (r *ProfileRepository) CountByRole(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT role, COUNT(*) FROM user_profiles GROUP BY role`)
	if err != nil {
		return nil, fmt.Errorf("failed to count profiles: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, fmt.Errorf("failed to scan role count: %w", err)
		}
		counts[role] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (*models.UserProfile, error) {
	var (
		profile models.UserProfile
		role    string
		data    []byte
	)
	err := row.Scan(
		&profile.ID,
		&profile.Email,
		&profile.DisplayName,
		&role,
		&profile.CreatedAt,
		&profile.LastLoginAt,
		&profile.IsActive,
		&data,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := rbac.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repositories.ErrCorruptProfile, err)
	}
	profile.Role = parsed

	if len(data) > 0 && string(data) != "null" {
		var pd models.ProfileData
		if err := json.Unmarshal(data, &pd); err != nil {
			return nil, fmt.Errorf("%w: %v", repositories.ErrCorruptProfile, err)
		}
		profile.ProfileData = &pd
	}
	return &profile, nil
}

// marshalProfileData returns the JSONB parameter: an untyped nil for SQL NULL, or the
// JSON text. lib/pq would send a []byte as bytea, which jsonb rejects.
func marshalProfileData(data *models.ProfileData) (interface{}, error) {
	if data == nil {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile data: %w", err)
	}
	return string(b), nil
}
