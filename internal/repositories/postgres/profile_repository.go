package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/totebags/api/internal/domain"
	ppostgres "github.com/totebags/api/internal/platform/postgres"
	"github.com/totebags/api/internal/repositories"
)

const profileColumns = `p.id, p.user_id, p.email, p.role, p.created_at`

// ProfileRepository stores customer profiles.
type ProfileRepository struct {
	db *sql.DB
}

var _ repositories.ProfileRepository = (*ProfileRepository)(nil)

// NewProfileRepository constructs a Postgres-backed profile repository.
func NewProfileRepository(db *sql.DB) (*ProfileRepository, error) {
	if db == nil {
		return nil, errors.New("profile repository requires database")
	}
	return &ProfileRepository{db: db}, nil
}

// Upsert keeps the first id and created_at for a user. A blank email never
// overwrites a known one.
func (r *ProfileRepository) Upsert(ctx context.Context, profile domain.Profile) (domain.Profile, error) {
	stored, err := scanProfile(ppostgres.Conn(ctx, r.db).QueryRowContext(ctx, `
INSERT INTO profiles AS p (id, user_id, email, role, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE
SET email = COALESCE(NULLIF(EXCLUDED.email, ''), p.email),
	role = EXCLUDED.role
RETURNING `+profileColumns,
		profile.ID, profile.UserID, profile.Email, string(profile.Role), profile.CreatedAt,
	), false)
	if err != nil {
		return domain.Profile{}, ppostgres.WrapError("profiles.upsert", err)
	}
	return stored, nil
}

func (r *ProfileRepository) FindByID(ctx context.Context, profileID string) (domain.Profile, error) {
	profile, err := scanProfile(ppostgres.Conn(ctx, r.db).QueryRowContext(ctx, `
SELECT `+profileColumns+`, (SELECT COUNT(*) FROM orders o WHERE o.profile_id = p.id)
FROM profiles p
WHERE p.id = $1`, profileID), true)
	if err != nil {
		return domain.Profile{}, ppostgres.WrapError("profiles.find", err)
	}
	return profile, nil
}

func (r *ProfileRepository) List(ctx context.Context, role domain.ProfileRole) ([]domain.Profile, error) {
	rows, err := ppostgres.Conn(ctx, r.db).QueryContext(ctx, `
SELECT `+profileColumns+`, COUNT(o.id)
FROM profiles p
LEFT JOIN orders o ON o.profile_id = p.id
WHERE $1 = '' OR p.role = $1
GROUP BY p.id
ORDER BY p.created_at DESC, p.id DESC`, string(role))
	if err != nil {
		return nil, ppostgres.WrapError("profiles.list", err)
	}
	defer rows.Close()

	profiles := make([]domain.Profile, 0)
	for rows.Next() {
		profile, err := scanProfile(rows, true)
		if err != nil {
			return nil, ppostgres.WrapError("profiles.list", err)
		}
		profiles = append(profiles, profile)
	}
	return profiles, ppostgres.WrapError("profiles.list", rows.Err())
}

func scanProfile(row rowScanner, withCount bool) (domain.Profile, error) {
	var (
		profile domain.Profile
		role    string
	)
	dest := []any{&profile.ID, &profile.UserID, &profile.Email, &role, &profile.CreatedAt}
	if withCount {
		dest = append(dest, &profile.OrderCount)
	}
	if err := row.Scan(dest...); err != nil {
		return domain.Profile{}, err
	}
	profile.Role = domain.ProfileRole(role)
	profile.CreatedAt = profile.CreatedAt.UTC()
	return profile, nil
}
