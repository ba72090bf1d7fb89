package postgres

import (
	"context"
	"errors"
	"fmt"

	"face-checkout-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// IdentityRepo implements ports.IdentityRepository. Embedding samples and
// centroids are stored as AES ciphertext columns; this layer never sees
// plaintext vectors.
type IdentityRepo struct {
	pool Pool
}

// NewIdentityRepo creates a new IdentityRepo.
func NewIdentityRepo(pool Pool) *IdentityRepo {
	return &IdentityRepo{pool: pool}
}

// Create inserts a new face enrollment.
func (r *IdentityRepo) Create(ctx context.Context, identity *domain.EnrolledIdentity) error {
	query := `INSERT INTO enrolled_identities (id, user_id, dimension, samples_enc, centroid_enc,
		sample_count, quality_score, model_version, active, last_used_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		identity.ID, identity.UserID, identity.Dimension, identity.SamplesEnc, identity.CentroidEnc,
		identity.SampleCount, identity.QualityScore, identity.ModelVersion, identity.Active,
		identity.LastUsedAt, identity.CreatedAt, identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

// GetByID fetches an enrollment by UUID.
func (r *IdentityRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.EnrolledIdentity, error) {
	query := identitySelect + ` WHERE id = $1`
	return r.scanIdentity(r.pool.QueryRow(ctx, query, id))
}

// GetActiveByUserID fetches the user's current active enrollment, newest
// first when more than one exists.
func (r *IdentityRepo) GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*domain.EnrolledIdentity, error) {
	query := identitySelect + ` WHERE user_id = $1 AND active ORDER BY created_at DESC LIMIT 1`
	return r.scanIdentity(r.pool.QueryRow(ctx, query, userID))
}

// ListActive fetches all active enrollments. The matcher loads this set to
// build its in-memory centroid gallery.
func (r *IdentityRepo) ListActive(ctx context.Context) ([]domain.EnrolledIdentity, error) {
	query := identitySelect + ` WHERE active ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var identities []domain.EnrolledIdentity
	for rows.Next() {
		var id domain.EnrolledIdentity
		err := rows.Scan(
			&id.ID, &id.UserID, &id.Dimension, &id.SamplesEnc, &id.CentroidEnc,
			&id.SampleCount, &id.QualityScore, &id.ModelVersion, &id.Active,
			&id.LastUsedAt, &id.CreatedAt, &id.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan identity row: %w", err)
		}
		identities = append(identities, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identity rows: %w", err)
	}
	return identities, nil
}

// Deactivate retires an enrollment. The row stays for audit; only the
// active flag changes.
func (r *IdentityRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE enrolled_identities SET active = false, updated_at = now() WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivate identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("identity not found: %s", id)
	}
	return nil
}

// TouchLastUsed records a successful match against this enrollment.
func (r *IdentityRepo) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE enrolled_identities SET last_used_at = now() WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("touch identity last_used: %w", err)
	}
	return nil
}

const identitySelect = `SELECT id, user_id, dimension, samples_enc, centroid_enc,
	sample_count, quality_score, model_version, active, last_used_at, created_at, updated_at
	FROM enrolled_identities`

func (r *IdentityRepo) scanIdentity(row pgx.Row) (*domain.EnrolledIdentity, error) {
	id := &domain.EnrolledIdentity{}
	err := row.Scan(
		&id.ID, &id.UserID, &id.Dimension, &id.SamplesEnc, &id.CentroidEnc,
		&id.SampleCount, &id.QualityScore, &id.ModelVersion, &id.Active,
		&id.LastUsedAt, &id.CreatedAt, &id.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	return id, nil
}
