package domain

import (
	"time"

	"github.com/google/uuid"
)

// EnrolledIdentity represents a user's face enrollment. The raw embedding
// samples and the derived centroid are stored AES-256 encrypted; plaintext
// vectors exist only transiently inside the matcher.
type EnrolledIdentity struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	Dimension    int        `json:"dimension"`
	SamplesEnc   string     `json:"-"` // Encrypted JSON array of embedding vectors
	CentroidEnc  string     `json:"-"` // Encrypted JSON embedding vector
	SampleCount  int        `json:"sample_count"`
	QualityScore float64    `json:"quality_score"`
	ModelVersion string     `json:"model_version"`
	Active       bool       `json:"active"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// MatchResult is a successful identity match with its similarity score.
type MatchResult struct {
	IdentityID uuid.UUID `json:"identity_id"`
	UserID     uuid.UUID `json:"user_id"`
	Similarity float64   `json:"similarity"`
}
