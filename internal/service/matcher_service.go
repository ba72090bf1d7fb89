package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"face-checkout-core/internal/core/domain"
	"face-checkout-core/internal/core/ports"
	"face-checkout-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// centroidCacheTTL bounds how stale the decrypted centroid cache may get;
// enrollments made through another instance show up after at most this long.
const centroidCacheTTL = 30 * time.Second

// MatcherParams tunes matching and enrollment.
type MatcherParams struct {
	Dimension  int
	Threshold  float64
	MinSamples int
	MinQuality float64
}

// MatcherServiceImpl implements ports.MatcherService with a linear scan
// over decrypted centroids. O(n*d) per probe; correctness is the contract,
// an ANN index can replace the scan without changing the interface.
type MatcherServiceImpl struct {
	identityRepo ports.IdentityRepository
	encSvc       ports.EncryptionService
	params       MatcherParams
	log          zerolog.Logger

	mu       sync.RWMutex
	cache    []matcherEntry
	loadedAt time.Time
}

// matcherEntry is a decrypted centroid kept in first-seen order so that
// similarity ties resolve deterministically.
type matcherEntry struct {
	identityID uuid.UUID
	userID     uuid.UUID
	centroid   []float32
}

// NewMatcherService creates a new MatcherServiceImpl.
func NewMatcherService(
	identityRepo ports.IdentityRepository,
	encSvc ports.EncryptionService,
	params MatcherParams,
	log zerolog.Logger,
) *MatcherServiceImpl {
	return &MatcherServiceImpl{
		identityRepo: identityRepo,
		encSvc:       encSvc,
		params:       params,
		log:          log,
	}
}

// CosineSimilarity returns the cosine of the angle between two equal-length
// vectors, in -1..1. Returns 0 when lengths differ or either magnitude is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Match finds the best enrolled identity for the probe. Returns (nil, nil)
// when no identity reaches the threshold; the similarity of failed probes
// is never reported.
func (s *MatcherServiceImpl) Match(ctx context.Context, probe []float32) (*domain.MatchResult, error) {
	if len(probe) != s.params.Dimension {
		return nil, apperror.ErrEmbeddingDimension(s.params.Dimension, len(probe))
	}

	entries, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var best *matcherEntry
	bestSim := math.Inf(-1)
	for i := range entries {
		sim := CosineSimilarity(probe, entries[i].centroid)
		if sim > bestSim {
			bestSim = sim
			best = &entries[i]
		}
	}

	if best == nil || bestSim < s.params.Threshold {
		s.log.Debug().Msg("no identity matched probe")
		return nil, nil
	}

	// Side effect of a successful match; failure here must not fail the match.
	if err := s.identityRepo.TouchLastUsed(ctx, best.identityID); err != nil {
		s.log.Warn().Err(err).Str("identity_id", best.identityID.String()).Msg("failed to touch last_used")
	}

	return &domain.MatchResult{
		IdentityID: best.identityID,
		UserID:     best.userID,
		Similarity: bestSim,
	}, nil
}

// Enroll creates a face enrollment from several embedding samples. A prior
// active enrollment for the user is deactivated, never deleted.
func (s *MatcherServiceImpl) Enroll(ctx context.Context, req ports.EnrollRequest) (*domain.EnrolledIdentity, error) {
	if len(req.Samples) < s.params.MinSamples {
		return nil, apperror.ErrEnrollmentSamples(s.params.MinSamples)
	}
	if len(req.Qualities) != len(req.Samples) {
		return nil, apperror.Validation("quality score required for every sample")
	}
	for _, sample := range req.Samples {
		if len(sample) != s.params.Dimension {
			return nil, apperror.ErrEmbeddingDimension(s.params.Dimension, len(sample))
		}
	}

	var qualitySum float64
	for _, q := range req.Qualities {
		qualitySum += q
	}
	meanQuality := qualitySum / float64(len(req.Qualities))
	if meanQuality < s.params.MinQuality {
		return nil, apperror.ErrEnrollmentQuality()
	}

	centroid := meanVector(req.Samples)

	samplesEnc, err := s.encryptVectors(req.Samples)
	if err != nil {
		return nil, err
	}
	centroidEnc, err := s.encryptVector(centroid)
	if err != nil {
		return nil, err
	}

	// Re-enrollment replaces the previous enrollment.
	prev, err := s.identityRepo.GetActiveByUserID(ctx, req.UserID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lookup prior enrollment: %w", err))
	}
	if prev != nil {
		if err := s.identityRepo.Deactivate(ctx, prev.ID); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("deactivate prior enrollment: %w", err))
		}
	}

	now := time.Now().UTC()
	identity := &domain.EnrolledIdentity{
		ID:           uuid.New(),
		UserID:       req.UserID,
		Dimension:    s.params.Dimension,
		SamplesEnc:   samplesEnc,
		CentroidEnc:  centroidEnc,
		SampleCount:  len(req.Samples),
		QualityScore: meanQuality,
		ModelVersion: req.ModelVersion,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.identityRepo.Create(ctx, identity); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create enrollment: %w", err))
	}

	s.invalidate()

	s.log.Info().
		Str("identity_id", identity.ID.String()).
		Str("user_id", req.UserID.String()).
		Int("samples", identity.SampleCount).
		Msg("identity enrolled")

	return identity, nil
}

// Deactivate marks an enrollment inactive, e.g. on consent withdrawal.
// The enrollment row is kept for pending-review retention.
func (s *MatcherServiceImpl) Deactivate(ctx context.Context, userID, identityID uuid.UUID) error {
	identity, err := s.identityRepo.GetByID(ctx, identityID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lookup enrollment: %w", err))
	}
	if identity == nil || identity.UserID != userID {
		return apperror.ErrNotFound("identity")
	}
	if err := s.identityRepo.Deactivate(ctx, identityID); err != nil {
		return apperror.InternalError(fmt.Errorf("deactivate enrollment: %w", err))
	}

	s.invalidate()

	s.log.Info().
		Str("identity_id", identityID.String()).
		Str("user_id", userID.String()).
		Msg("identity deactivated")

	return nil
}

// snapshot returns the decrypted centroids of all active enrollments,
// reloading from storage when the cache expired.
func (s *MatcherServiceImpl) snapshot(ctx context.Context) ([]matcherEntry, error) {
	s.mu.RLock()
	if s.cache != nil && time.Since(s.loadedAt) < centroidCacheTTL {
		entries := s.cache
		s.mu.RUnlock()
		return entries, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil && time.Since(s.loadedAt) < centroidCacheTTL {
		return s.cache, nil
	}

	identities, err := s.identityRepo.ListActive(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list active enrollments: %w", err))
	}

	entries := make([]matcherEntry, 0, len(identities))
	for _, identity := range identities {
		centroid, err := s.decryptVector(identity.CentroidEnc)
		if err != nil {
			s.log.Warn().Err(err).Str("identity_id", identity.ID.String()).Msg("skipping enrollment with unreadable centroid")
			continue
		}
		entries = append(entries, matcherEntry{
			identityID: identity.ID,
			userID:     identity.UserID,
			centroid:   centroid,
		})
	}

	s.cache = entries
	s.loadedAt = time.Now()
	return entries, nil
}

func (s *MatcherServiceImpl) invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

func (s *MatcherServiceImpl) encryptVector(v []float32) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("marshal vector: %w", err))
	}
	enc, err := s.encSvc.Encrypt(string(raw))
	if err != nil {
		return "", apperror.ErrEncryptionFailure(fmt.Errorf("encrypt vector: %w", err))
	}
	return enc, nil
}

func (s *MatcherServiceImpl) encryptVectors(vs [][]float32) (string, error) {
	raw, err := json.Marshal(vs)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("marshal vectors: %w", err))
	}
	enc, err := s.encSvc.Encrypt(string(raw))
	if err != nil {
		return "", apperror.ErrEncryptionFailure(fmt.Errorf("encrypt vectors: %w", err))
	}
	return enc, nil
}

func (s *MatcherServiceImpl) decryptVector(enc string) ([]float32, error) {
	raw, err := s.encSvc.Decrypt(enc)
	if err != nil {
		return nil, fmt.Errorf("decrypt vector: %w", err)
	}
	var v []float32
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("unmarshal vector: %w", err)
	}
	return v, nil
}

// meanVector averages equal-length vectors componentwise.
func meanVector(vs [][]float32) []float32 {
	if len(vs) == 0 {
		return nil
	}
	dim := len(vs[0])
	out := make([]float32, dim)
	for _, v := range vs {
		for i := range v {
			out[i] += v[i]
		}
	}
	inv := 1 / float32(len(vs))
	for i := range out {
		out[i] *= inv
	}
	return out
}
