package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"face-checkout-core/internal/core/domain"
	"face-checkout-core/internal/core/ports"
	"face-checkout-core/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type matcherTestDeps struct {
	svc          *MatcherServiceImpl
	identityRepo *mocks.MockIdentityRepository
	encSvc       *AESEncryptionService
	ctrl         *gomock.Controller
}

func setupMatcherService(t *testing.T) *matcherTestDeps {
	ctrl := gomock.NewController(t)
	encSvc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)

	d := &matcherTestDeps{
		identityRepo: mocks.NewMockIdentityRepository(ctrl),
		encSvc:       encSvc,
		ctrl:         ctrl,
	}
	d.svc = NewMatcherService(d.identityRepo, d.encSvc, MatcherParams{
		Dimension:  4,
		Threshold:  0.6,
		MinSamples: 3,
		MinQuality: 0.8,
	}, zerolog.Nop())
	return d
}

// enrolled builds an active enrollment whose centroid decrypts to the
// given vector.
func (d *matcherTestDeps) enrolled(t *testing.T, userID uuid.UUID, centroid []float32) *domain.EnrolledIdentity {
	t.Helper()
	raw, err := json.Marshal(centroid)
	require.NoError(t, err)
	enc, err := d.encSvc.Encrypt(string(raw))
	require.NoError(t, err)
	return &domain.EnrolledIdentity{
		ID:          uuid.New(),
		UserID:      userID,
		Dimension:   len(centroid),
		CentroidEnc: enc,
		SampleCount: 3,
		Active:      true,
	}
}

// ==================== Cosine Similarity ====================

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 0, 0, 0}, []float32{1, 0, 0, 0}, 1},
		{"scaled copies", []float32{1, 2, 3, 4}, []float32{2, 4, 6, 8}, 1},
		{"orthogonal", []float32{1, 0, 0, 0}, []float32{0, 1, 0, 0}, 0},
		{"opposite", []float32{1, 0, 0, 0}, []float32{-1, 0, 0, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0, 0, 0}, []float32{1, 0, 0, 0}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCosineSimilarity_Symmetric(t *testing.T) {
	a := []float32{0.3, -0.7, 0.12, 0.55}
	b := []float32{-0.2, 0.9, 0.4, -0.1}

	assert.InDelta(t, CosineSimilarity(a, b), CosineSimilarity(b, a), 1e-9)
}

// ==================== Match Tests ====================

func TestMatcherService_Match_DimensionMismatch(t *testing.T) {
	d := setupMatcherService(t)
	defer d.ctrl.Finish()

	result, err := d.svc.Match(context.Background(), []float32{1, 0, 0})
	assert.Nil(t, result)
	assertAppError(t, err, "IDY_001")
}

func TestMatcherService_Match_NoEnrollments(t *testing.T) {
	d := setupMatcherService(t)
	defer d.ctrl.Finish()

	d.identityRepo.EXPECT().ListActive(gomock.Any()).Return(nil, nil)

	result, err := d.svc.Match(context.Background(), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	assert.Nil(t, result, "an empty gallery matches nothing")
}

func TestMatcherService_Match_BelowThreshold(t *testing.T) {
	d := setupMatcherService(t)
	defer d.ctrl.Finish()

	identity := d.enrolled(t, uuid.New(), []float32{1, 0, 0, 0})
	d.identityRepo.EXPECT().ListActive(gomock.Any()).
		Return([]domain.EnrolledIdentity{*identity}, nil)

	// Orthogonal probe: similarity 0, well under the 0.6 threshold.
	result, err := d.svc.Match(context.Background(), []float32{0, 1, 0, 0})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestMatcherService_Match_PicksBestCandidate(t *testing.T) {
	d := setupMatcherService(t)
	defer d.ctrl.Finish()

	userA := uuid.New()
	userB := uuid.New()
	identityA := d.enrolled(t, userA, []float32{1, 0, 0, 0})
	identityB := d.enrolled(t, userB, []float32{0.5, 0.5, 0.5, 0.5})
	d.identityRepo.EXPECT().ListActive(gomock.Any()).
		Return([]domain.EnrolledIdentity{*identityA, *identityB}, nil)
	d.identityRepo.EXPECT().TouchLastUsed(gomock.Any(), identityA.ID).Return(nil)

	result, err := d.svc.Match(context.Background(), []float32{0.9, 0.1, 0, 0})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, identityA.ID, result.IdentityID)
	assert.Equal(t, userA, result.UserID)
	assert.Greater(t, result.Similarity, 0.6)
}

func TestMatcherService_Match_TouchFailureDoesNotFailMatch(t *testing.T) {
	d := setupMatcherService(t)
	defer d.ctrl.Finish()

	identity := d.enrolled(t, uuid.New(), []float32{1, 0, 0, 0})
	d.identityRepo.EXPECT().ListActive(gomock.Any()).
		Return([]domain.EnrolledIdentity{*identity}, nil)
	d.identityRepo.EXPECT().TouchLastUsed(gomock.Any(), identity.ID).
		Return(errors.New("db down"))

	result, err := d.svc.Match(context.Background(), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.InDelta(t, 1.0, result.Similarity, 1e-9)
}

func TestMatcherService_Match_CachesGalleryBetweenProbes(t *testing.T) {
	d := setupMatcherService(t)
	defer d.ctrl.Finish()

	identity := d.enrolled(t, uuid.New(), []float32{1, 0, 0, 0})
	d.identityRepo.EXPECT().ListActive(gomock.Any()).
		Return([]domain.EnrolledIdentity{*identity}, nil).
		Times(1)
	d.identityRepo.EXPECT().TouchLastUsed(gomock.Any(), identity.ID).Return(nil).Times(2)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		result, err := d.svc.Match(ctx, []float32{1, 0, 0, 0})
		require.NoError(t, err)
		require.NotNil(t, result)
	}
}

func TestMatcherService_Match_SkipsUnreadableCentroid(t *testing.T) {
	d := setupMatcherService(t)
	defer d.ctrl.Finish()

	corrupt := &domain.EnrolledIdentity{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Dimension:   4,
		CentroidEnc: "not-a-ciphertext",
		Active:      true,
	}
	good := d.enrolled(t, uuid.New(), []float32{1, 0, 0, 0})
	d.identityRepo.EXPECT().ListActive(gomock.Any()).
		Return([]domain.EnrolledIdentity{*corrupt, *good}, nil)
	d.identityRepo.EXPECT().TouchLastUsed(gomock.Any(), good.ID).Return(nil)

	result, err := d.svc.Match(context.Background(), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, good.ID, result.IdentityID)
}

// ==================== Enroll Tests ====================

func enrollReq(userID uuid.UUID, samples [][]float32, qualities []float64) ports.EnrollRequest {
	return ports.EnrollRequest{
		UserID:       userID,
		Samples:      samples,
		Qualities:    qualities,
		ModelVersion: "mobilefacenet-v2",
	}
}

func TestMatcherService_Enroll_TooFewSamples(t *testing.T) {
	d := setupMatcherService(t)
	defer d.ctrl.Finish()

	identity, err := d.svc.Enroll(context.Background(), enrollReq(uuid.New(),
		[][]float32{{1, 0, 0, 0}, {1, 0, 0, 0}},
		[]float64{0.9, 0.9},
	))
	assert.Nil(t, identity)
	assertAppError(t, err, "IDY_003")
}

func TestMatcherService_Enroll_QualityCountMismatch(t *testing.T) {
	d := setupMatcherService(t)
	defer d.ctrl.Finish()

	identity, err := d.svc.Enroll(context.Background(), enrollReq(uuid.New(),
		[][]float32{{1, 0, 0, 0}, {1, 0, 0, 0}, {1, 0, 0, 0}},
		[]float64{0.9, 0.9},
	))
	assert.Nil(t, identity)
	assertAppError(t, err, "PAY_002")
}

func TestMatcherService_Enroll_DimensionMismatch(t *testing.T) {
	d := setupMatcherService(t)
	defer d.ctrl.Finish()

	identity, err := d.svc.Enroll(context.Background(), enrollReq(uuid.New(),
		[][]float32{{1, 0, 0, 0}, {1, 0, 0}, {1, 0, 0, 0}},
		[]float64{0.9, 0.9, 0.9},
	))
	assert.Nil(t, identity)
	assertAppError(t, err, "IDY_001")
}

func TestMatcherService_Enroll_LowMeanQuality(t *testing.T) {
	d := setupMatcherService(t)
	defer d.ctrl.Finish()

	// Mean 0.7 is under the 0.8 floor even though one sample is sharp.
	identity, err := d.svc.Enroll(context.Background(), enrollReq(uuid.New(),
		[][]float32{{1, 0, 0, 0}, {1, 0, 0, 0}, {1, 0, 0, 0}},
		[]float64{0.95, 0.6, 0.55},
	))
	assert.Nil(t, identity)
	assertAppError(t, err, "IDY_002")
}

func TestMatcherService_Enroll_Success(t *testing.T) {
	d := setupMatcherService(t)
	defer d.ctrl.Finish()

	userID := uuid.New()
	d.identityRepo.EXPECT().GetActiveByUserID(gomock.Any(), userID).Return(nil, nil)

	var created *domain.EnrolledIdentity
	d.identityRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, identity *domain.EnrolledIdentity) error {
			created = identity
			return nil
		},
	)

	identity, err := d.svc.Enroll(context.Background(), enrollReq(userID,
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}},
		[]float64{0.9, 0.85, 0.95},
	))
	require.NoError(t, err)
	require.NotNil(t, identity)
	require.NotNil(t, created)

	assert.Equal(t, userID, created.UserID)
	assert.Equal(t, 4, created.Dimension)
	assert.Equal(t, 3, created.SampleCount)
	assert.InDelta(t, 0.9, created.QualityScore, 1e-9)
	assert.True(t, created.Active)

	// The stored centroid is the componentwise mean of the samples.
	raw, err := d.encSvc.Decrypt(created.CentroidEnc)
	require.NoError(t, err)
	var centroid []float32
	require.NoError(t, json.Unmarshal([]byte(raw), &centroid))
	require.Len(t, centroid, 4)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 1.0/3.0, centroid[i], 1e-6)
	}
	assert.InDelta(t, 0, centroid[3], 1e-6)
}

func TestMatcherService_Enroll_ReplacesPriorEnrollment(t *testing.T) {
	d := setupMatcherService(t)
	defer d.ctrl.Finish()

	userID := uuid.New()
	prior := d.enrolled(t, userID, []float32{1, 0, 0, 0})
	d.identityRepo.EXPECT().GetActiveByUserID(gomock.Any(), userID).Return(prior, nil)
	d.identityRepo.EXPECT().Deactivate(gomock.Any(), prior.ID).Return(nil)
	d.identityRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

	identity, err := d.svc.Enroll(context.Background(), enrollReq(userID,
		[][]float32{{0, 1, 0, 0}, {0, 1, 0, 0}, {0, 1, 0, 0}},
		[]float64{0.9, 0.9, 0.9},
	))
	require.NoError(t, err)
	assert.NotEqual(t, prior.ID, identity.ID)
}

func TestMatcherService_Enroll_InvalidatesMatchCache(t *testing.T) {
	d := setupMatcherService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	probe := []float32{0, 1, 0, 0}

	// First probe loads an empty gallery and caches it.
	d.identityRepo.EXPECT().ListActive(gomock.Any()).Return(nil, nil)
	result, err := d.svc.Match(ctx, probe)
	require.NoError(t, err)
	require.Nil(t, result)

	userID := uuid.New()
	var created *domain.EnrolledIdentity
	d.identityRepo.EXPECT().GetActiveByUserID(gomock.Any(), userID).Return(nil, nil)
	d.identityRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, identity *domain.EnrolledIdentity) error {
			created = identity
			return nil
		},
	)
	_, err = d.svc.Enroll(ctx, enrollReq(userID,
		[][]float32{probe, probe, probe},
		[]float64{0.9, 0.9, 0.9},
	))
	require.NoError(t, err)

	// Enrollment dropped the cached gallery: the next probe reloads and hits.
	d.identityRepo.EXPECT().ListActive(gomock.Any()).
		Return([]domain.EnrolledIdentity{*created}, nil)
	d.identityRepo.EXPECT().TouchLastUsed(gomock.Any(), created.ID).Return(nil)

	result, err = d.svc.Match(ctx, probe)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, userID, result.UserID)
}

// ==================== Deactivate Tests ====================

func TestMatcherService_Deactivate_Success(t *testing.T) {
	d := setupMatcherService(t)
	defer d.ctrl.Finish()

	userID := uuid.New()
	identity := d.enrolled(t, userID, []float32{1, 0, 0, 0})
	d.identityRepo.EXPECT().GetByID(gomock.Any(), identity.ID).Return(identity, nil)
	d.identityRepo.EXPECT().Deactivate(gomock.Any(), identity.ID).Return(nil)

	err := d.svc.Deactivate(context.Background(), userID, identity.ID)
	assert.NoError(t, err)
}

func TestMatcherService_Deactivate_NotFound(t *testing.T) {
	d := setupMatcherService(t)
	defer d.ctrl.Finish()

	identityID := uuid.New()
	d.identityRepo.EXPECT().GetByID(gomock.Any(), identityID).Return(nil, nil)

	err := d.svc.Deactivate(context.Background(), uuid.New(), identityID)
	assertAppError(t, err, "PAY_004")
}

func TestMatcherService_Deactivate_NotOwner(t *testing.T) {
	d := setupMatcherService(t)
	defer d.ctrl.Finish()

	identity := d.enrolled(t, uuid.New(), []float32{1, 0, 0, 0})
	d.identityRepo.EXPECT().GetByID(gomock.Any(), identity.ID).Return(identity, nil)

	err := d.svc.Deactivate(context.Background(), uuid.New(), identity.ID)
	assertAppError(t, err, "PAY_004")
}
