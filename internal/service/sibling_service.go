package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-api/internal/models"
	"github.com/noah-isme/sma-fee-api/pkg/config"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
)

type siblingStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ListByGuardianFingerprint(ctx context.Context, guardianName, phoneDigits string) ([]models.Student, error)
}

// SiblingService groups students by guardian identity and resolves the
// sibling waiver percentage for a birth order. Groupings are derived data:
// recomputed from fresh rows on every cache miss, cached with a TTL, and
// explicitly invalidated when the administration layer edits guardian fields.
type SiblingService struct {
	students siblingStudentReader
	cache    *CacheService
	fees     config.FeesConfig
	logger   *zap.Logger
}

// NewSiblingService constructs SiblingService. cache may be nil.
func NewSiblingService(students siblingStudentReader, cache *CacheService, fees config.FeesConfig, logger *zap.Logger) *SiblingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SiblingService{students: students, cache: cache, fees: fees, logger: logger}
}

// WaiverFor exposes the configured waiver policy as a function of birth
// order. The table is monotone; order 1 always maps to zero.
func (s *SiblingService) WaiverFor(birthOrder int) decimal.Decimal {
	return decimal.NewFromFloat(s.fees.WaiverFor(birthOrder))
}

// Detect resolves the sibling group for a student. Students with incomplete
// guardian identity are unlinkable singletons, not errors. Recomputation is
// idempotent: unchanged inputs yield the same grouping and order.
func (s *SiblingService) Detect(ctx context.Context, studentID string) (*models.SiblingInfo, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	fingerprint := models.GuardianFingerprint(student.GuardianName, student.GuardianPhone)
	if fingerprint == "" {
		return &models.SiblingInfo{
			Members:       []models.SiblingMember{{StudentID: student.ID, FullName: student.FullName, BirthDate: student.BirthDate, BirthOrder: 1}},
			BirthOrder:    1,
			WaiverPercent: decimal.Zero,
			Reason:        "guardian identity incomplete; treated as singleton",
		}, nil
	}

	members, err := s.groupMembers(ctx, student, fingerprint)
	if err != nil {
		return nil, err
	}

	info := &models.SiblingInfo{Fingerprint: fingerprint, Members: members}
	for _, member := range members {
		if member.StudentID == student.ID {
			info.BirthOrder = member.BirthOrder
			break
		}
	}
	if info.BirthOrder == 0 {
		// Grouping raced a deactivation; fall back to a fresh singleton.
		info.Members = []models.SiblingMember{{StudentID: student.ID, FullName: student.FullName, BirthDate: student.BirthDate, BirthOrder: 1}}
		info.BirthOrder = 1
	}
	info.WaiverPercent = s.WaiverFor(info.BirthOrder)
	if info.WaiverPercent.IsPositive() {
		info.Reason = fmt.Sprintf("sibling waiver for birth order %d", info.BirthOrder)
	} else {
		info.Reason = "no waiver applicable"
	}
	return info, nil
}

// Invalidate drops the cached grouping for the student's guardian. The
// administration layer calls this whenever guardian fields change.
func (s *SiblingService) Invalidate(ctx context.Context, studentID string) error {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	fingerprint := models.GuardianFingerprint(student.GuardianName, student.GuardianPhone)
	if fingerprint == "" || s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx, siblingCacheKey(fingerprint)); err != nil {
		s.logger.Warn("sibling cache invalidation failed", zap.String("student_id", studentID), zap.Error(err))
	}
	return nil
}

func (s *SiblingService) groupMembers(ctx context.Context, student *models.Student, fingerprint string) ([]models.SiblingMember, error) {
	key := siblingCacheKey(fingerprint)
	if s.cache != nil {
		var cached []models.SiblingMember
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return cached, nil
		}
	}

	// Name and phone travel separately; a guardian name containing the
	// fingerprint separator must not shift the phone digits.
	siblings, err := s.students.ListByGuardianFingerprint(ctx,
		models.NormalizeGuardianName(student.GuardianName),
		models.NormalizePhoneDigits(student.GuardianPhone))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to scan sibling candidates")
	}

	members := make([]models.SiblingMember, 0, len(siblings))
	for i, sibling := range siblings {
		members = append(members, models.SiblingMember{
			StudentID:  sibling.ID,
			FullName:   sibling.FullName,
			BirthDate:  sibling.BirthDate,
			BirthOrder: i + 1,
		})
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, members, s.fees.SiblingCacheTTL)
	}
	return members, nil
}

func siblingCacheKey(fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return "siblings:" + hex.EncodeToString(sum[:8])
}
