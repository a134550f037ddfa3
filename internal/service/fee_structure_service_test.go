package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-api/internal/models"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
)

type mockFeeStructureRepo struct {
	structures map[string]*models.FeeStructure
}

func newMockFeeStructureRepo() *mockFeeStructureRepo {
	return &mockFeeStructureRepo{structures: make(map[string]*models.FeeStructure)}
}

func structureKey(classID, sessionID string) string {
	return classID + "/" + sessionID
}

func (m *mockFeeStructureRepo) FindByClassAndSession(ctx context.Context, classID, sessionID string) (*models.FeeStructure, error) {
	structure, ok := m.structures[structureKey(classID, sessionID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return structure, nil
}

func (m *mockFeeStructureRepo) Exists(ctx context.Context, classID, sessionID string) (bool, error) {
	_, ok := m.structures[structureKey(classID, sessionID)]
	return ok, nil
}

func (m *mockFeeStructureRepo) Create(ctx context.Context, structure *models.FeeStructure) error {
	m.structures[structureKey(structure.ClassID, structure.SessionID)] = structure
	return nil
}

func (m *mockFeeStructureRepo) List(ctx context.Context, filter models.FeeStructureFilter) ([]models.FeeStructure, int, error) {
	var result []models.FeeStructure
	for _, structure := range m.structures {
		result = append(result, *structure)
	}
	return result, len(result), nil
}

func TestFeeStructureCreateSumsComponents(t *testing.T) {
	repo := newMockFeeStructureRepo()
	svc := NewFeeStructureService(repo, nil, zap.NewNop())

	structure, err := svc.Create(context.Background(), CreateFeeStructureRequest{
		ClassID:     "class-10a",
		SessionID:   "sess-2026",
		Tuition:     decimal.NewFromInt(9000),
		Development: decimal.NewFromInt(1800),
		Transport:   decimal.NewFromInt(900),
		Misc:        decimal.NewFromInt(300),
	})
	require.NoError(t, err)
	assert.True(t, structure.AnnualTotal.Equal(decimal.NewFromInt(12000)))
}

func TestFeeStructureCreateRejectsDuplicatePair(t *testing.T) {
	repo := newMockFeeStructureRepo()
	svc := NewFeeStructureService(repo, nil, zap.NewNop())

	req := CreateFeeStructureRequest{ClassID: "class-10a", SessionID: "sess-2026", Tuition: decimal.NewFromInt(9000)}
	_, err := svc.Create(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestFeeStructureCreateValidation(t *testing.T) {
	svc := NewFeeStructureService(newMockFeeStructureRepo(), nil, zap.NewNop())

	_, err := svc.Create(context.Background(), CreateFeeStructureRequest{
		ClassID:   "class-10a",
		SessionID: "sess-2026",
		Tuition:   decimal.NewFromInt(-100),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Create(context.Background(), CreateFeeStructureRequest{ClassID: "class-10a", SessionID: "sess-2026"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestFeeStructureResolveMissingIsNotFound(t *testing.T) {
	svc := NewFeeStructureService(newMockFeeStructureRepo(), nil, zap.NewNop())

	_, err := svc.Resolve(context.Background(), "class-10a", "sess-2026")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
