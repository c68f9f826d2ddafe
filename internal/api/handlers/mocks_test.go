package handlers

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/irfndi/celebrum-quant/internal/cache"
	"github.com/irfndi/celebrum-quant/internal/models"
	"github.com/irfndi/celebrum-quant/internal/services"
)

type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) AnalyzeSymbols(ctx context.Context, req services.AnalyzeRequest) (*models.CointegrationReport, error) {
	args := m.Called(ctx, req)
	report, _ := args.Get(0).(*models.CointegrationReport)
	return report, args.Error(1)
}

func (m *MockAnalyzer) AnalyzeMatrix(ctx context.Context, req services.AnalyzeRequest) (*models.CointegrationReport, error) {
	args := m.Called(ctx, req)
	report, _ := args.Get(0).(*models.CointegrationReport)
	return report, args.Error(1)
}

func (m *MockAnalyzer) GetReport(ctx context.Context, id string) (*models.CointegrationReport, error) {
	args := m.Called(ctx, id)
	report, _ := args.Get(0).(*models.CointegrationReport)
	return report, args.Error(1)
}

func (m *MockAnalyzer) ListReports(ctx context.Context, symbols []string, limit int) ([]*models.CointegrationReport, error) {
	args := m.Called(ctx, symbols, limit)
	reports, _ := args.Get(0).([]*models.CointegrationReport)
	return reports, args.Error(1)
}

type MockCacheAdmin struct {
	mock.Mock
}

func (m *MockCacheAdmin) GetStats() cache.AnalysisCacheStats {
	return m.Called().Get(0).(cache.AnalysisCacheStats)
}

func (m *MockCacheAdmin) CachedKeys(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	keys, _ := args.Get(0).([]string)
	return keys, args.Error(1)
}

func (m *MockCacheAdmin) Clear(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockTracker struct {
	mock.Mock
}

func (m *MockTracker) Update(ctx context.Context, pairID string, req services.UpdateRequest) (*models.HedgeRatioSnapshot, error) {
	args := m.Called(ctx, pairID, req)
	snapshot, _ := args.Get(0).(*models.HedgeRatioSnapshot)
	return snapshot, args.Error(1)
}

func (m *MockTracker) Replay(ctx context.Context, pairID string, req services.ReplayRequest) (*models.ReplayResult, error) {
	args := m.Called(ctx, pairID, req)
	result, _ := args.Get(0).(*models.ReplayResult)
	return result, args.Error(1)
}

func (m *MockTracker) Snapshot(ctx context.Context, pairID string) (*models.HedgeRatioSnapshot, error) {
	args := m.Called(ctx, pairID)
	snapshot, _ := args.Get(0).(*models.HedgeRatioSnapshot)
	return snapshot, args.Error(1)
}

func (m *MockTracker) Reset(ctx context.Context, pairID string) error {
	return m.Called(ctx, pairID).Error(0)
}

func (m *MockTracker) Pairs() []string {
	return m.Called().Get(0).([]string)
}

type stubChecker struct {
	err error
}

func (s stubChecker) HealthCheck(context.Context) error {
	return s.err
}
