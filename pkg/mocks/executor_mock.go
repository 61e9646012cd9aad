package mocks

import (
	"context"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/simulator"
	"github.com/stretchr/testify/mock"
)

// MockExecutor is a mock implementation of simulator.Executor interface.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) RequestRun(ctx context.Context, workflow *models.Workflow) (*simulator.RunHandle, error) {
	args := m.Called(ctx, workflow)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*simulator.RunHandle), args.Error(1)
}

func (m *MockExecutor) Subscribe(runID string, fn simulator.StatusFunc) (func(), error) {
	args := m.Called(runID, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(func()), args.Error(1)
}
