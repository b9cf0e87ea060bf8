package mocks

import (
	"context"

	"dreamweaver/internal/interfaces"
	"dreamweaver/internal/models"

	"github.com/stretchr/testify/mock"
)

// HistoryRepository is a mock type for the HistoryRepository type
type HistoryRepository struct {
	mock.Mock
}

// Load provides a mock function with given fields: ctx
func (_m *HistoryRepository) Load(ctx context.Context) ([]models.Story, error) {
	ret := _m.Called(ctx)

	var r0 []models.Story
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.Story)
	}
	return r0, ret.Error(1)
}

// Save provides a mock function with given fields: ctx, stories
func (_m *HistoryRepository) Save(ctx context.Context, stories []models.Story) error {
	ret := _m.Called(ctx, stories)
	return ret.Error(0)
}

// NewHistoryRepository creates a new instance of HistoryRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewHistoryRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *HistoryRepository {
	m := &HistoryRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ interfaces.HistoryRepository = (*HistoryRepository)(nil)
