package mocks

import (
	"context"

	"dreamweaver/internal/interfaces"
	"dreamweaver/internal/models"

	"github.com/stretchr/testify/mock"
)

// StoryGenerator is a mock type for the StoryGenerator type
type StoryGenerator struct {
	mock.Mock
}

// FetchIdeas provides a mock function with given fields: ctx, categoryName
func (_m *StoryGenerator) FetchIdeas(ctx context.Context, categoryName string) ([]models.StoryIdea, error) {
	ret := _m.Called(ctx, categoryName)

	var r0 []models.StoryIdea
	if rf, ok := ret.Get(0).(func(context.Context, string) []models.StoryIdea); ok {
		r0 = rf(ctx, categoryName)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.StoryIdea)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, categoryName)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// FetchOpeningStep provides a mock function with given fields: ctx, title
func (_m *StoryGenerator) FetchOpeningStep(ctx context.Context, title string) (*models.GeneratedStep, error) {
	ret := _m.Called(ctx, title)
	return stepResult(ret)
}

// FetchNextStep provides a mock function with given fields: ctx, title, transcript, choice, characterDescription
func (_m *StoryGenerator) FetchNextStep(ctx context.Context, title, transcript, choice, characterDescription string) (*models.GeneratedStep, error) {
	ret := _m.Called(ctx, title, transcript, choice, characterDescription)
	return stepResult(ret)
}

// FetchClosingStep provides a mock function with given fields: ctx, title, transcript, characterDescription
func (_m *StoryGenerator) FetchClosingStep(ctx context.Context, title, transcript, characterDescription string) (*models.GeneratedStep, error) {
	ret := _m.Called(ctx, title, transcript, characterDescription)
	return stepResult(ret)
}

func stepResult(ret mock.Arguments) (*models.GeneratedStep, error) {
	var r0 *models.GeneratedStep
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.GeneratedStep)
	}
	return r0, ret.Error(1)
}

// NewStoryGenerator creates a new instance of StoryGenerator. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewStoryGenerator(t interface {
	mock.TestingT
	Cleanup(func())
}) *StoryGenerator {
	m := &StoryGenerator{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ interfaces.StoryGenerator = (*StoryGenerator)(nil)
