package mocks

import (
	"context"

	"dreamweaver/internal/interfaces"
	"dreamweaver/internal/models"

	"github.com/stretchr/testify/mock"
)

// StoryEventPublisher is a mock type for the StoryEventPublisher type
type StoryEventPublisher struct {
	mock.Mock
}

// PublishStoryCompleted provides a mock function with given fields: ctx, event
func (_m *StoryEventPublisher) PublishStoryCompleted(ctx context.Context, event models.StoryCompletedEvent) error {
	ret := _m.Called(ctx, event)
	return ret.Error(0)
}

var _ interfaces.StoryEventPublisher = (*StoryEventPublisher)(nil)

// NewStoryEventPublisher creates a new instance of StoryEventPublisher. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewStoryEventPublisher(t interface {
	mock.TestingT
	Cleanup(func())
}) *StoryEventPublisher {
	m := &StoryEventPublisher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
