package queueset

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockQueue is a mock implementation of the Queue interface for testing.
type MockQueue struct {
	mock.Mock

	QueueName string
}

// Name returns the configured queue name.
func (m *MockQueue) Name() string {
	return m.QueueName
}

// Pop is the mock implementation of the Pop method.
func (m *MockQueue) Pop(ctx context.Context) (*Request, error) {
	args := m.Called(ctx)
	req, _ := args.Get(0).(*Request)
	return req, args.Error(1)
}

// Push is the mock implementation of the Push method.
func (m *MockQueue) Push(ctx context.Context, req *Request) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// Done is the mock implementation of the Done method.
func (m *MockQueue) Done(ctx context.Context, req *Request) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// Abandon is the mock implementation of the Abandon method.
func (m *MockQueue) Abandon(ctx context.Context, req *Request) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// Subscribe is the mock implementation of the Subscribe method.
func (m *MockQueue) Subscribe(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Unsubscribe is the mock implementation of the Unsubscribe method.
func (m *MockQueue) Unsubscribe(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
