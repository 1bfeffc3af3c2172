package notify_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockPusher struct {
	mock.Mock
}

func (m *MockPusher) PushAlarm(userID, text string) bool {
	args := m.Called(userID, text)
	return args.Bool(0)
}

type MockPresence struct {
	mock.Mock
}

func (m *MockPresence) IsCurrentlyConnected(userID, roomID string) bool {
	args := m.Called(userID, roomID)
	return args.Bool(0)
}

func (m *MockPresence) LastDisconnect(ctx context.Context, userID, roomID string) (*time.Time, error) {
	args := m.Called(ctx, userID, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*time.Time), args.Error(1)
}
