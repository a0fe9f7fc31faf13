package gmail

import (
	"context"

	"aiva/internal/model"
)

// MockChannelClient is a mock implementation of service.ChannelClient
type MockChannelClient struct {
	GetAccessTokenFunc func(ctx context.Context, connectionID string) (string, error)
	ListMessagesFunc   func(ctx context.Context, token string, opts model.ListOptions) (*model.MessageList, error)
	GetMessageFunc     func(ctx context.Context, token, messageID string) (*model.RawMessage, error)
	SendReplyFunc      func(ctx context.Context, token string, req *model.SendReplyRequest) (*model.SendReplyResult, error)
	ApplyLabelFunc     func(ctx context.Context, token, messageID, label string) error
}

func NewMockChannelClient() *MockChannelClient {
	return &MockChannelClient{}
}

func (m *MockChannelClient) GetAccessToken(ctx context.Context, connectionID string) (string, error) {
	if m.GetAccessTokenFunc != nil {
		return m.GetAccessTokenFunc(ctx, connectionID)
	}
	return "mock-token", nil
}

func (m *MockChannelClient) ListMessages(ctx context.Context, token string, opts model.ListOptions) (*model.MessageList, error) {
	if m.ListMessagesFunc != nil {
		return m.ListMessagesFunc(ctx, token, opts)
	}
	return &model.MessageList{}, nil
}

func (m *MockChannelClient) GetMessage(ctx context.Context, token, messageID string) (*model.RawMessage, error) {
	if m.GetMessageFunc != nil {
		return m.GetMessageFunc(ctx, token, messageID)
	}
	return &model.RawMessage{ID: messageID, Headers: map[string]string{}}, nil
}

func (m *MockChannelClient) SendReply(ctx context.Context, token string, req *model.SendReplyRequest) (*model.SendReplyResult, error) {
	if m.SendReplyFunc != nil {
		return m.SendReplyFunc(ctx, token, req)
	}
	return &model.SendReplyResult{Success: true, MessageID: "mock-sent"}, nil
}

func (m *MockChannelClient) ApplyLabel(ctx context.Context, token, messageID, label string) error {
	if m.ApplyLabelFunc != nil {
		return m.ApplyLabelFunc(ctx, token, messageID, label)
	}
	return nil
}
