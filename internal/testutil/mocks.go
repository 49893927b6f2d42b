package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github-agent-sync/internal/database"
)

// MockQuerier is a mock of the database.Querier interface.
type MockQuerier struct {
	mock.Mock
}

var _ database.Querier = (*MockQuerier)(nil)

func (m *MockQuerier) ClaimRepositorySync(ctx context.Context, arg database.ClaimRepositorySyncParams) (database.RepositorySync, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(database.RepositorySync), args.Error(1)
}

func (m *MockQuerier) CompleteRepositorySync(ctx context.Context, arg database.CompleteRepositorySyncParams) (database.RepositorySync, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(database.RepositorySync), args.Error(1)
}

func (m *MockQuerier) FailRepositorySync(ctx context.Context, arg database.FailRepositorySyncParams) (database.RepositorySync, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(database.RepositorySync), args.Error(1)
}

func (m *MockQuerier) GetRepositorySyncByFullName(ctx context.Context, repositoryFullName string) (database.RepositorySync, error) {
	args := m.Called(ctx, repositoryFullName)
	return args.Get(0).(database.RepositorySync), args.Error(1)
}

func (m *MockQuerier) GetWebhookPayloadByDeliveryID(ctx context.Context, deliveryID string) (database.WebhookPayload, error) {
	args := m.Called(ctx, deliveryID)
	return args.Get(0).(database.WebhookPayload), args.Error(1)
}

func (m *MockQuerier) InsertWebhookPayload(ctx context.Context, arg database.InsertWebhookPayloadParams) (database.WebhookPayload, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(database.WebhookPayload), args.Error(1)
}

func (m *MockQuerier) ListUnprocessedWebhookPayloads(ctx context.Context, limit int32) ([]database.WebhookPayload, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]database.WebhookPayload), args.Error(1)
}

func (m *MockQuerier) MarkWebhookPayloadProcessed(ctx context.Context, arg database.MarkWebhookPayloadProcessedParams) error {
	args := m.Called(ctx, arg)
	return args.Error(0)
}

func (m *MockQuerier) UpdateAgentContent(ctx context.Context, arg database.UpdateAgentContentParams) (int64, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQuerier) UpdateAgentMetadata(ctx context.Context, arg database.UpdateAgentMetadataParams) (int64, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(int64), args.Error(1)
}
