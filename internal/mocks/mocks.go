package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"allies-service/internal/feed"
	"allies-service/internal/models"
	"allies-service/internal/rabbitmq"
	"allies-service/internal/repositories"
)

// MockConnectionRepository mocks ConnectionRepository behavior for services.
type MockConnectionRepository struct {
	mock.Mock
}

func (m *MockConnectionRepository) Get(ctx context.Context, id string) (*models.ConnectionRequest, error) {
	args := m.Called(ctx, id)
	var req *models.ConnectionRequest
	if val := args.Get(0); val != nil {
		req = val.(*models.ConnectionRequest)
	}
	return req, args.Error(1)
}

func (m *MockConnectionRepository) ListPendingIncoming(ctx context.Context, userID string) ([]models.ConnectionRequest, error) {
	args := m.Called(ctx, userID)
	var reqs []models.ConnectionRequest
	if val := args.Get(0); val != nil {
		reqs = val.([]models.ConnectionRequest)
	}
	return reqs, args.Error(1)
}

func (m *MockConnectionRepository) ListForUser(ctx context.Context, userID string) ([]models.ConnectionRequest, error) {
	args := m.Called(ctx, userID)
	var reqs []models.ConnectionRequest
	if val := args.Get(0); val != nil {
		reqs = val.([]models.ConnectionRequest)
	}
	return reqs, args.Error(1)
}

func (m *MockConnectionRepository) Create(ctx context.Context, requesterID, recipientID string) (*models.ConnectionRequest, error) {
	args := m.Called(ctx, requesterID, recipientID)
	var req *models.ConnectionRequest
	if val := args.Get(0); val != nil {
		req = val.(*models.ConnectionRequest)
	}
	return req, args.Error(1)
}

func (m *MockConnectionRepository) UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus) (*models.ConnectionRequest, error) {
	args := m.Called(ctx, id, status)
	var req *models.ConnectionRequest
	if val := args.Get(0); val != nil {
		req = val.(*models.ConnectionRequest)
	}
	return req, args.Error(1)
}

func (m *MockConnectionRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

var _ repositories.ConnectionRepository = (*MockConnectionRepository)(nil)

// MockListingRepository mocks ListingRepository behavior for services.
type MockListingRepository struct {
	mock.Mock
}

func (m *MockListingRepository) List(ctx context.Context) ([]models.Listing, error) {
	args := m.Called(ctx)
	var listings []models.Listing
	if val := args.Get(0); val != nil {
		listings = val.([]models.Listing)
	}
	return listings, args.Error(1)
}

func (m *MockListingRepository) Get(ctx context.Context, id string) (*models.Listing, error) {
	args := m.Called(ctx, id)
	var l *models.Listing
	if val := args.Get(0); val != nil {
		l = val.(*models.Listing)
	}
	return l, args.Error(1)
}

func (m *MockListingRepository) Create(ctx context.Context, listing models.Listing) (*models.Listing, error) {
	args := m.Called(ctx, listing)
	var l *models.Listing
	if val := args.Get(0); val != nil {
		l = val.(*models.Listing)
	}
	return l, args.Error(1)
}

func (m *MockListingRepository) Update(ctx context.Context, id string, patch models.ListingPatch) (*models.Listing, error) {
	args := m.Called(ctx, id, patch)
	var l *models.Listing
	if val := args.Get(0); val != nil {
		l = val.(*models.Listing)
	}
	return l, args.Error(1)
}

func (m *MockListingRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

var _ repositories.ListingRepository = (*MockListingRepository)(nil)

// MockConnectionStore mocks the store a connection sync reads and writes.
type MockConnectionStore struct {
	mock.Mock
}

func (m *MockConnectionStore) ListPendingIncoming(ctx context.Context, userID string) ([]models.ConnectionRequest, error) {
	args := m.Called(ctx, userID)
	var reqs []models.ConnectionRequest
	if val := args.Get(0); val != nil {
		reqs = val.([]models.ConnectionRequest)
	}
	return reqs, args.Error(1)
}

func (m *MockConnectionStore) ListForUser(ctx context.Context, userID string) ([]models.ConnectionRequest, error) {
	args := m.Called(ctx, userID)
	var reqs []models.ConnectionRequest
	if val := args.Get(0); val != nil {
		reqs = val.([]models.ConnectionRequest)
	}
	return reqs, args.Error(1)
}

func (m *MockConnectionStore) CreateRequest(ctx context.Context, requesterID, recipientID string) (*models.ConnectionRequest, error) {
	args := m.Called(ctx, requesterID, recipientID)
	var req *models.ConnectionRequest
	if val := args.Get(0); val != nil {
		req = val.(*models.ConnectionRequest)
	}
	return req, args.Error(1)
}

func (m *MockConnectionStore) UpdateStatus(ctx context.Context, id, actorID string, status models.ConnectionStatus) (*models.ConnectionRequest, error) {
	args := m.Called(ctx, id, actorID, status)
	var req *models.ConnectionRequest
	if val := args.Get(0); val != nil {
		req = val.(*models.ConnectionRequest)
	}
	return req, args.Error(1)
}

// MockFeed mocks change-feed subscriptions.
type MockFeed struct {
	mock.Mock
}

func (m *MockFeed) Subscribe(collection string, filter feed.Filter, handler feed.Handler) (feed.SubscriptionID, error) {
	args := m.Called(collection, filter, handler)
	var id feed.SubscriptionID
	if val := args.Get(0); val != nil {
		id = val.(feed.SubscriptionID)
	}
	return id, args.Error(1)
}

func (m *MockFeed) Unsubscribe(id feed.SubscriptionID) {
	m.Called(id)
}

// MockPublisher mocks RabbitMQ publisher behavior for telemetry.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

var _ rabbitmq.Publisher = (*MockPublisher)(nil)
