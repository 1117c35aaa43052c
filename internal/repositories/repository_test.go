package repositories

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"allies-service/internal/db"
	"allies-service/internal/feed"
	"allies-service/internal/models"
)

type recordingSink struct {
	mu     sync.Mutex
	events []feed.Event
}

func (s *recordingSink) Publish(ev feed.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) ops() []feed.Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]feed.Op, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Op)
	}
	return out
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *mockPublisher) Close() error { return nil }

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	database, err := db.Connect("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func newConnectionRepo(t *testing.T, sink feed.Sink) *connectionRepository {
	t.Helper()
	repo := NewConnectionRepository(openTestDB(t), nil, sink).(*connectionRepository)
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var tick int
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	return repo
}

func TestConnectionRepositoryCreateAndList(t *testing.T) {
	sink := &recordingSink{}
	repo := newConnectionRepo(t, sink)
	ctx := context.Background()

	r1, err := repo.Create(ctx, "mom1@example.com", "mom2@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, r1.ID)
	assert.Equal(t, models.StatusPending, r1.Status)

	_, err = repo.Create(ctx, "mom3@example.com", "mom2@example.com")
	require.NoError(t, err)
	_, err = repo.Create(ctx, "mom2@example.com", "mom4@example.com")
	require.NoError(t, err)
	_, err = repo.Create(ctx, "mom5@example.com", "mom6@example.com")
	require.NoError(t, err)

	pending, err := repo.ListPendingIncoming(ctx, "mom2@example.com")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	all, err := repo.ListForUser(ctx, "mom2@example.com")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := repo.ListForUser(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	assert.Equal(t, []feed.Op{feed.OpInsert, feed.OpInsert, feed.OpInsert, feed.OpInsert}, sink.ops())
}

func TestConnectionRepositoryAllowsDuplicateRequests(t *testing.T) {
	repo := newConnectionRepo(t, nil)
	ctx := context.Background()

	a, err := repo.Create(ctx, "mom1@example.com", "mom2@example.com")
	require.NoError(t, err)
	b, err := repo.Create(ctx, "mom1@example.com", "mom2@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	pending, err := repo.ListPendingIncoming(ctx, "mom2@example.com")
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestConnectionRepositoryTerminalStatusIsFinal(t *testing.T) {
	sink := &recordingSink{}
	repo := newConnectionRepo(t, sink)
	ctx := context.Background()

	req, err := repo.Create(ctx, "mom1@example.com", "mom2@example.com")
	require.NoError(t, err)

	updated, err := repo.UpdateStatus(ctx, req.ID, models.StatusConnected)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConnected, updated.Status)
	assert.Equal(t, req.RequesterID, updated.RequesterID)
	assert.Equal(t, req.RecipientID, updated.RecipientID)
	assert.True(t, req.CreatedAt.Equal(updated.CreatedAt))

	_, err = repo.UpdateStatus(ctx, req.ID, models.StatusDeclined)
	require.ErrorIs(t, err, ErrRequestNotPending)
	_, err = repo.UpdateStatus(ctx, req.ID, models.StatusPending)
	require.ErrorIs(t, err, ErrRequestNotPending)

	stored, err := repo.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConnected, stored.Status)

	assert.Equal(t, []feed.Op{feed.OpInsert, feed.OpUpdate}, sink.ops())
}

func TestConnectionRepositoryNotFound(t *testing.T) {
	repo := newConnectionRepo(t, nil)
	ctx := context.Background()

	_, err := repo.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = repo.UpdateStatus(ctx, "missing", models.StatusDeclined)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, repo.Delete(ctx, "missing"), ErrNotFound)
}

func TestConnectionRepositoryDeleteEmitsOldRow(t *testing.T) {
	sink := &recordingSink{}
	repo := newConnectionRepo(t, sink)
	ctx := context.Background()

	req, err := repo.Create(ctx, "mom1@example.com", "mom2@example.com")
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, req.ID))

	_, err = repo.Get(ctx, req.ID)
	require.ErrorIs(t, err, ErrNotFound)

	require.Len(t, sink.events, 2)
	last := sink.events[1]
	assert.Equal(t, feed.OpDelete, last.Op)
	assert.Contains(t, string(last.Record), `"recipient_id":"mom2@example.com"`)
}

func TestConnectionRepositoryPublishesDomainEvents(t *testing.T) {
	pub := new(mockPublisher)
	repo := NewConnectionRepository(openTestDB(t), pub, nil)
	ctx := context.Background()

	pub.On("Publish", mock.Anything, "connection.request.created", mock.Anything).Return(nil).Once()
	pub.On("Publish", mock.Anything, "connection.request.updated", mock.Anything).Return(assert.AnError).Once()

	req, err := repo.Create(ctx, "mom1@example.com", "mom2@example.com")
	require.NoError(t, err)
	_, err = repo.UpdateStatus(ctx, req.ID, models.StatusDeclined)
	require.NoError(t, err, "publish failures must not fail the write")

	pub.AssertExpectations(t)
}

func price(v float64) *float64 { return &v }

func TestListingRepositoryCRUD(t *testing.T) {
	sink := &recordingSink{}
	repo := NewListingRepository(openTestDB(t), nil, sink)
	ctx := context.Background()

	created, err := repo.Create(ctx, models.Listing{
		SellerID:      "mom1@example.com",
		Title:         "Chicco Bravo stroller",
		Category:      "Strollers & Car Seats",
		Brand:         "Chicco",
		AgeGroup:      "0-36 months",
		Condition:     "Like new",
		Price:         "AED 450",
		PriceValue:    price(450),
		SellerLabel:   "Sara K.",
		TrustedSeller: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	_, err = repo.Create(ctx, models.Listing{
		SellerID: "mom2@example.com",
		Title:    "Wooden puzzle set",
		Category: "Toys",
		Price:    "Contact seller",
	})
	require.NoError(t, err)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PriceValue)
	assert.Equal(t, 450.0, *got.PriceValue)
	assert.True(t, got.TrustedSeller)

	title := "Chicco Bravo stroller (barely used)"
	updated, err := repo.Update(ctx, created.ID, models.ListingPatch{Title: &title, ClearPriceValue: true})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Nil(t, updated.PriceValue)
	assert.Equal(t, "Chicco", updated.Brand)

	got, err = repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, title, got.Title)
	assert.Nil(t, got.PriceValue)

	require.NoError(t, repo.Delete(ctx, created.ID))
	_, err = repo.Get(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []feed.Op{feed.OpInsert, feed.OpInsert, feed.OpUpdate, feed.OpDelete}, sink.ops())
}

func TestListingRepositoryUpdateMissing(t *testing.T) {
	repo := NewListingRepository(openTestDB(t), nil, nil)
	title := "x"
	_, err := repo.Update(context.Background(), "missing", models.ListingPatch{Title: &title})
	require.ErrorIs(t, err, ErrNotFound)
}
