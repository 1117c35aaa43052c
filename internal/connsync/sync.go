// Package connsync keeps one user's view of their connection requests in step
// with the store. Every change-feed event triggers a full re-read; nothing is
// patched incrementally except the caller's own successful writes.
package connsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"allies-service/internal/feed"
	"allies-service/internal/models"
)

var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrRequestSendFailed  = errors.New("connection request send failed")
	ErrStatusUpdateFailed = errors.New("connection status update failed")
	ErrFetchFailed        = errors.New("connection fetch failed")
	ErrInvalidStatus      = errors.New("status must be connected or declined")
)

// Store is the part of the connection store a Sync reads and writes.
type Store interface {
	ListPendingIncoming(ctx context.Context, userID string) ([]models.ConnectionRequest, error)
	ListForUser(ctx context.Context, userID string) ([]models.ConnectionRequest, error)
	CreateRequest(ctx context.Context, requesterID, recipientID string) (*models.ConnectionRequest, error)
	UpdateStatus(ctx context.Context, id, actorID string, status models.ConnectionStatus) (*models.ConnectionRequest, error)
}

// Feed delivers change events. Handlers are never run from within Subscribe.
type Feed interface {
	Subscribe(collection string, filter feed.Filter, handler feed.Handler) (feed.SubscriptionID, error)
	Unsubscribe(id feed.SubscriptionID)
}

// Snapshot is the derived state exposed to the presentation layer.
type Snapshot struct {
	Identity             string                     `json:"identity"`
	Active               bool                       `json:"active"`
	Connections          []models.ConnectionRequest `json:"connections"`
	PendingRequestsCount int                        `json:"pending_requests_count"`
}

type Option func(*Sync)

func WithNotifier(n Notifier) Option {
	return func(s *Sync) { s.notifier = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sync) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOnChange registers fn to run after every cache change. fn is called
// without the Sync lock held and may read from the Sync.
func WithOnChange(fn func(Snapshot)) Option {
	return func(s *Sync) { s.onChange = fn }
}

type Sync struct {
	store    Store
	feed     Feed
	notifier Notifier
	logger   *slog.Logger
	onChange func(Snapshot)

	mu          sync.Mutex
	identity    string
	connections []models.ConnectionRequest
	pending     int
	active      bool
	subID       feed.SubscriptionID
	// generation changes on every activation and deactivation; feed events
	// and reads started under an older generation are discarded.
	generation uint64
	cancel     context.CancelFunc
}

// New returns an inactive Sync for identity. An empty identity means no
// signed-in user.
func New(identity string, store Store, f Feed, opts ...Option) *Sync {
	s := &Sync{
		store:    store,
		feed:     f,
		notifier: NotifierFunc(func(Notice) {}),
		logger:   slog.Default(),
		identity: identity,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Activate subscribes to changes on the user's incoming requests and loads
// the cache. Without an identity it does nothing. A failed initial load is
// reported as a notice and does not fail activation.
func (s *Sync) Activate(ctx context.Context) error {
	s.mu.Lock()
	if s.identity == "" || s.active {
		s.mu.Unlock()
		return nil
	}
	uid := s.identity
	s.generation++
	gen := s.generation
	feedCtx, cancel := context.WithCancel(ctx)

	id, err := s.feed.Subscribe(feed.CollectionConnectionRequests, feed.Eq("recipient_id", uid), func(feed.Event) {
		if !s.current(gen) {
			return
		}
		_ = s.refresh(feedCtx, gen)
	})
	if err != nil {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("subscribe to connection requests: %w", err)
	}
	s.subID = id
	s.active = true
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Debug("connection sync activated", "user_id", uid)
	_ = s.refresh(ctx, gen)
	s.changed()
	return nil
}

// Deactivate releases the feed subscription. It is safe to call more than once.
func (s *Sync) Deactivate() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.generation++
	s.active = false
	id := s.subID
	cancel := s.cancel
	s.cancel = nil
	uid := s.identity
	s.mu.Unlock()

	s.feed.Unsubscribe(id)
	cancel()
	s.logger.Debug("connection sync deactivated", "user_id", uid)
	s.changed()
}

// SetIdentity rebinds the Sync to uid. The cache is cleared and, if uid is
// not empty, the Sync is activated for it.
func (s *Sync) SetIdentity(ctx context.Context, uid string) error {
	s.Deactivate()

	s.mu.Lock()
	s.identity = uid
	s.connections = nil
	s.pending = 0
	s.mu.Unlock()
	s.changed()

	return s.Activate(ctx)
}

// Refresh re-reads the pending count and the full connection set. It does
// nothing while the sync is inactive.
func (s *Sync) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	gen := s.generation
	s.mu.Unlock()
	return s.refresh(ctx, gen)
}

func (s *Sync) refresh(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	uid := s.identity
	s.mu.Unlock()
	if uid == "" {
		return nil
	}

	pending, pendingErr := s.store.ListPendingIncoming(ctx, uid)
	all, allErr := s.store.ListForUser(ctx, uid)

	s.mu.Lock()
	if s.generation != gen || s.identity != uid {
		s.mu.Unlock()
		return nil
	}
	// a failed read keeps its half of the cache
	if pendingErr == nil {
		s.pending = len(pending)
	}
	if allErr == nil {
		s.connections = append([]models.ConnectionRequest(nil), all...)
	}
	s.mu.Unlock()

	if pendingErr == nil || allErr == nil {
		s.changed()
	}

	if err := errors.Join(pendingErr, allErr); err != nil {
		s.logger.Warn("failed to load connections", "user_id", uid, "err", err)
		s.notify(Notice{Title: "Error", Description: "Failed to load connections", Variant: VariantDestructive})
		return fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return nil
}

// SendConnectionRequest creates a pending request from the current user to
// recipientID and appends it to the cache.
func (s *Sync) SendConnectionRequest(ctx context.Context, recipientID string) (*models.ConnectionRequest, error) {
	s.mu.Lock()
	uid := s.identity
	s.mu.Unlock()
	if uid == "" {
		s.notify(Notice{Title: "Not signed in", Description: "Please sign in to connect with other moms", Variant: VariantDestructive})
		return nil, ErrNotAuthenticated
	}

	req, err := s.store.CreateRequest(ctx, uid, recipientID)
	if err != nil {
		s.logger.Warn("failed to send connection request", "user_id", uid, "err", err)
		s.notify(Notice{Title: "Error", Description: "Failed to send connection request", Variant: VariantDestructive})
		return nil, fmt.Errorf("%w: %w", ErrRequestSendFailed, err)
	}

	s.mu.Lock()
	if s.identity == uid {
		s.connections = append(s.connections, *req)
	}
	s.mu.Unlock()
	s.changed()

	s.notify(Notice{Title: "Connection request sent!", Description: "They'll be notified of your request", Variant: VariantDefault})
	return req, nil
}

// UpdateConnectionStatus sets the status of request id and patches the cached
// copy in place. Whether the transition is allowed is for the store to decide.
func (s *Sync) UpdateConnectionStatus(ctx context.Context, id string, status models.ConnectionStatus) (*models.ConnectionRequest, error) {
	if !status.IsTerminal() {
		return nil, ErrInvalidStatus
	}

	s.mu.Lock()
	uid := s.identity
	s.mu.Unlock()
	if uid == "" {
		s.notify(Notice{Title: "Not signed in", Description: "Please sign in to respond to requests", Variant: VariantDestructive})
		return nil, ErrNotAuthenticated
	}

	updated, err := s.store.UpdateStatus(ctx, id, uid, status)
	if err != nil {
		s.logger.Warn("failed to update connection status", "user_id", uid, "request_id", id, "err", err)
		s.notify(Notice{Title: "Error", Description: "Failed to update connection", Variant: VariantDestructive})
		return nil, fmt.Errorf("%w: %w", ErrStatusUpdateFailed, err)
	}

	patch := models.ConnectionPatch{Status: &status}
	s.mu.Lock()
	if s.identity == uid {
		for i := range s.connections {
			if s.connections[i].ID == id {
				s.connections[i] = models.ApplyConnectionPatch(s.connections[i], patch)
			}
		}
	}
	s.mu.Unlock()
	s.changed()

	if status == models.StatusConnected {
		s.notify(Notice{Title: "Connection accepted!", Description: "You're now connected", Variant: VariantDefault})
	} else {
		s.notify(Notice{Title: "Request declined", Description: "The connection request was declined", Variant: VariantDefault})
	}
	return updated, nil
}

// Connections returns a copy of the cached requests.
func (s *Sync) Connections() []models.ConnectionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ConnectionRequest{}, s.connections...)
}

func (s *Sync) PendingRequestsCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Sync) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Identity:             s.identity,
		Active:               s.active,
		Connections:          append([]models.ConnectionRequest{}, s.connections...),
		PendingRequestsCount: s.pending,
	}
}

func (s *Sync) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && s.generation == gen
}

func (s *Sync) changed() {
	if s.onChange != nil {
		s.onChange(s.Snapshot())
	}
}

func (s *Sync) notify(n Notice) {
	if s.notifier != nil {
		s.notifier.Notify(n)
	}
}
