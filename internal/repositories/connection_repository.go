package repositories

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"allies-service/internal/feed"
	"allies-service/internal/models"
	"allies-service/internal/rabbitmq"
	"allies-service/internal/telemetry"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrRequestForbidden  = errors.New("connection request not allowed")
	ErrRequestNotPending = errors.New("connection request is not pending")
	ErrListingForbidden  = errors.New("listing belongs to another seller")
)

type ConnectionRepository interface {
	Get(ctx context.Context, id string) (*models.ConnectionRequest, error)
	ListPendingIncoming(ctx context.Context, userID string) ([]models.ConnectionRequest, error)
	ListForUser(ctx context.Context, userID string) ([]models.ConnectionRequest, error)
	Create(ctx context.Context, requesterID, recipientID string) (*models.ConnectionRequest, error)
	UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus) (*models.ConnectionRequest, error)
	Delete(ctx context.Context, id string) error
}

type connectionRepository struct {
	db        *sqlx.DB
	publisher rabbitmq.Publisher
	sink      feed.Sink
	now       func() time.Time
}

// NewConnectionRepository returns a sqlx-backed repository. sink may be nil
// when the database itself emits change notifications.
func NewConnectionRepository(db *sqlx.DB, publisher rabbitmq.Publisher, sink feed.Sink) ConnectionRepository {
	return &connectionRepository{db: db, publisher: publisher, sink: sink, now: time.Now}
}

const connectionColumns = `id, requester_id, recipient_id, status, created_at`

func (r *connectionRepository) Get(ctx context.Context, id string) (*models.ConnectionRequest, error) {
	var req models.ConnectionRequest
	err := r.db.GetContext(ctx, &req, r.db.Rebind(`SELECT `+connectionColumns+` FROM connection_requests WHERE id=?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *connectionRepository) ListPendingIncoming(ctx context.Context, userID string) ([]models.ConnectionRequest, error) {
	reqs := []models.ConnectionRequest{}
	err := r.db.SelectContext(ctx, &reqs, r.db.Rebind(`
SELECT `+connectionColumns+`
FROM connection_requests
WHERE recipient_id=? AND status='pending'
ORDER BY created_at DESC
`), userID)
	return reqs, err
}

func (r *connectionRepository) ListForUser(ctx context.Context, userID string) ([]models.ConnectionRequest, error) {
	reqs := []models.ConnectionRequest{}
	err := r.db.SelectContext(ctx, &reqs, r.db.Rebind(`
SELECT `+connectionColumns+`
FROM connection_requests
WHERE recipient_id=? OR requester_id=?
ORDER BY created_at DESC
`), userID, userID)
	return reqs, err
}

func (r *connectionRepository) Create(ctx context.Context, requesterID, recipientID string) (*models.ConnectionRequest, error) {
	req := models.ConnectionRequest{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		RecipientID: recipientID,
		Status:      models.StatusPending,
		CreatedAt:   r.now().UTC(),
	}
	_, err := r.db.NamedExecContext(ctx, `
INSERT INTO connection_requests (id, requester_id, recipient_id, status, created_at)
VALUES (:id, :requester_id, :recipient_id, :status, :created_at)
`, req)
	if err != nil {
		return nil, err
	}

	r.emit(ctx, feed.OpInsert, telemetry.ConnectionRequestCreatedKey, req)
	return &req, nil
}

// UpdateStatus moves a pending request to status. Requests already in a
// terminal state are left untouched and ErrRequestNotPending is returned.
func (r *connectionRepository) UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus) (*models.ConnectionRequest, error) {
	var updated models.ConnectionRequest
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		var req models.ConnectionRequest
		if err := tx.GetContext(ctx, &req, tx.Rebind(`SELECT `+connectionColumns+` FROM connection_requests WHERE id=?`), id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if req.Status != models.StatusPending {
			return ErrRequestNotPending
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE connection_requests SET status=? WHERE id=? AND status='pending'`), status, id)
		if err != nil {
			return err
		}
		count, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if count == 0 {
			return ErrRequestNotPending
		}

		updated = models.ApplyConnectionPatch(req, models.ConnectionPatch{Status: &status})
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.emit(ctx, feed.OpUpdate, telemetry.ConnectionRequestUpdatedKey, updated)
	return &updated, nil
}

func (r *connectionRepository) Delete(ctx context.Context, id string) error {
	req, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM connection_requests WHERE id=?`), id); err != nil {
		return err
	}
	r.emit(ctx, feed.OpDelete, telemetry.ConnectionRequestDeletedKey, *req)
	return nil
}

func (r *connectionRepository) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *connectionRepository) emit(ctx context.Context, op feed.Op, routingKey string, req models.ConnectionRequest) {
	if r.sink != nil {
		ev, err := feed.NewEvent(feed.CollectionConnectionRequests, op, req)
		if err != nil {
			slog.Warn("failed to build change event", "err", err, "collection", feed.CollectionConnectionRequests)
		} else {
			r.sink.Publish(ev)
		}
	}

	logPublish(ctx, r.publisher, routingKey, telemetry.ConnectionRequestEvent{
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		RecipientID: req.RecipientID,
		Status:      string(req.Status),
		OccurredAt:  r.now().UTC(),
	})
}

func logPublish(ctx context.Context, publisher rabbitmq.Publisher, routingKey string, payload any) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, routingKey, payload); err != nil {
		slog.Warn("failed to publish event", "routing_key", routingKey, "err", err)
	}
}
