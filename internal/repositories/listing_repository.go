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

type ListingRepository interface {
	List(ctx context.Context) ([]models.Listing, error)
	Get(ctx context.Context, id string) (*models.Listing, error)
	Create(ctx context.Context, listing models.Listing) (*models.Listing, error)
	Update(ctx context.Context, id string, patch models.ListingPatch) (*models.Listing, error)
	Delete(ctx context.Context, id string) error
}

type listingRepository struct {
	db        *sqlx.DB
	publisher rabbitmq.Publisher
	sink      feed.Sink
	now       func() time.Time
}

func NewListingRepository(db *sqlx.DB, publisher rabbitmq.Publisher, sink feed.Sink) ListingRepository {
	return &listingRepository{db: db, publisher: publisher, sink: sink, now: time.Now}
}

const listingColumns = `id, seller_id, title, description, category, sub_category, brand, age_group, size, condition,
price, price_value, seller_label, trusted_seller, image_ref, created_at`

func (r *listingRepository) List(ctx context.Context) ([]models.Listing, error) {
	listings := []models.Listing{}
	err := r.db.SelectContext(ctx, &listings, `SELECT `+listingColumns+` FROM marketplace_listings ORDER BY created_at DESC, id`)
	return listings, err
}

func (r *listingRepository) Get(ctx context.Context, id string) (*models.Listing, error) {
	var l models.Listing
	err := r.db.GetContext(ctx, &l, r.db.Rebind(`SELECT `+listingColumns+` FROM marketplace_listings WHERE id=?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// Create stores listing. A missing ID is assigned here; CreatedAt is always set.
func (r *listingRepository) Create(ctx context.Context, listing models.Listing) (*models.Listing, error) {
	if listing.ID == "" {
		listing.ID = uuid.NewString()
	}
	listing.CreatedAt = r.now().UTC()

	_, err := r.db.NamedExecContext(ctx, `
INSERT INTO marketplace_listings (`+listingColumns+`)
VALUES (:id, :seller_id, :title, :description, :category, :sub_category, :brand, :age_group, :size, :condition,
:price, :price_value, :seller_label, :trusted_seller, :image_ref, :created_at)
`, listing)
	if err != nil {
		return nil, err
	}

	r.emit(ctx, feed.OpInsert, telemetry.ListingCreatedKey, listing)
	return &listing, nil
}

func (r *listingRepository) Update(ctx context.Context, id string, patch models.ListingPatch) (*models.Listing, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updated := models.ApplyListingPatch(*current, patch)

	res, err := r.db.NamedExecContext(ctx, `
UPDATE marketplace_listings
SET title=:title, description=:description, condition=:condition, price=:price, price_value=:price_value
WHERE id=:id
`, updated)
	if err != nil {
		return nil, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNotFound
	}

	r.emit(ctx, feed.OpUpdate, telemetry.ListingUpdatedKey, updated)
	return &updated, nil
}

func (r *listingRepository) Delete(ctx context.Context, id string) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM marketplace_listings WHERE id=?`), id); err != nil {
		return err
	}
	r.emit(ctx, feed.OpDelete, telemetry.ListingDeletedKey, *current)
	return nil
}

func (r *listingRepository) emit(ctx context.Context, op feed.Op, routingKey string, l models.Listing) {
	if r.sink != nil {
		ev, err := feed.NewEvent(feed.CollectionListings, op, l)
		if err != nil {
			slog.Warn("failed to build change event", "err", err, "collection", feed.CollectionListings)
		} else {
			r.sink.Publish(ev)
		}
	}

	logPublish(ctx, r.publisher, routingKey, telemetry.ListingEvent{
		ListingID:  l.ID,
		SellerID:   l.SellerID,
		Category:   l.Category,
		OccurredAt: r.now().UTC(),
	})
}
