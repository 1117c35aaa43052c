package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"allies-service/internal/feed"
	"allies-service/internal/marketplace"
	"allies-service/internal/models"
	"allies-service/internal/repositories"
)

type BrowseResult struct {
	Listings           []models.Listing `json:"listings"`
	ActiveFiltersCount int              `json:"active_filters_count"`
	Total              int              `json:"total"`
}

// CatalogFeed is the part of the change feed the service watches.
type CatalogFeed interface {
	Subscribe(collection string, filter feed.Filter, handler feed.Handler) (feed.SubscriptionID, error)
}

type ListingService struct {
	repo repositories.ListingRepository

	mu      sync.Mutex
	facets  *marketplace.FacetOptions
	version uint64
}

func NewListingService(repo repositories.ListingRepository) *ListingService {
	return &ListingService{repo: repo}
}

// Browse loads the catalog and returns the listings visible under state.
// Total is the size of the unfiltered catalog.
func (s *ListingService) Browse(ctx context.Context, state marketplace.FilterState) (*BrowseResult, error) {
	if err := state.Validate(); err != nil {
		return nil, NewValidationError(map[string]string{"price_range": err.Error()})
	}

	catalog, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	return &BrowseResult{
		Listings:           marketplace.Apply(catalog, state),
		ActiveFiltersCount: marketplace.ActiveFiltersCount(state),
		Total:              len(catalog),
	}, nil
}

// Facets returns the filter options for the current catalog. The result is
// cached until the catalog changes.
func (s *ListingService) Facets(ctx context.Context) (marketplace.FacetOptions, error) {
	s.mu.Lock()
	if s.facets != nil {
		opts := *s.facets
		s.mu.Unlock()
		return opts, nil
	}
	version := s.version
	s.mu.Unlock()

	catalog, err := s.repo.List(ctx)
	if err != nil {
		return marketplace.FacetOptions{}, err
	}
	opts := marketplace.Facets(catalog)

	s.mu.Lock()
	if s.version == version {
		s.facets = &opts
	}
	s.mu.Unlock()
	return opts, nil
}

// InvalidateFacets drops the cached facet options.
func (s *ListingService) InvalidateFacets() {
	s.mu.Lock()
	s.facets = nil
	s.version++
	s.mu.Unlock()
}

// WatchCatalog invalidates the facet cache on every listing change the feed
// reports, including writes made by other instances.
func (s *ListingService) WatchCatalog(f CatalogFeed) (feed.SubscriptionID, error) {
	return f.Subscribe(feed.CollectionListings, feed.Filter{}, func(feed.Event) {
		s.InvalidateFacets()
	})
}

func (s *ListingService) Get(ctx context.Context, id string) (*models.Listing, error) {
	return s.repo.Get(ctx, id)
}

// Create stores a new listing for sellerID. The trusted-seller flag is never
// taken from the request.
func (s *ListingService) Create(ctx context.Context, sellerID, sellerLabel string, input models.Listing) (*models.Listing, error) {
	fields := map[string]string{}
	if strings.TrimSpace(sellerID) == "" {
		fields["seller_id"] = "required"
	}
	if strings.TrimSpace(input.Title) == "" {
		fields["title"] = "required"
	}
	if strings.TrimSpace(input.Category) == "" {
		fields["category"] = "required"
	}
	if input.PriceValue != nil {
		if msg := checkPrice(*input.PriceValue); msg != "" {
			fields["price_value"] = msg
		}
	}
	if len(fields) > 0 {
		return nil, NewValidationError(fields)
	}

	input.ID = ""
	input.SellerID = models.NormalizeUserID(sellerID)
	input.TrustedSeller = false
	if input.SellerLabel == "" {
		input.SellerLabel = sellerLabel
	}
	if input.Price == "" && input.PriceValue == nil {
		input.Price = "Contact seller"
	}
	created, err := s.repo.Create(ctx, input)
	if err != nil {
		return nil, err
	}
	s.InvalidateFacets()
	return created, nil
}

func (s *ListingService) Edit(ctx context.Context, actorID, id string, patch models.ListingPatch) (*models.Listing, error) {
	if patch.Empty() {
		return nil, NewValidationError(map[string]string{"patch": "no editable fields"})
	}
	fields := map[string]string{}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		fields["title"] = "must not be empty"
	}
	if patch.PriceValue != nil {
		if msg := checkPrice(*patch.PriceValue); msg != "" {
			fields["price_value"] = msg
		}
	}
	if len(fields) > 0 {
		return nil, NewValidationError(fields)
	}

	if err := s.checkOwner(ctx, actorID, id); err != nil {
		return nil, err
	}
	updated, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.InvalidateFacets()
	return updated, nil
}

func (s *ListingService) Remove(ctx context.Context, actorID, id string) error {
	if err := s.checkOwner(ctx, actorID, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.InvalidateFacets()
	return nil
}

func (s *ListingService) checkOwner(ctx context.Context, actorID, id string) error {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.SellerID != models.NormalizeUserID(actorID) {
		return repositories.ErrListingForbidden
	}
	return nil
}

// checkPrice keeps every listing reachable from the default price range.
func checkPrice(v float64) string {
	switch {
	case v < 0:
		return "must not be negative"
	case v > marketplace.DefaultPriceRange.Max:
		return fmt.Sprintf("must not exceed %.0f", marketplace.DefaultPriceRange.Max)
	}
	return ""
}
