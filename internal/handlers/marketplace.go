package handlers

import (
	"context"
	"errors"
	nethttp "net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"allies-service/internal/marketplace"
	"allies-service/internal/metrics"
	"allies-service/internal/models"
	"allies-service/internal/repositories"
	"allies-service/internal/services"
	"allies-service/internal/telemetry"
)

type MarketplaceHandler struct {
	listings *services.ListingService
	audit    *telemetry.AuditEmitter
}

func NewMarketplaceHandler(listings *services.ListingService, audit *telemetry.AuditEmitter) *MarketplaceHandler {
	return &MarketplaceHandler{listings: listings, audit: audit}
}

// filterStateFromQuery builds a FilterState from query parameters. Absent
// parameters keep their default.
func filterStateFromQuery(c *gin.Context) (marketplace.FilterState, error) {
	var patch marketplace.FilterPatch
	str := func(key string) *string {
		if v, ok := c.GetQuery(key); ok {
			return &v
		}
		return nil
	}
	patch.SearchQuery = str("q")
	patch.Category = str("category")
	patch.SubCategory = str("sub_category")
	patch.Brand = str("brand")
	patch.AgeGroup = str("age_group")
	patch.Size = str("size")
	patch.Condition = str("condition")

	priceRange := marketplace.DefaultPriceRange
	priceSet := false
	if v, ok := c.GetQuery("min_price"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return marketplace.FilterState{}, errors.New("min_price must be a number")
		}
		priceRange.Min = f
		priceSet = true
	}
	if v, ok := c.GetQuery("max_price"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return marketplace.FilterState{}, errors.New("max_price must be a number")
		}
		priceRange.Max = f
		priceSet = true
	}
	if priceSet {
		patch.PriceRange = &priceRange
	}

	if v, ok := c.GetQuery("trusted_only"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return marketplace.FilterState{}, errors.New("trusted_only must be a boolean")
		}
		patch.TrustedOnly = &b
	}

	return marketplace.Reset().Update(patch), nil
}

func (h *MarketplaceHandler) Browse(c *gin.Context) {
	state, err := filterStateFromQuery(c)
	if err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.listings.Browse(c.Request.Context(), state)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			c.JSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(nethttp.StatusInternalServerError, gin.H{"error": "failed to load listings"})
		return
	}

	metrics.IncMarketplaceSearch(res.ActiveFiltersCount > 0)
	c.JSON(nethttp.StatusOK, res)
}

func (h *MarketplaceHandler) Facets(c *gin.Context) {
	facets, err := h.listings.Facets(c.Request.Context())
	if err != nil {
		c.JSON(nethttp.StatusInternalServerError, gin.H{"error": "failed to load facets"})
		return
	}
	c.JSON(nethttp.StatusOK, facets)
}

func (h *MarketplaceHandler) Get(c *gin.Context) {
	listing, err := h.listings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, msg := listingErrorStatus(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(nethttp.StatusOK, listing)
}

func (h *MarketplaceHandler) Create(c *gin.Context) {
	requestID := requestIDFromHeader(c)
	userID := userIDFromContext(c)
	ctx := c.Request.Context()

	if userID == "" {
		metrics.IncListingWrite("create", metrics.StatusFailed)
		c.JSON(nethttp.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body models.Listing
	if err := c.ShouldBindJSON(&body); err != nil {
		metrics.IncListingWrite("create", metrics.StatusFailed)
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	listing, err := h.listings.Create(ctx, userID, usernameFromContext(c), body)
	metrics.IncListingWrite("create", metrics.StatusOf(err))
	if err != nil {
		status, msg := listingErrorStatus(err)
		h.emitAudit(ctx, "ERROR", msg, requestID, userID)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	h.emitAudit(ctx, "INFO", "Listing '"+listing.ID+"' created", requestID, userID)
	c.JSON(nethttp.StatusCreated, listing)
}

func (h *MarketplaceHandler) Update(c *gin.Context) {
	requestID := requestIDFromHeader(c)
	userID := userIDFromContext(c)
	ctx := c.Request.Context()

	var patch models.ListingPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		metrics.IncListingWrite("edit", metrics.StatusFailed)
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	listing, err := h.listings.Edit(ctx, userID, c.Param("id"), patch)
	metrics.IncListingWrite("edit", metrics.StatusOf(err))
	if err != nil {
		status, msg := listingErrorStatus(err)
		h.emitAudit(ctx, "ERROR", msg, requestID, userID)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	h.emitAudit(ctx, "INFO", "Listing '"+listing.ID+"' updated", requestID, userID)
	c.JSON(nethttp.StatusOK, listing)
}

func (h *MarketplaceHandler) Delete(c *gin.Context) {
	requestID := requestIDFromHeader(c)
	userID := userIDFromContext(c)
	ctx := c.Request.Context()
	id := c.Param("id")

	err := h.listings.Remove(ctx, userID, id)
	metrics.IncListingWrite("remove", metrics.StatusOf(err))
	if err != nil {
		status, msg := listingErrorStatus(err)
		h.emitAudit(ctx, "ERROR", msg, requestID, userID)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	h.emitAudit(ctx, "INFO", "Listing '"+id+"' removed", requestID, userID)
	c.Status(nethttp.StatusNoContent)
}

func listingErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		return nethttp.StatusBadRequest, err.Error()
	case errors.Is(err, repositories.ErrNotFound):
		return nethttp.StatusNotFound, "listing not found"
	case errors.Is(err, repositories.ErrListingForbidden):
		return nethttp.StatusForbidden, "not allowed to change this listing"
	default:
		return nethttp.StatusInternalServerError, "failed to process listing"
	}
}

func (h *MarketplaceHandler) emitAudit(ctx context.Context, level, text, requestID, userID string) {
	if h.audit == nil {
		return
	}
	h.audit.EmitAudit(ctx, level, text, requestID, userID)
}
