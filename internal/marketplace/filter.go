// Package marketplace computes which listings a shopper sees for a given set
// of filter facets.
package marketplace

import (
	"errors"
	"strings"

	"golang.org/x/text/cases"

	"allies-service/internal/models"
)

// All is the facet value meaning "no constraint".
const All = "all"

type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DefaultPriceRange covers the whole catalog.
var DefaultPriceRange = PriceRange{Min: 0, Max: 1000}

func (r PriceRange) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// FilterState is one shopper's current selection. It is never persisted.
type FilterState struct {
	SearchQuery string     `json:"search_query"`
	Category    string     `json:"category"`
	SubCategory string     `json:"sub_category"`
	Brand       string     `json:"brand"`
	AgeGroup    string     `json:"age_group"`
	Size        string     `json:"size"`
	Condition   string     `json:"condition"`
	PriceRange  PriceRange `json:"price_range"`
	TrustedOnly bool       `json:"trusted_only"`
}

// Reset returns the state with every facet at its default.
func Reset() FilterState {
	return FilterState{
		Category:    All,
		SubCategory: All,
		Brand:       All,
		AgeGroup:    All,
		Size:        All,
		Condition:   All,
		PriceRange:  DefaultPriceRange,
	}
}

var ErrInvalidPriceRange = errors.New("invalid price range")

func (s FilterState) Validate() error {
	if s.PriceRange.Min < 0 || s.PriceRange.Min > s.PriceRange.Max {
		return ErrInvalidPriceRange
	}
	return nil
}

// FilterPatch changes some facets of a FilterState. Nil fields are left alone.
type FilterPatch struct {
	SearchQuery *string
	Category    *string
	SubCategory *string
	Brand       *string
	AgeGroup    *string
	Size        *string
	Condition   *string
	PriceRange  *PriceRange
	TrustedOnly *bool
}

// Update applies p to s. A category change resets the sub-category to All
// before an explicit sub-category in the same patch is applied, so a
// sub-category from the previous category never survives.
func (s FilterState) Update(p FilterPatch) FilterState {
	if p.SearchQuery != nil {
		s.SearchQuery = *p.SearchQuery
	}
	if p.Category != nil {
		next := facetValue(*p.Category)
		if next != s.Category {
			s.SubCategory = All
		}
		s.Category = next
	}
	if p.SubCategory != nil {
		s.SubCategory = facetValue(*p.SubCategory)
	}
	if p.Brand != nil {
		s.Brand = facetValue(*p.Brand)
	}
	if p.AgeGroup != nil {
		s.AgeGroup = facetValue(*p.AgeGroup)
	}
	if p.Size != nil {
		s.Size = facetValue(*p.Size)
	}
	if p.Condition != nil {
		s.Condition = facetValue(*p.Condition)
	}
	if p.PriceRange != nil {
		s.PriceRange = *p.PriceRange
	}
	if p.TrustedOnly != nil {
		s.TrustedOnly = *p.TrustedOnly
	}
	return s
}

func (s FilterState) WithCategory(category string) FilterState {
	return s.Update(FilterPatch{Category: &category})
}

func (s FilterState) WithSubCategory(subCategory string) FilterState {
	return s.Update(FilterPatch{SubCategory: &subCategory})
}

// facetValue maps an empty selection to All.
func facetValue(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return All
	}
	return v
}

// Matches reports whether l is visible under s.
func Matches(l models.Listing, s FilterState) bool {
	if s.SearchQuery != "" &&
		!containsFold(l.Title, s.SearchQuery) && !containsFold(l.SellerLabel, s.SearchQuery) {
		return false
	}
	if s.Category != All && !equalFold(l.Category, s.Category) {
		return false
	}
	// sub-category is matched loosely against the title
	if s.SubCategory != All && !containsFold(l.Title, s.SubCategory) {
		return false
	}
	if s.Brand != All && !equalFold(l.Brand, s.Brand) {
		return false
	}
	if s.AgeGroup != All && !strings.Contains(l.AgeGroup, s.AgeGroup) {
		return false
	}
	if s.Size != All && l.Size != s.Size {
		return false
	}
	if s.Condition != All && !strings.Contains(l.Condition, s.Condition) {
		return false
	}
	if l.PriceValue != nil && !s.PriceRange.Contains(*l.PriceValue) {
		return false
	}
	if s.TrustedOnly && !l.TrustedSeller {
		return false
	}
	return true
}

// Apply returns the visible listings in catalog order. catalog is not modified.
func Apply(catalog []models.Listing, s FilterState) []models.Listing {
	visible := make([]models.Listing, 0, len(catalog))
	for _, l := range catalog {
		if Matches(l, s) {
			visible = append(visible, l)
		}
	}
	return visible
}

// ActiveFiltersCount counts facets moved away from their default.
func ActiveFiltersCount(s FilterState) int {
	n := 0
	for _, v := range []string{s.Category, s.SubCategory, s.Brand, s.AgeGroup, s.Size, s.Condition} {
		if v != All {
			n++
		}
	}
	if s.TrustedOnly {
		n++
	}
	if s.SearchQuery != "" {
		n++
	}
	if s.PriceRange != DefaultPriceRange {
		n++
	}
	return n
}

func fold(s string) string {
	return cases.Fold().String(s)
}

func containsFold(s, substr string) bool {
	return strings.Contains(fold(s), fold(substr))
}

func equalFold(a, b string) bool {
	return fold(a) == fold(b)
}
