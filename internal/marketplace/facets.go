package marketplace

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"allies-service/internal/models"
)

// Taxonomy maps each category to the sub-category facet values offered for
// it. Sub-categories are matched against listing titles.
var Taxonomy = map[string][]string{
	"Strollers & Car Seats": {"Stroller", "Car Seat", "Travel System", "Carrier"},
	"Nursery":               {"Crib", "Cot", "Monitor", "Changing Table", "Rocker"},
	"Feeding":               {"Bottle", "High Chair", "Breast Pump", "Sterilizer"},
	"Toys":                  {"Puzzle", "Plush", "Play Mat", "Walker", "Books"},
	"Clothing":              {"Onesie", "Dress", "Shoes", "Sleepsuit", "Abaya"},
	"Maternity":             {"Maternity", "Nursing", "Pillow"},
	"Bath & Care":           {"Bath", "Towel", "Potty"},
}

// SubCategoriesFor returns the sub-categories of category, or nil for All or
// an unknown category.
func SubCategoriesFor(category string) []string {
	for name, subs := range Taxonomy {
		if equalFold(name, category) {
			return append([]string(nil), subs...)
		}
	}
	return nil
}

// FacetOptions lists the values a shopper can pick for each facet.
type FacetOptions struct {
	Categories    []string            `json:"categories"`
	SubCategories map[string][]string `json:"sub_categories"`
	Brands        []string            `json:"brands"`
	AgeGroups     []string            `json:"age_groups"`
	Sizes         []string            `json:"sizes"`
	Conditions    []string            `json:"conditions"`
	PriceRange    PriceRange          `json:"price_range"`
}

// Facets derives the facet values present in catalog. Categories from the
// taxonomy are always offered.
func Facets(catalog []models.Listing) FacetOptions {
	categories := newValueSet()
	brands := newValueSet()
	ages := newValueSet()
	sizes := newValueSet()
	conditions := newValueSet()

	subs := make(map[string][]string, len(Taxonomy))
	for name, values := range Taxonomy {
		categories.add(name)
		subs[name] = append([]string(nil), values...)
	}

	priceRange := PriceRange{}
	priced := false
	for _, l := range catalog {
		categories.add(l.Category)
		brands.add(l.Brand)
		ages.add(l.AgeGroup)
		sizes.add(l.Size)
		conditions.add(l.Condition)
		if l.PriceValue == nil {
			continue
		}
		v := *l.PriceValue
		if !priced {
			priceRange = PriceRange{Min: v, Max: v}
			priced = true
			continue
		}
		if v < priceRange.Min {
			priceRange.Min = v
		}
		if v > priceRange.Max {
			priceRange.Max = v
		}
	}
	if !priced {
		priceRange = DefaultPriceRange
	}

	return FacetOptions{
		Categories:    categories.sorted(),
		SubCategories: subs,
		Brands:        brands.sorted(),
		AgeGroups:     ages.sorted(),
		Sizes:         sizes.sorted(),
		Conditions:    conditions.sorted(),
		PriceRange:    priceRange,
	}
}

type valueSet map[string]struct{}

func newValueSet() valueSet { return valueSet{} }

func (s valueSet) add(v string) {
	if v == "" {
		return
	}
	s[v] = struct{}{}
}

func (s valueSet) sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

type catalogFile struct {
	Listings []models.Listing `yaml:"listings"`
}

// LoadCatalogYAML reads a seed catalog of the form `listings: [...]`.
func LoadCatalogYAML(r io.Reader) ([]models.Listing, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	for i, l := range file.Listings {
		if l.Title == "" || l.Category == "" {
			return nil, fmt.Errorf("listing %d: title and category are required", i)
		}
		if l.PriceValue != nil && *l.PriceValue < 0 {
			return nil, fmt.Errorf("listing %d: negative price_value", i)
		}
		if l.PriceValue != nil && *l.PriceValue > DefaultPriceRange.Max {
			return nil, fmt.Errorf("listing %d: price_value above %.0f", i, DefaultPriceRange.Max)
		}
	}
	return file.Listings, nil
}
