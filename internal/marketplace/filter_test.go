package marketplace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"allies-service/internal/models"
)

func price(v float64) *float64 { return &v }

func testCatalog() []models.Listing {
	return []models.Listing{
		{ID: "1", Title: "Chicco Bravo Stroller", Category: "Strollers & Car Seats", Brand: "Chicco",
			AgeGroup: "0-36 months", Size: "Standard", Condition: "Like new", PriceValue: price(450),
			SellerLabel: "Sara K.", TrustedSeller: true},
		{ID: "2", Title: "Wooden Puzzle Set", Category: "Toys", Brand: "Melissa & Doug",
			AgeGroup: "2-4 years", Size: "One size", Condition: "Good", PriceValue: price(40),
			SellerLabel: "Huda A."},
		{ID: "3", Title: "Nursing Pillow", Category: "Maternity", Brand: "Boppy",
			AgeGroup: "0-12 months", Size: "One size", Condition: "Good - minor wear", PriceValue: nil,
			SellerLabel: "Mariam", TrustedSeller: true},
		{ID: "4", Title: "Plush Elephant", Category: "Toys", Brand: "Chicco",
			AgeGroup: "6-12 months", Size: "Small", Condition: "New with tags", PriceValue: price(120),
			SellerLabel: "Sara K."},
		{ID: "5", Title: "Baby Monitor", Category: "Nursery", Brand: "Philips Avent",
			AgeGroup: "0-36 months", Size: "Standard", Condition: "Like new", PriceValue: price(980),
			SellerLabel: "Noor"},
	}
}

func ids(listings []models.Listing) []string {
	out := make([]string, 0, len(listings))
	for _, l := range listings {
		out = append(out, l.ID)
	}
	return out
}

func TestResetIsIdempotent(t *testing.T) {
	dirty := Reset().Update(FilterPatch{
		SearchQuery: strPtr("stroller"),
		Category:    strPtr("Toys"),
		Brand:       strPtr("Chicco"),
		TrustedOnly: boolPtr(true),
		PriceRange:  &PriceRange{Min: 10, Max: 20},
	})
	require.NotEqual(t, Reset(), dirty)

	once := Reset()
	twice := Reset()
	assert.Equal(t, once, twice)
	assert.Equal(t, 0, ActiveFiltersCount(once))
	assert.Equal(t, "", once.SearchQuery)
	assert.False(t, once.TrustedOnly)
	assert.Equal(t, DefaultPriceRange, once.PriceRange)
}

func TestCategoryChangeResetsSubCategory(t *testing.T) {
	s := Reset().WithCategory("Toys").WithSubCategory("Puzzle")
	assert.Equal(t, "Puzzle", s.SubCategory)

	s = s.WithCategory("Nursery")
	assert.Equal(t, "Nursery", s.Category)
	assert.Equal(t, All, s.SubCategory)

	t.Run("same category keeps sub-category", func(t *testing.T) {
		s := Reset().WithCategory("Toys").WithSubCategory("Puzzle").WithCategory("Toys")
		assert.Equal(t, "Puzzle", s.SubCategory)
	})

	t.Run("explicit sub-category in same patch wins", func(t *testing.T) {
		s := Reset().WithCategory("Toys").WithSubCategory("Puzzle").
			Update(FilterPatch{Category: strPtr("Nursery"), SubCategory: strPtr("Crib")})
		assert.Equal(t, "Crib", s.SubCategory)
	})

	t.Run("any sequence of unrelated changes", func(t *testing.T) {
		s := Reset().WithCategory("Toys").WithSubCategory("Puzzle")
		for _, p := range []FilterPatch{
			{Brand: strPtr("Chicco")},
			{TrustedOnly: boolPtr(true)},
			{Category: strPtr("Feeding")},
			{Size: strPtr("Small")},
		} {
			s = s.Update(p)
		}
		assert.Equal(t, All, s.SubCategory)
	})

	t.Run("empty category means all", func(t *testing.T) {
		s := Reset().WithCategory("Toys").WithCategory("")
		assert.Equal(t, All, s.Category)
	})
}

func TestFilterMonotonicity(t *testing.T) {
	catalog := testCatalog()
	base := Reset()
	baseIDs := ids(Apply(catalog, base))

	stricter := []FilterPatch{
		{SearchQuery: strPtr("sara")},
		{Category: strPtr("Toys")},
		{SubCategory: strPtr("Puzzle")},
		{Brand: strPtr("chicco")},
		{AgeGroup: strPtr("months")},
		{Size: strPtr("One size")},
		{Condition: strPtr("Good")},
		{PriceRange: &PriceRange{Min: 50, Max: 500}},
		{TrustedOnly: boolPtr(true)},
	}
	for _, p := range stricter {
		narrowed := ids(Apply(catalog, base.Update(p)))
		assert.Subset(t, baseIDs, narrowed)
		assert.LessOrEqual(t, len(narrowed), len(baseIDs))
	}

	// stacking constraints never grows the set either
	s := base
	prev := baseIDs
	for _, p := range stricter {
		s = s.Update(p)
		next := ids(Apply(catalog, s))
		assert.Subset(t, prev, next)
		prev = next
	}
}

func TestNullPricePassesEveryRange(t *testing.T) {
	l := models.Listing{ID: "x", Title: "Crib", Category: "Nursery", PriceValue: nil}
	for _, r := range []PriceRange{
		DefaultPriceRange,
		{Min: 0, Max: 0},
		{Min: 500, Max: 500},
		{Min: 999, Max: 1000},
	} {
		s := Reset().Update(FilterPatch{PriceRange: &r})
		assert.True(t, Matches(l, s), "range %v", r)
	}

	priced := models.Listing{ID: "y", Title: "Crib", PriceValue: price(600)}
	s := Reset().Update(FilterPatch{PriceRange: &PriceRange{Min: 0, Max: 599.99}})
	assert.False(t, Matches(priced, s))
	s = Reset().Update(FilterPatch{PriceRange: &PriceRange{Min: 600, Max: 600}})
	assert.True(t, Matches(priced, s), "bounds are inclusive")
}

func TestActiveFiltersCount(t *testing.T) {
	patches := []FilterPatch{
		{Category: strPtr("Toys")},
		{SubCategory: strPtr("Puzzle")},
		{Brand: strPtr("Chicco")},
		{AgeGroup: strPtr("0-12 months")},
		{Size: strPtr("Small")},
		{Condition: strPtr("Good")},
		{TrustedOnly: boolPtr(true)},
		{SearchQuery: strPtr("pillow")},
		{PriceRange: &PriceRange{Min: 0, Max: 999}},
	}
	s := Reset()
	for k, p := range patches {
		s = s.Update(p)
		assert.Equal(t, k+1, ActiveFiltersCount(s))
	}

	minMoved := Reset().Update(FilterPatch{PriceRange: &PriceRange{Min: 1, Max: 1000}})
	assert.Equal(t, 1, ActiveFiltersCount(minMoved))
}

func TestScenarioTrustedOnlyRemovesUntrustedListing(t *testing.T) {
	catalog := []models.Listing{
		{ID: "toy", Title: "Activity Gym", Category: "Toys", Brand: "Chicco", PriceValue: price(120), TrustedSeller: false},
	}
	s := Reset().Update(FilterPatch{
		Category:   strPtr("Toys"),
		PriceRange: &PriceRange{Min: 0, Max: 200},
	})
	assert.Equal(t, []string{"toy"}, ids(Apply(catalog, s)))

	s = s.Update(FilterPatch{TrustedOnly: boolPtr(true)})
	assert.Empty(t, Apply(catalog, s))
}

func TestMatchPredicates(t *testing.T) {
	catalog := testCatalog()

	tests := []struct {
		name  string
		patch FilterPatch
		want  []string
	}{
		{"no filters", FilterPatch{}, []string{"1", "2", "3", "4", "5"}},
		{"search title case-insensitive", FilterPatch{SearchQuery: strPtr("STROLLER")}, []string{"1"}},
		{"search seller label", FilterPatch{SearchQuery: strPtr("sara k")}, []string{"1", "4"}},
		{"category case-insensitive", FilterPatch{Category: strPtr("toys")}, []string{"2", "4"}},
		{"sub-category matches title", FilterPatch{Category: strPtr("Toys"), SubCategory: strPtr("plush")}, []string{"4"}},
		{"brand case-insensitive", FilterPatch{Brand: strPtr("CHICCO")}, []string{"1", "4"}},
		{"age group is directional substring", FilterPatch{AgeGroup: strPtr("0-12 months")}, []string{"3"}},
		{"size exact", FilterPatch{Size: strPtr("One size")}, []string{"2", "3"}},
		{"size is case-sensitive", FilterPatch{Size: strPtr("one size")}, []string{}},
		{"condition substring", FilterPatch{Condition: strPtr("Good")}, []string{"2", "3"}},
		{"price range", FilterPatch{PriceRange: &PriceRange{Min: 100, Max: 500}}, []string{"1", "3", "4"}},
		{"trusted only", FilterPatch{TrustedOnly: boolPtr(true)}, []string{"1", "3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(Apply(catalog, Reset().Update(tt.patch)))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyIsPure(t *testing.T) {
	catalog := testCatalog()
	before := ids(catalog)
	s := Reset().Update(FilterPatch{Brand: strPtr("Chicco")})

	first := Apply(catalog, s)
	second := Apply(catalog, s)
	assert.Equal(t, first, second)
	assert.Equal(t, before, ids(catalog))
	assert.NotNil(t, Apply(nil, s))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Reset().Validate())
	bad := Reset().Update(FilterPatch{PriceRange: &PriceRange{Min: 300, Max: 100}})
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPriceRange)
	neg := Reset().Update(FilterPatch{PriceRange: &PriceRange{Min: -1, Max: 100}})
	assert.ErrorIs(t, neg.Validate(), ErrInvalidPriceRange)
}

func TestFacets(t *testing.T) {
	f := Facets(testCatalog())
	assert.Equal(t, []string{"Boppy", "Chicco", "Melissa & Doug", "Philips Avent"}, f.Brands)
	assert.Equal(t, []string{"One size", "Small", "Standard"}, f.Sizes)
	assert.Contains(t, f.Categories, "Toys")
	assert.Contains(t, f.Categories, "Feeding", "taxonomy categories are always offered")
	assert.Equal(t, PriceRange{Min: 40, Max: 980}, f.PriceRange)
	assert.Contains(t, f.SubCategories["Toys"], "Puzzle")

	empty := Facets(nil)
	assert.Equal(t, DefaultPriceRange, empty.PriceRange)
	assert.Empty(t, empty.Brands)
}

func TestSubCategoriesFor(t *testing.T) {
	assert.Contains(t, SubCategoriesFor("nursery"), "Crib")
	assert.Nil(t, SubCategoriesFor(All))
	assert.Nil(t, SubCategoriesFor("Gardening"))
}

func TestLoadCatalogYAML(t *testing.T) {
	doc := `
listings:
  - id: seed-1
    seller_id: sara@example.com
    title: Chicco Bravo Stroller
    category: Strollers & Car Seats
    brand: Chicco
    price: AED 450
    price_value: 450
    trusted_seller: true
  - id: seed-2
    seller_id: huda@example.com
    title: Nursing Pillow
    category: Maternity
    price: Contact seller
`
	listings, err := LoadCatalogYAML(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, listings, 2)
	require.NotNil(t, listings[0].PriceValue)
	assert.Equal(t, 450.0, *listings[0].PriceValue)
	assert.True(t, listings[0].TrustedSeller)
	assert.Nil(t, listings[1].PriceValue)

	_, err = LoadCatalogYAML(strings.NewReader("listings:\n  - title: Missing category\n"))
	assert.Error(t, err)

	_, err = LoadCatalogYAML(strings.NewReader("listings:\n  - title: x\n    category: Toys\n    colour: red\n"))
	assert.Error(t, err, "unknown fields are rejected")

	_, err = LoadCatalogYAML(strings.NewReader("listings:\n  - title: Bugaboo Fox\n    category: Strollers & Car Seats\n    price_value: 2100\n"))
	assert.ErrorContains(t, err, "price_value above 1000", "every listing stays inside the default price range")
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
