package models

import "time"

// Listing is a marketplace item. PriceValue is nil when the seller asks to be
// contacted for a price.
type Listing struct {
	ID            string    `db:"id" json:"id" yaml:"id"`
	SellerID      string    `db:"seller_id" json:"seller_id" yaml:"seller_id"`
	Title         string    `db:"title" json:"title" yaml:"title"`
	Description   string    `db:"description" json:"description" yaml:"description"`
	Category      string    `db:"category" json:"category" yaml:"category"`
	SubCategory   string    `db:"sub_category" json:"sub_category" yaml:"sub_category"`
	Brand         string    `db:"brand" json:"brand" yaml:"brand"`
	AgeGroup      string    `db:"age_group" json:"age_group" yaml:"age_group"`
	Size          string    `db:"size" json:"size" yaml:"size"`
	Condition     string    `db:"condition" json:"condition" yaml:"condition"`
	Price         string    `db:"price" json:"price" yaml:"price"`
	PriceValue    *float64  `db:"price_value" json:"price_value" yaml:"price_value"`
	SellerLabel   string    `db:"seller_label" json:"seller_label" yaml:"seller_label"`
	TrustedSeller bool      `db:"trusted_seller" json:"trusted_seller" yaml:"trusted_seller"`
	ImageRef      string    `db:"image_ref" json:"image_ref" yaml:"image_ref"`
	CreatedAt     time.Time `db:"created_at" json:"created_at" yaml:"-"`
}

// ListingPatch carries the editable fields of a listing. Taxonomy fields
// (category, brand, age group, size) are fixed at creation.
type ListingPatch struct {
	Title           *string  `json:"title"`
	Description     *string  `json:"description"`
	Condition       *string  `json:"condition"`
	Price           *string  `json:"price"`
	PriceValue      *float64 `json:"price_value"`
	ClearPriceValue bool     `json:"clear_price_value"`
}

func (p ListingPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Condition == nil &&
		p.Price == nil && p.PriceValue == nil && !p.ClearPriceValue
}

func ApplyListingPatch(l Listing, p ListingPatch) Listing {
	if p.Title != nil {
		l.Title = *p.Title
	}
	if p.Description != nil {
		l.Description = *p.Description
	}
	if p.Condition != nil {
		l.Condition = *p.Condition
	}
	if p.Price != nil {
		l.Price = *p.Price
	}
	if p.ClearPriceValue {
		l.PriceValue = nil
	} else if p.PriceValue != nil {
		v := *p.PriceValue
		l.PriceValue = &v
	}
	return l
}
