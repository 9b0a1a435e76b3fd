// Package feed writes product catalog feed files and publishes them atomically.
package feed

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Columns is the published column order. The remote endpoint parses files by
// header name and position, so entries may be appended but never reordered.
var Columns = []string{
	"id",
	"title",
	"description",
	"availability",
	"condition",
	"price",
	"sale_price",
	"link",
	"image_link",
	"additional_image_link",
	"brand",
	"item_group_id",
	"product_type",
	"inventory",
}

// Availability values understood by the ingestion endpoint.
const (
	InStock    = "in stock"
	OutOfStock = "out of stock"
	Preorder   = "preorder"
)

// Money is a fixed-precision amount in a currency.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// String renders m as "12.50 EUR". The amount always carries two decimals
// and never uses locale separators.
func (m Money) String() string {
	if m.Currency == "" {
		return m.Amount.StringFixed(2)
	}
	return m.Amount.StringFixed(2) + " " + m.Currency
}

// Row is one catalog item as it appears in the feed.
type Row struct {
	ID                   string
	Title                string
	Description          string
	Availability         string
	Condition            string
	Price                Money
	SalePrice            *Money
	Link                 string
	ImageLink            string
	AdditionalImageLinks []string
	Brand                string
	ItemGroupID          string
	ProductType          string
	Inventory            int
}

// Values returns the row's fields in Columns order.
func (r *Row) Values() []string {
	sale := ""
	if r.SalePrice != nil {
		sale = r.SalePrice.String()
	}
	condition := r.Condition
	if condition == "" {
		condition = "new"
	}
	return []string{
		r.ID,
		r.Title,
		r.Description,
		r.Availability,
		condition,
		r.Price.String(),
		sale,
		r.Link,
		r.ImageLink,
		strings.Join(r.AdditionalImageLinks, ","),
		r.Brand,
		r.ItemGroupID,
		r.ProductType,
		strconv.Itoa(r.Inventory),
	}
}

// headerLine is the first line of every file this package writes.
func headerLine() string {
	return strings.Join(Columns, ",")
}
