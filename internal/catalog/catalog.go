// Package catalog enumerates products for feed generation from a GORM-managed products table.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"feedplane/internal/feed"
	"feedplane/internal/store"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultPageSize is the number of ids fetched per enumeration query.
const DefaultPageSize = 500

// Product is a sellable item.
type Product struct {
	ID               string              `gorm:"primaryKey;size:64" json:"id"`
	Title            string              `gorm:"not null" json:"title"`
	Description      string              `json:"description"`
	Price            decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"price"`
	SalePrice        decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"sale_price"`
	Currency         string              `gorm:"size:3;not null" json:"currency"`
	Availability     string              `gorm:"size:32" json:"availability"`
	Condition        string              `gorm:"size:16" json:"condition"`
	Link             string              `json:"link"`
	ImageLink        string              `json:"image_link"`
	AdditionalImages string              `json:"additional_images"`
	Brand            string              `json:"brand"`
	ItemGroupID      string              `gorm:"size:64" json:"item_group_id"`
	Category         string              `gorm:"size:128;index" json:"category"`
	Inventory        int                 `json:"inventory"`
	Hidden           bool                `gorm:"not null;default:false" json:"hidden"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// Row converts p into its feed representation.
func (p *Product) Row() *feed.Row {
	row := &feed.Row{
		ID:           p.ID,
		Title:        p.Title,
		Description:  p.Description,
		Availability: p.Availability,
		Condition:    p.Condition,
		Price:        feed.Money{Amount: p.Price, Currency: p.Currency},
		Link:         p.Link,
		ImageLink:    p.ImageLink,
		Brand:        p.Brand,
		ItemGroupID:  p.ItemGroupID,
		ProductType:  p.Category,
		Inventory:    p.Inventory,
	}
	if row.Availability == "" {
		row.Availability = feed.OutOfStock
		if p.Inventory > 0 {
			row.Availability = feed.InStock
		}
	}
	if p.SalePrice.Valid {
		row.SalePrice = &feed.Money{Amount: p.SalePrice.Decimal, Currency: p.Currency}
	}
	for _, link := range strings.Split(p.AdditionalImages, ",") {
		if link = strings.TrimSpace(link); link != "" {
			row.AdditionalImageLinks = append(row.AdditionalImageLinks, link)
		}
	}
	return row
}

// Migrate creates the products table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Product{})
}

// Catalog reads products from db.
type Catalog struct {
	db       *gorm.DB
	pageSize int
}

// New creates a Catalog over db.
func New(db *gorm.DB) *Catalog {
	return &Catalog{db: db, pageSize: DefaultPageSize}
}

// Upsert inserts or replaces products.
func (c *Catalog) Upsert(ctx context.Context, products ...*Product) error {
	if len(products) == 0 {
		return nil
	}
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(products).Error
}

// ListProductIDs yields product ids matching filter in id order.
// Ids are fetched page by page so large catalogs are never held in memory.
func (c *Catalog) ListProductIDs(ctx context.Context, filter store.ProductFilter) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		after := ""
		for {
			q := c.db.WithContext(ctx).Model(&Product{}).Where("id > ?", after)
			if !filter.IncludeHidden {
				q = q.Where("hidden = ?", false)
			}
			if len(filter.Categories) > 0 {
				q = q.Where("category IN ?", filter.Categories)
			}

			var page []string
			if err := q.Order("id").Limit(c.pageSize).Pluck("id", &page).Error; err != nil {
				yield("", fmt.Errorf("failed to list products after %q: %w", after, err))
				return
			}
			for _, id := range page {
				if !yield(id, nil) {
					return
				}
			}
			if len(page) < c.pageSize {
				return
			}
			after = page[len(page)-1]
		}
	}
}

// Resolve loads one product as a feed row.
func (c *Catalog) Resolve(ctx context.Context, id string) (*feed.Row, error) {
	var p Product
	if err := c.db.WithContext(ctx).Where("id = ?", id).Take(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("product %s: %w", id, feed.ErrProductNotFound)
		}
		return nil, fmt.Errorf("failed to load product %s: %w", id, err)
	}
	return p.Row(), nil
}
