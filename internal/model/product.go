package model

import "time"

// AttributeType is the closed set of product attribute kinds.
type AttributeType string

const (
	AttributeText    AttributeType = "text"
	AttributeNumber  AttributeType = "number"
	AttributeBoolean AttributeType = "boolean"
	AttributeColor   AttributeType = "color"
	AttributeSize    AttributeType = "size"
)

// ProductAttribute is a typed name/value pair on a product.
type ProductAttribute struct {
	Name  string        `json:"name" validate:"required,max=64"`
	Value string        `json:"value" validate:"required,max=256"`
	Type  AttributeType `json:"type" validate:"required,oneof=text number boolean color size"`
}

// Category groups products.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Seller is the denormalized owner of a product.
type Seller struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Product is the fully joined marketplace view.
type Product struct {
	ID          string             `json:"id"`
	SellerID    string             `json:"sellerId"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Price       float64            `json:"price"`
	Currency    string             `json:"currency"`
	Stock       int                `json:"stock"`
	Attributes  []ProductAttribute `json:"attributes"`
	Categories  []Category         `json:"categories"`
	Seller      *Seller            `json:"seller,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// ProductPayload is the body of product_create and the fields of product_update.
type ProductPayload struct {
	Title       string             `json:"title" validate:"required,max=200"`
	Description string             `json:"description" validate:"max=5000"`
	Price       float64            `json:"price" validate:"gte=0,lte=9999999999.99"`
	Currency    string             `json:"currency" validate:"required,len=3,alpha"`
	Stock       int                `json:"stock" validate:"gte=0"`
	CategoryIDs []string           `json:"categoryIds" validate:"max=20,unique,dive,required"`
	Attributes  []ProductAttribute `json:"attributes" validate:"max=50,dive"`
}

// UpdateProductPayload is the body of product_update.
type UpdateProductPayload struct {
	ProductID string `json:"productId" validate:"required"`
	ProductPayload
}

// ProductRefPayload addresses a product (delete, view, unview).
type ProductRefPayload struct {
	ProductID string `json:"productId" validate:"required"`
}

// ProductDeletion is the data of marketplace:product_deleted.
type ProductDeletion struct {
	ProductID string `json:"productId"`
	ActorID   string `json:"actorId"`
}

// ProductMutation is what the store writes in one transaction.
type ProductMutation struct {
	SellerID    string
	Title       string
	Description string
	Price       float64
	Currency    string
	Stock       int
	CategoryIDs []string
	Attributes  []ProductAttribute
}

// Sort keys for product search
const (
	SortRecent    = "recent"
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
	SortTitle     = "title"
)

// SearchFilter is the body of marketplace:search.
type SearchFilter struct {
	Query      string   `json:"query,omitempty"`
	CategoryID string   `json:"categoryId,omitempty"`
	SellerID   string   `json:"sellerId,omitempty"`
	MinPrice   *float64 `json:"minPrice,omitempty"`
	MaxPrice   *float64 `json:"maxPrice,omitempty"`
	SortBy     string   `json:"sortBy,omitempty"`
	Page       int      `json:"page"`
	PageSize   int      `json:"pageSize"`
}

// SearchPage is the data of marketplace:search_result.
type SearchPage struct {
	Items    []*Product `json:"items"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"pageSize"`
	HasMore  bool       `json:"hasMore"`
}
