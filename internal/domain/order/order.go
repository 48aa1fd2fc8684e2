package order

import (
	"errors"
	"math"
	"time"

	"github.com/storefronthq/storefront/internal/domain/customer"
	"github.com/storefronthq/storefront/internal/domain/product"
	"github.com/storefronthq/storefront/internal/utils"
)

var (
	ErrNotFound         = errors.New("order not found")
	ErrProductsNotFound = errors.New("one or more products not found")
	ErrCustomerNotFound = errors.New("order customer not found")
)

type Order struct {
	ID          string            `json:"id"`
	OrderNumber int64             `json:"orderNumber"`
	CustomerID  string            `json:"customerId"`
	Customer    *customer.Public  `json:"customer,omitempty"`
	Products    []product.Product `json:"products"`
	TotalPrice  float64           `json:"totalPrice"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

type CreateRequest struct {
	CustomerID string   `json:"customerId" binding:"required,uuid4"`
	ProductIDs []string `json:"productIds" binding:"required,min=1,dive,uuid4"`
}

// UpdateRequest is partial: a nil ProductIDs leaves the line items (and the
// total) alone, a nil CustomerID keeps the order with its customer.
type UpdateRequest struct {
	CustomerID *string   `json:"customerId" binding:"omitempty,uuid4"`
	ProductIDs *[]string `json:"productIds" binding:"omitempty,min=1,dive,uuid4"`
}

type ListFilter struct {
	CustomerID *string
	Limit      int
	Cursor     *utils.OrderCursor
}

// Total recomputes an order total from its current line items. Prices are
// summed in cents so repeated float addition cannot drift the stored value.
func Total(products []product.Product) float64 {
	var cents int64

	for _, p := range products {
		cents += int64(math.Round(p.Price * 100))
	}

	return float64(cents) / 100
}
