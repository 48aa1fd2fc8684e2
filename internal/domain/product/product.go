package product

import (
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("product not found")

// InUseError blocks deletion of a product that orders still reference.
type InUseError struct {
	Orders int
}

func (e InUseError) Error() string {
	return fmt.Sprintf("cannot delete product: referenced in %d order(s)", e.Orders)
}

type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type CreateRequest struct {
	Name        string  `json:"name" binding:"required,min=1,max=120"`
	Description string  `json:"description" binding:"max=1000"`
	Price       float64 `json:"price" binding:"min=0"`
}

type UpdateRequest struct {
	Name        *string  `json:"name" binding:"omitempty,min=1,max=120"`
	Description *string  `json:"description" binding:"omitempty,max=1000"`
	Price       *float64 `json:"price" binding:"omitempty,min=0"`
}
