package product

import (
	"time"

	"github.com/google/uuid"
)

func NewFromCreateRequest(req CreateRequest) Product {
	now := time.Now().UTC()

	return Product{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
