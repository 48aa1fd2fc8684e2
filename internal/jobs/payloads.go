package jobs

import "time"

// OrderConfirmationPayload carries everything the worker needs to confirm an
// order without a read back to the orders table.
type OrderConfirmationPayload struct {
	OrderID     string    `json:"orderId"`
	OrderNumber int64     `json:"orderNumber"`
	CustomerID  string    `json:"customerId"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	TotalPrice  float64   `json:"totalPrice"`
	RequestedAt time.Time `json:"requestedAt"`
}
