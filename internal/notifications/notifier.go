package notifications

import "context"

type SendOrderConfirmationInput struct {
	Email       string
	Name        string
	OrderID     string
	OrderNumber int64
	TotalPrice  float64
}

type Notifier interface {
	SendOrderConfirmation(ctx context.Context, input SendOrderConfirmationInput) error
}
