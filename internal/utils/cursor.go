package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// OrderCursor is an opaque list position: the createdAt/id pair of the last
// row on the previous page, base64url over JSON.
type OrderCursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

func EncodeOrderCursor(createdAt time.Time, id string) (string, error) {
	b, err := json.Marshal(OrderCursor{CreatedAt: createdAt, ID: id})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeOrderCursor(cursor string) (OrderCursor, error) {
	if cursor == "" {
		return OrderCursor{}, errors.New("empty cursor")
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return OrderCursor{}, err
	}

	var c OrderCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return OrderCursor{}, err
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		return OrderCursor{}, errors.New("invalid cursor payload")
	}
	return c, nil
}
