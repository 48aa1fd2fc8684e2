package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storefronthq/storefront/internal/config"
	"github.com/storefronthq/storefront/internal/domain/order"
	"github.com/storefronthq/storefront/internal/utils"
)

type OrderStore interface {
	Create(ctx context.Context, req order.CreateRequest) (order.Order, error)
	GetByID(ctx context.Context, id string) (order.Order, error)
	List(ctx context.Context, filter order.ListFilter) ([]order.Order, string, error)
	Update(ctx context.Context, id string, req order.UpdateRequest) (order.Order, error)
	Delete(ctx context.Context, id string) error
}

type OrdersHandler struct {
	store OrderStore
}

func NewOrdersHandler(store OrderStore) *OrdersHandler {
	return &OrdersHandler{store: store}
}

// Create computes the total server side; clients only name products.
func (h *OrdersHandler) Create(ctx *gin.Context) {
	var req order.CreateRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	created, err := h.store.Create(cctx, req)

	if err != nil {
		switch {
		case errors.Is(err, order.ErrProductsNotFound):
			RespondNotFound(ctx, "One or more products not found")
		case errors.Is(err, order.ErrCustomerNotFound):
			RespondNotFound(ctx, "Customer not found")
		default:
			RespondInternal(ctx, "Could not create order")
		}
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"order": created})
}

func (h *OrdersHandler) List(ctx *gin.Context) {
	filter := order.ListFilter{}

	if v := ctx.Query("customerId"); v != "" {
		filter.CustomerID = &v
	}

	if v := ctx.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			RespondBadRequest(ctx, "limit must be a positive integer", nil)
			return
		}
		filter.Limit = n
	}

	if v := ctx.Query("cursor"); v != "" {
		cur, err := utils.DecodeOrderCursor(v)
		if err != nil {
			RespondBadRequest(ctx, "cursor is invalid", nil)
			return
		}
		filter.Cursor = &cur
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	orders, next, err := h.store.List(cctx, filter)

	if err != nil {
		RespondInternal(ctx, "Could not list orders")
		return
	}

	body := gin.H{"orders": orders}

	if next != "" {
		body["nextCursor"] = next
	}

	ctx.JSON(http.StatusOK, body)
}

func (h *OrdersHandler) Get(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	found, err := h.store.GetByID(cctx, ctx.Param("id"))

	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			RespondNotFound(ctx, "Order not found")
			return
		}

		RespondInternal(ctx, "Could not fetch order")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"order": found})
}

func (h *OrdersHandler) Update(ctx *gin.Context) {
	var req order.UpdateRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	updated, err := h.store.Update(cctx, ctx.Param("id"), req)

	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			RespondNotFound(ctx, "Order not found")
		case errors.Is(err, order.ErrProductsNotFound):
			RespondNotFound(ctx, "One or more products not found")
		case errors.Is(err, order.ErrCustomerNotFound):
			RespondNotFound(ctx, "Customer not found")
		default:
			RespondInternal(ctx, "Could not update order")
		}
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"order": updated})
}

func (h *OrdersHandler) Delete(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	err := h.store.Delete(cctx, ctx.Param("id"))

	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			RespondNotFound(ctx, "Order not found")
			return
		}

		RespondInternal(ctx, "Could not delete order")
		return
	}

	ctx.Status(http.StatusNoContent)
}
