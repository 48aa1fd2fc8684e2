package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storefronthq/storefront/internal/config"
	"github.com/storefronthq/storefront/internal/domain/customer"
	"github.com/storefronthq/storefront/internal/security"
)

type CustomerStore interface {
	Create(ctx context.Context, name, email, passwordHash string) (customer.Customer, error)
	List(ctx context.Context) ([]customer.WithOrders, error)
	GetWithOrders(ctx context.Context, id string) (customer.WithOrders, error)
	Update(ctx context.Context, id string, name, email, passwordHash *string) (customer.Customer, error)
	Delete(ctx context.Context, id string) error
}

type CustomersHandler struct {
	store CustomerStore
}

func NewCustomersHandler(store CustomerStore) *CustomersHandler {
	return &CustomersHandler{store: store}
}

func (h *CustomersHandler) Create(ctx *gin.Context) {
	var req customer.CreateRequest

	if !BindJSON(ctx, &req) {
		return
	}

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		RespondInternal(ctx, "Could not create customer")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	created, err := h.store.Create(cctx, req.Name, req.Email, hash)

	if err != nil {
		if errors.Is(err, customer.ErrEmailTaken) {
			RespondError(ctx, http.StatusBadRequest, "email_taken", "Email is already in use.", nil)
			return
		}

		RespondInternal(ctx, "Could not create customer")
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"customer": created.Public()})
}

func (h *CustomersHandler) List(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	customers, err := h.store.List(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not list customers")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"customers": customers})
}

func (h *CustomersHandler) Get(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	found, err := h.store.GetWithOrders(cctx, ctx.Param("id"))

	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			RespondNotFound(ctx, "Customer not found")
			return
		}

		RespondInternal(ctx, "Could not fetch customer")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"customer": found})
}

func (h *CustomersHandler) Update(ctx *gin.Context) {
	var req customer.UpdateRequest

	if !BindJSON(ctx, &req) {
		return
	}

	var passwordHash *string

	if req.Password != nil {
		hash, err := security.HashPassword(*req.Password)
		if err != nil {
			RespondInternal(ctx, "Could not update customer")
			return
		}
		passwordHash = &hash
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	updated, err := h.store.Update(cctx, ctx.Param("id"), req.Name, req.Email, passwordHash)

	if err != nil {
		switch {
		case errors.Is(err, customer.ErrNotFound):
			RespondNotFound(ctx, "Customer not found")
		case errors.Is(err, customer.ErrEmailTaken):
			RespondError(ctx, http.StatusBadRequest, "email_taken", "Email is already in use.", nil)
		default:
			RespondInternal(ctx, "Could not update customer")
		}
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"customer": updated.Public()})
}

// Delete removes the customer and, through the schema, their orders.
func (h *CustomersHandler) Delete(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	err := h.store.Delete(cctx, ctx.Param("id"))

	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			RespondNotFound(ctx, "Customer not found")
			return
		}

		RespondInternal(ctx, "Could not delete customer")
		return
	}

	ctx.Status(http.StatusNoContent)
}
