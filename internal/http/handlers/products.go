package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storefronthq/storefront/internal/config"
	"github.com/storefronthq/storefront/internal/domain/product"
)

type ProductStore interface {
	Create(ctx context.Context, req product.CreateRequest) (product.Product, error)
	GetByID(ctx context.Context, id string) (product.Product, error)
	List(ctx context.Context) ([]product.Product, error)
	Update(ctx context.Context, id string, req product.UpdateRequest) (product.Product, error)
	Delete(ctx context.Context, id string) error
}

type ProductCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

const productListKey = "products:list"
const productListTTL = 30 * time.Second

type ProductsHandler struct {
	store ProductStore
	cache ProductCache
	log   *slog.Logger
}

// cache may be nil, in which case every list hits the database.
func NewProductsHandler(store ProductStore, cache ProductCache, log *slog.Logger) *ProductsHandler {
	return &ProductsHandler{store: store, cache: cache, log: log}
}

func (h *ProductsHandler) invalidate(ctx context.Context) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Delete(ctx, productListKey); err != nil {
		h.log.Warn("product cache invalidation failed", "error", err)
	}
}

func (h *ProductsHandler) Create(ctx *gin.Context) {
	var req product.CreateRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	created, err := h.store.Create(cctx, req)

	if err != nil {
		RespondInternal(ctx, "Could not create product")
		return
	}

	h.invalidate(cctx)

	ctx.JSON(http.StatusCreated, gin.H{"product": created})
}

func (h *ProductsHandler) List(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	if h.cache != nil {
		var cached []product.Product

		hit, err := h.cache.GetJSON(cctx, productListKey, &cached)
		if err != nil {
			// redis being down must not take listings with it
			h.log.Warn("product cache read failed", "error", err)
		}
		if hit {
			ctx.JSON(http.StatusOK, gin.H{"products": cached})
			return
		}
	}

	products, err := h.store.List(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not list products")
		return
	}

	if h.cache != nil {
		if err := h.cache.SetJSON(cctx, productListKey, products, productListTTL); err != nil {
			h.log.Warn("product cache write failed", "error", err)
		}
	}

	ctx.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *ProductsHandler) Get(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	found, err := h.store.GetByID(cctx, ctx.Param("id"))

	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			RespondNotFound(ctx, "Product not found")
			return
		}

		RespondInternal(ctx, "Could not fetch product")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"product": found})
}

func (h *ProductsHandler) Update(ctx *gin.Context) {
	var req product.UpdateRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	updated, err := h.store.Update(cctx, ctx.Param("id"), req)

	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			RespondNotFound(ctx, "Product not found")
			return
		}

		RespondInternal(ctx, "Could not update product")
		return
	}

	h.invalidate(cctx)

	ctx.JSON(http.StatusOK, gin.H{"product": updated})
}

// Delete refuses to remove a product that appears in any order.
func (h *ProductsHandler) Delete(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	err := h.store.Delete(cctx, ctx.Param("id"))

	if err != nil {
		var inUse product.InUseError

		switch {
		case errors.Is(err, product.ErrNotFound):
			RespondNotFound(ctx, "Product not found")
		case errors.As(err, &inUse):
			RespondError(ctx, http.StatusBadRequest, "product_in_use", inUse.Error(), gin.H{"orders": inUse.Orders})
		default:
			RespondInternal(ctx, "Could not delete product")
		}
		return
	}

	h.invalidate(cctx)

	ctx.Status(http.StatusNoContent)
}
