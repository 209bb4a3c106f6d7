package transport

import (
	"errors"
	"net/http"

	"greenmarket/internal/domain"
	"greenmarket/internal/middleware"
	"greenmarket/internal/repository"
	"greenmarket/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AddItemRequest represents the add-to-cart request payload
type AddItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity"`
}

// UpdateItemRequest represents the quantity update request payload
type UpdateItemRequest struct {
	Quantity int `json:"quantity"`
}

// CartLineResponse represents one cart line with its joined product snapshot
type CartLineResponse struct {
	ItemID   string              `json:"item_id"`
	Product  CartProductSnapshot `json:"product"`
	Quantity int                 `json:"quantity"`
	Subtotal string              `json:"subtotal"`
}

// CartProductSnapshot represents the product fields shown on a cart line
type CartProductSnapshot struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	ImageURL string `json:"image_url"`
	Stock    int    `json:"stock"`
}

// CartResponse represents the full cart view. Total and count are computed
// from the lines on every render.
type CartResponse struct {
	Lines []CartLineResponse `json:"lines"`
	Total string             `json:"total"`
	Count int                `json:"count"`
}

// CartHandler handles HTTP requests for cart operations
type CartHandler struct {
	cartService service.CartService
	logger      *zap.Logger
}

// NewCartHandler creates a new CartHandler
func NewCartHandler(cartService service.CartService, logger *zap.Logger) *CartHandler {
	return &CartHandler{
		cartService: cartService,
		logger:      logger,
	}
}

// RegisterRoutes registers all cart routes. Every route requires a signed-in
// user.
func (h *CartHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/cart", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/", h.GetCart)
		r.Delete("/", h.ClearCart)
		r.Post("/items", h.AddItem)
		r.Put("/items/{id}", h.UpdateItem)
		r.Delete("/items/{id}", h.RemoveItem)
	})
}

// GetCart returns the user's cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(r)
	if !ok {
		middleware.RespondWithError(w, http.StatusUnauthorized, "please sign in to continue")
		return
	}

	view, err := h.cartService.GetCart(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to get cart", zap.Error(err), zap.String("user_id", userID.String()))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to get cart")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, toCartResponse(view))
}

// AddItem puts a product into the cart
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(r)
	if !ok {
		middleware.RespondWithError(w, http.StatusUnauthorized, "please sign in to continue")
		return
	}

	var req AddItemRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		h.logger.Debug("Add item validation failed", zap.Error(err))

		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}

		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid product ID")
		return
	}

	view, err := h.cartService.AddToCart(r.Context(), userID, productID, req.Quantity)
	if err != nil {
		h.respondCartError(w, err, userID)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, toCartResponse(view))
}

// UpdateItem sets a cart line's quantity
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(r)
	if !ok {
		middleware.RespondWithError(w, http.StatusUnauthorized, "please sign in to continue")
		return
	}

	itemID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid cart item ID")
		return
	}

	var req UpdateItemRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		h.logger.Debug("Update item validation failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := h.cartService.UpdateQuantity(r.Context(), userID, itemID, req.Quantity)
	if err != nil {
		h.respondCartError(w, err, userID)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, toCartResponse(view))
}

// RemoveItem deletes a cart line
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(r)
	if !ok {
		middleware.RespondWithError(w, http.StatusUnauthorized, "please sign in to continue")
		return
	}

	itemID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid cart item ID")
		return
	}

	view, err := h.cartService.RemoveFromCart(r.Context(), userID, itemID)
	if err != nil {
		h.respondCartError(w, err, userID)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, toCartResponse(view))
}

// ClearCart deletes all cart lines
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(r)
	if !ok {
		middleware.RespondWithError(w, http.StatusUnauthorized, "please sign in to continue")
		return
	}

	view, err := h.cartService.ClearCart(r.Context(), userID)
	if err != nil {
		h.respondCartError(w, err, userID)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, toCartResponse(view))
}

// respondCartError maps service errors to HTTP responses. Stock violations
// carry the product name and the currently available quantity so the caller
// can show an actionable message.
func (h *CartHandler) respondCartError(w http.ResponseWriter, err error, userID uuid.UUID) {
	var stockErr *service.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		middleware.RespondWithErrorDetails(w, http.StatusConflict, stockErr.Error(), map[string]interface{}{
			"product":   stockErr.ProductName,
			"available": stockErr.Available,
		})
	case errors.Is(err, repository.ErrProductNotFound):
		middleware.RespondWithError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, repository.ErrCartItemNotFound):
		middleware.RespondWithError(w, http.StatusNotFound, "cart item not found")
	default:
		h.logger.Error("Cart operation failed", zap.Error(err), zap.String("user_id", userID.String()))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to update cart")
	}
}

func toCartResponse(view domain.CartView) CartResponse {
	lines := make([]CartLineResponse, 0, len(view.Lines))
	for _, line := range view.Lines {
		lines = append(lines, CartLineResponse{
			ItemID: line.ItemID.String(),
			Product: CartProductSnapshot{
				ID:       line.Product.ID.String(),
				Name:     line.Product.Name,
				Price:    line.Product.Price.String(),
				ImageURL: line.Product.ImageURL,
				Stock:    line.Product.Stock,
			},
			Quantity: line.Quantity,
			Subtotal: line.Subtotal().String(),
		})
	}
	return CartResponse{
		Lines: lines,
		Total: view.Total().String(),
		Count: view.Count(),
	}
}
