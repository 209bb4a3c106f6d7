package transport

import (
	"errors"
	"net/http"
	"time"

	"greenmarket/internal/domain"
	"greenmarket/internal/middleware"
	"greenmarket/internal/repository"
	"greenmarket/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutRequest represents the checkout request payload
type CheckoutRequest struct {
	ShippingAddress domain.ShippingAddress `json:"shipping_address" validate:"required"`
	PaymentMethod   string                 `json:"payment_method" validate:"required"`
}

// CheckoutResponse represents the order confirmation returned on success
type CheckoutResponse struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Total     string `json:"total"`
	ItemCount int    `json:"item_count"`
}

// OrderItemResponse represents one purchased line of an order
type OrderItemResponse struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// OrderResponse represents an order in listings and detail views
type OrderResponse struct {
	ID              string                 `json:"id"`
	Status          string                 `json:"status"`
	TotalAmount     string                 `json:"total_amount"`
	PaymentMethod   string                 `json:"payment_method"`
	ShippingAddress domain.ShippingAddress `json:"shipping_address"`
	CreatedAt       string                 `json:"created_at"`
	Items           []OrderItemResponse    `json:"items,omitempty"`
}

// OrderHandler handles HTTP requests for checkout and order history
type OrderHandler struct {
	checkoutService service.CheckoutService
	logger          *zap.Logger
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(checkoutService service.CheckoutService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		checkoutService: checkoutService,
		logger:          logger,
	}
}

// RegisterRoutes registers checkout and order routes. The checkout route
// additionally carries the rate limiter so a stuck client cannot hammer the
// order pipeline.
func (h *OrderHandler) RegisterRoutes(r chi.Router, authMiddleware, rateLimitMiddleware func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)

		r.Group(func(r chi.Router) {
			if rateLimitMiddleware != nil {
				r.Use(rateLimitMiddleware)
			}
			r.Post("/api/checkout", h.Checkout)
		})

		r.Route("/api/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Get("/{id}", h.GetOrder)
		})
	})
}

// Checkout converts the cart into an order
func (h *OrderHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(r)
	if !ok {
		middleware.RespondWithError(w, http.StatusUnauthorized, "please sign in to continue")
		return
	}

	var req CheckoutRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		h.logger.Debug("Checkout validation failed", zap.Error(err))

		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}

		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	confirmation, err := h.checkoutService.PlaceOrder(r.Context(), userID, req.ShippingAddress, domain.PaymentMethod(req.PaymentMethod))
	if err != nil {
		h.respondCheckoutError(w, err, userID)
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, CheckoutResponse{
		OrderID:   confirmation.OrderID.String(),
		Status:    string(confirmation.Status),
		Total:     confirmation.Total.String(),
		ItemCount: confirmation.ItemCount,
	})
}

// ListOrders returns the user's order history, newest first
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(r)
	if !ok {
		middleware.RespondWithError(w, http.StatusUnauthorized, "please sign in to continue")
		return
	}

	orders, err := h.checkoutService.ListOrders(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list orders", zap.Error(err), zap.String("user_id", userID.String()))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	response := make([]OrderResponse, 0, len(orders))
	for _, order := range orders {
		response = append(response, toOrderResponse(order))
	}

	middleware.RespondWithJSON(w, http.StatusOK, response)
}

// GetOrder returns one of the user's orders with its items
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(r)
	if !ok {
		middleware.RespondWithError(w, http.StatusUnauthorized, "please sign in to continue")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	order, err := h.checkoutService.GetOrder(r.Context(), userID, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			middleware.RespondWithError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("Failed to get order", zap.Error(err), zap.String("order_id", orderID.String()))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to get order")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, toOrderResponse(order))
}

// respondCheckoutError maps checkout failures to HTTP responses. Write
// failures deliberately collapse into one retryable message; the details are
// in the logs, not the response.
func (h *OrderHandler) respondCheckoutError(w http.ResponseWriter, err error, userID uuid.UUID) {
	var outOfStock *service.OutOfStockError
	switch {
	case errors.Is(err, service.ErrEmptyCart):
		middleware.RespondWithError(w, http.StatusBadRequest, "your cart is empty")
	case errors.Is(err, service.ErrInvalidPaymentMethod):
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid payment method")
	case errors.Is(err, service.ErrCheckoutInProgress):
		middleware.RespondWithError(w, http.StatusConflict, "a checkout is already in progress")
	case errors.As(err, &outOfStock):
		middleware.RespondWithErrorDetails(w, http.StatusConflict, outOfStock.Error(), map[string]interface{}{
			"product":   outOfStock.ProductName,
			"available": outOfStock.Available,
		})
	default:
		h.logger.Error("Checkout failed", zap.Error(err), zap.String("user_id", userID.String()))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to process your order, please try again")
	}
}

func toOrderResponse(order *domain.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemResponse{
			ID:        item.ID.String(),
			ProductID: item.ProductID.String(),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.String(),
		})
	}
	return OrderResponse{
		ID:              order.ID.String(),
		Status:          string(order.Status),
		TotalAmount:     order.TotalAmount.String(),
		PaymentMethod:   string(order.PaymentMethod),
		ShippingAddress: order.ShippingAddress,
		CreatedAt:       order.CreatedAt.UTC().Format(time.RFC3339),
		Items:           items,
	}
}
