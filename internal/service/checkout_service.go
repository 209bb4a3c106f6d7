package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"greenmarket/internal/domain"
	"greenmarket/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderConfirmation is the success report returned to the caller after a
// fully committed checkout.
type OrderConfirmation struct {
	OrderID   uuid.UUID          `json:"order_id"`
	Status    domain.OrderStatus `json:"status"`
	Total     decimal.Decimal    `json:"total"`
	ItemCount int                `json:"item_count"`
}

// CheckoutService converts the current cart into a persisted order,
// decrementing inventory. The conversion is a sequence of dependent remote
// writes with no cross-table transaction, so the orchestrator provides the
// ordering and the compensation itself: the cart is treated as disposable
// only after every downstream write has succeeded.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, userID uuid.UUID, address domain.ShippingAddress, method domain.PaymentMethod) (*OrderConfirmation, error)
	ListOrders(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error)
	GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*domain.Order, error)
}

type checkoutService struct {
	carts    repository.CartRepository
	products repository.ProductRepository
	orders   repository.OrderRepository
	cache    CartCache
	logger   *zap.Logger

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

// NewCheckoutService creates a new instance of CheckoutService
func NewCheckoutService(
	carts repository.CartRepository,
	products repository.ProductRepository,
	orders repository.OrderRepository,
	cache CartCache,
	logger *zap.Logger,
) CheckoutService {
	return &checkoutService{
		carts:    carts,
		products: products,
		orders:   orders,
		cache:    cache,
		logger:   logger,
		inFlight: make(map[uuid.UUID]struct{}),
	}
}

// PlaceOrder runs the checkout sequence:
//
//  1. refuse when a checkout for this user is already outstanding
//  2. load the cart; an empty cart fails before any inventory or order access
//  3. pre-flight: re-read live stock per line, abort before any write if
//     any requested quantity exceeds it
//  4. create the order row (status pending for cod, confirmed otherwise)
//  5. insert order items, copying the current unit price
//  6. atomically decrement stock per item
//  7. only after all of the above: clear the cart and report success
//
// On any failure the cart is left exactly as it was, so the caller can
// retry. Losing the decrement race to a concurrent checkout reports out of
// stock the same way a pre-flight abort does. An infrastructure failure
// mid-decrement does not reverse the decrements already applied; see
// DESIGN.md for the rationale.
func (s *checkoutService) PlaceOrder(ctx context.Context, userID uuid.UUID, address domain.ShippingAddress, method domain.PaymentMethod) (*OrderConfirmation, error) {
	if !method.Valid() {
		return nil, ErrInvalidPaymentMethod
	}

	if !s.begin(userID) {
		return nil, ErrCheckoutInProgress
	}
	defer s.end(userID)

	cart, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		s.logger.Error("Checkout failed to load cart", zap.Error(err), zap.String("user_id", userID.String()))
		return nil, ErrOrderCreationFailed
	}

	lines, err := s.carts.ListLines(ctx, cart.ID)
	if err != nil {
		s.logger.Error("Checkout failed to read cart lines", zap.Error(err), zap.String("user_id", userID.String()))
		return nil, ErrOrderCreationFailed
	}

	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	// Pre-flight stock check against live inventory. Nothing has been
	// written when this aborts, and the fresh reads also supply the unit
	// prices captured on the order items below.
	fresh := make([]*domain.Product, len(lines))
	for i, line := range lines {
		product, err := s.products.FindByID(ctx, line.Product.ID)
		if err != nil {
			if errors.Is(err, repository.ErrProductNotFound) {
				return nil, &OutOfStockError{ProductName: line.Product.Name, Available: 0}
			}
			s.logger.Error("Checkout pre-flight read failed", zap.Error(err), zap.String("product_id", line.Product.ID.String()))
			return nil, ErrOrderCreationFailed
		}
		if line.Quantity > product.Stock {
			return nil, &OutOfStockError{ProductName: product.Name, Available: product.Stock}
		}
		fresh[i] = product
	}

	total := decimal.Zero
	for i, line := range lines {
		total = total.Add(fresh[i].Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	total = total.Round(2)

	order := &domain.Order{
		ID:              uuid.New(),
		UserID:          userID,
		Status:          method.InitialStatus(),
		TotalAmount:     total,
		ShippingAddress: address,
		PaymentMethod:   method,
		CreatedAt:       time.Now(),
	}

	if err := s.orders.Create(ctx, order); err != nil {
		s.logger.Error("Order creation failed",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		return nil, ErrOrderCreationFailed
	}

	for i, line := range lines {
		item := &domain.OrderItem{
			ID:        uuid.New(),
			OrderID:   order.ID,
			ProductID: fresh[i].ID,
			Quantity:  line.Quantity,
			UnitPrice: fresh[i].Price,
		}
		if err := s.orders.CreateItem(ctx, item); err != nil {
			s.logger.Error("Order item creation failed, rolling back order",
				zap.Error(err),
				zap.String("order_id", order.ID.String()),
				zap.String("product_id", item.ProductID.String()),
			)
			// Best-effort compensation: an order without its items must not
			// survive. The cart is untouched so the user can retry.
			if delErr := s.orders.Delete(ctx, order.ID); delErr != nil {
				s.logger.Error("Failed to roll back dangling order",
					zap.Error(delErr),
					zap.String("order_id", order.ID.String()),
				)
			}
			return nil, ErrOrderItemsFailed
		}
	}

	for i, line := range lines {
		if err := s.products.DecrementStock(ctx, fresh[i].ID, line.Quantity); err != nil {
			if errors.Is(err, repository.ErrInsufficientStock) {
				// A concurrent checkout won the race between our pre-flight
				// read and this conditional decrement. The loser gets the
				// same out-of-stock report a pre-flight abort produces.
				available := 0
				if live, readErr := s.products.FindByID(ctx, fresh[i].ID); readErr == nil {
					available = live.Stock
				}
				s.logger.Warn("Stock ran out between pre-flight and decrement",
					zap.String("order_id", order.ID.String()),
					zap.String("product_id", fresh[i].ID.String()),
					zap.Int("available", available),
				)
				if i == 0 {
					// No decrement has landed yet, so the order can still be
					// withdrawn cleanly.
					if delErr := s.orders.Delete(ctx, order.ID); delErr != nil {
						s.logger.Error("Failed to roll back dangling order",
							zap.Error(delErr),
							zap.String("order_id", order.ID.String()),
						)
					}
				}
				return nil, &OutOfStockError{ProductName: fresh[i].Name, Available: available}
			}
			s.logger.Error("Stock decrement failed mid-checkout",
				zap.Error(err),
				zap.String("order_id", order.ID.String()),
				zap.String("product_id", fresh[i].ID.String()),
				zap.Int("line_index", i),
			)
			return nil, ErrStockUpdateFailed
		}
	}

	if err := s.carts.Clear(ctx, cart.ID); err != nil {
		// The order is fully committed; a stale cart is an annoyance, not a
		// correctness problem, so report success anyway.
		s.logger.Warn("Failed to clear cart after successful checkout",
			zap.Error(err),
			zap.String("order_id", order.ID.String()),
		)
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID)
	}

	s.logger.Info("Order placed",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("status", string(order.Status)),
		zap.String("total", total.String()),
		zap.Int("items", len(lines)),
	)

	return &OrderConfirmation{
		OrderID:   order.ID,
		Status:    order.Status,
		Total:     total,
		ItemCount: len(lines),
	}, nil
}

// ListOrders returns the user's orders, newest first
func (s *checkoutService) ListOrders(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// GetOrder returns one of the user's orders with its items
func (s *checkoutService) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*domain.Order, error) {
	return s.orders.FindByID(ctx, userID, orderID)
}

// begin marks a checkout as in flight for the user, refusing a second one
// while the first is outstanding.
func (s *checkoutService) begin(userID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[userID]; busy {
		return false
	}
	s.inFlight[userID] = struct{}{}
	return true
}

func (s *checkoutService) end(userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, userID)
}
