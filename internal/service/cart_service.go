package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"greenmarket/internal/domain"
	"greenmarket/internal/repository"

	"github.com/google/uuid"
)

// CartCache is the snapshot cache the cart service reads through. Entries
// are only ever populated from authoritative refetches; implementations must
// treat failures as misses rather than errors.
type CartCache interface {
	Get(ctx context.Context, userID uuid.UUID) ([]domain.CartLine, bool)
	Set(ctx context.Context, userID uuid.UUID, lines []domain.CartLine)
	Invalidate(ctx context.Context, userID uuid.UUID)
}

// CartService keeps the remote cart and the cached view consistent. Every
// mutation validates against the product's currently known stock, then
// invalidates the cache and refetches so the returned view reflects
// authoritative state rather than optimistic local math. Each operation
// either fully succeeds or leaves the cart exactly as before.
type CartService interface {
	GetCart(ctx context.Context, userID uuid.UUID) (domain.CartView, error)
	AddToCart(ctx context.Context, userID, productID uuid.UUID, quantity int) (domain.CartView, error)
	UpdateQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) (domain.CartView, error)
	RemoveFromCart(ctx context.Context, userID, itemID uuid.UUID) (domain.CartView, error)
	ClearCart(ctx context.Context, userID uuid.UUID) (domain.CartView, error)
}

type cartService struct {
	carts    repository.CartRepository
	products repository.ProductRepository
	cache    CartCache
}

// NewCartService creates a new instance of CartService. The cache may be nil,
// in which case every read goes to the repository.
func NewCartService(
	carts repository.CartRepository,
	products repository.ProductRepository,
	cache CartCache,
) CartService {
	return &cartService{
		carts:    carts,
		products: products,
		cache:    cache,
	}
}

// GetCart returns the user's cart view, reading through the cache
func (s *cartService) GetCart(ctx context.Context, userID uuid.UUID) (domain.CartView, error) {
	if s.cache != nil {
		if lines, ok := s.cache.Get(ctx, userID); ok {
			return domain.CartView{Lines: lines}, nil
		}
	}

	cart, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return domain.CartView{}, fmt.Errorf("failed to get cart: %w", err)
	}

	return s.refetch(ctx, userID, cart.ID)
}

// AddToCart puts quantity units of a product into the cart. If the product is
// already present its quantity is incremented instead of adding a second row.
// Both paths validate against live stock before writing; on violation the
// cart is left unchanged.
func (s *cartService) AddToCart(ctx context.Context, userID, productID uuid.UUID, quantity int) (domain.CartView, error) {
	if quantity < 1 {
		quantity = 1
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return domain.CartView{}, err
	}

	cart, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return domain.CartView{}, fmt.Errorf("failed to get cart: %w", err)
	}

	existing, err := s.carts.FindItemByProduct(ctx, cart.ID, productID)
	switch {
	case err == nil:
		newQuantity := existing.Quantity + quantity
		if newQuantity > product.Stock {
			return domain.CartView{}, &InsufficientStockError{
				ProductName: product.Name,
				Available:   product.Stock,
			}
		}
		if err := s.carts.UpdateItemQuantity(ctx, cart.ID, existing.ID, newQuantity); err != nil {
			return domain.CartView{}, fmt.Errorf("failed to increment cart item: %w", err)
		}

	case errors.Is(err, repository.ErrCartItemNotFound):
		if quantity > product.Stock {
			return domain.CartView{}, &InsufficientStockError{
				ProductName: product.Name,
				Available:   product.Stock,
			}
		}
		now := time.Now()
		item := &domain.CartItem{
			ID:        uuid.New(),
			CartID:    cart.ID,
			ProductID: productID,
			Quantity:  quantity,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.carts.CreateItem(ctx, item); err != nil {
			return domain.CartView{}, fmt.Errorf("failed to add cart item: %w", err)
		}

	default:
		return domain.CartView{}, fmt.Errorf("failed to look up cart item: %w", err)
	}

	return s.refetch(ctx, userID, cart.ID)
}

// UpdateQuantity sets a line item's quantity after re-validating against the
// product's live stock. Quantities below one are silently ignored so UI
// decrement-below-one attempts are tolerated without surfacing an error.
func (s *cartService) UpdateQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) (domain.CartView, error) {
	if quantity < 1 {
		return s.GetCart(ctx, userID)
	}

	cart, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return domain.CartView{}, fmt.Errorf("failed to get cart: %w", err)
	}

	item, err := s.carts.FindItemByID(ctx, cart.ID, itemID)
	if err != nil {
		return domain.CartView{}, err
	}

	product, err := s.products.FindByID(ctx, item.ProductID)
	if err != nil {
		return domain.CartView{}, err
	}

	if quantity > product.Stock {
		return domain.CartView{}, &InsufficientStockError{
			ProductName: product.Name,
			Available:   product.Stock,
		}
	}

	if err := s.carts.UpdateItemQuantity(ctx, cart.ID, item.ID, quantity); err != nil {
		return domain.CartView{}, fmt.Errorf("failed to update cart item: %w", err)
	}

	return s.refetch(ctx, userID, cart.ID)
}

// RemoveFromCart deletes a line item. Removing an already-absent item is not
// an error.
func (s *cartService) RemoveFromCart(ctx context.Context, userID, itemID uuid.UUID) (domain.CartView, error) {
	cart, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return domain.CartView{}, fmt.Errorf("failed to get cart: %w", err)
	}

	if err := s.carts.DeleteItem(ctx, cart.ID, itemID); err != nil {
		return domain.CartView{}, fmt.Errorf("failed to remove cart item: %w", err)
	}

	return s.refetch(ctx, userID, cart.ID)
}

// ClearCart deletes all line items of the user's cart. Idempotent.
func (s *cartService) ClearCart(ctx context.Context, userID uuid.UUID) (domain.CartView, error) {
	cart, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return domain.CartView{}, fmt.Errorf("failed to get cart: %w", err)
	}

	if err := s.carts.Clear(ctx, cart.ID); err != nil {
		return domain.CartView{}, fmt.Errorf("failed to clear cart: %w", err)
	}

	return s.refetch(ctx, userID, cart.ID)
}

// refetch drops the cached snapshot and rebuilds it from the authoritative
// line set. All mutations funnel through here so the view can never drift
// from server truth.
func (s *cartService) refetch(ctx context.Context, userID, cartID uuid.UUID) (domain.CartView, error) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID)
	}

	lines, err := s.carts.ListLines(ctx, cartID)
	if err != nil {
		return domain.CartView{}, fmt.Errorf("failed to refetch cart: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ctx, userID, lines)
	}

	return domain.CartView{Lines: lines}, nil
}
