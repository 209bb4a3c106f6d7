package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"greenmarket/internal/domain"
	"greenmarket/internal/repository"

	"github.com/google/uuid"
)

// In-memory repositories for testing. The product mock performs its
// decrement under a lock so the guard and the subtraction are atomic, the
// same contract the SQL conditional update provides.

type mockProductRepository struct {
	mu             sync.Mutex
	products       map[uuid.UUID]*domain.Product
	findCalls      int
	decrementCalls int

	// failDecrementAt makes the n-th DecrementStock call (1-based) fail as
	// if the database were unreachable
	failDecrementAt int

	// reportStockAs makes the next FindByID for a product report the given
	// stock instead of the stored value, reproducing a read that raced a
	// concurrent decrement; it applies to one read only
	reportStockAs map[uuid.UUID]int
}

func newMockProductRepository() *mockProductRepository {
	return &mockProductRepository{
		products:      make(map[uuid.UUID]*domain.Product),
		reportStockAs: make(map[uuid.UUID]int),
	}
}

func (m *mockProductRepository) Create(ctx context.Context, product *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *product
	m.products[product.ID] = &cp
	return nil
}

func (m *mockProductRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++
	product, exists := m.products[id]
	if !exists {
		return nil, repository.ErrProductNotFound
	}
	cp := *product
	if stock, ok := m.reportStockAs[id]; ok {
		cp.Stock = stock
		delete(m.reportStockAs, id)
	}
	return &cp, nil
}

func (m *mockProductRepository) List(ctx context.Context, featuredOnly bool) ([]*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	products := []*domain.Product{}
	for _, p := range m.products {
		if featuredOnly && !p.Featured {
			continue
		}
		cp := *p
		products = append(products, &cp)
	}
	return products, nil
}

func (m *mockProductRepository) DecrementStock(ctx context.Context, id uuid.UUID, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decrementCalls++
	if m.failDecrementAt > 0 && m.decrementCalls == m.failDecrementAt {
		return errors.New("connection refused")
	}
	product, exists := m.products[id]
	if !exists || product.Stock < amount {
		return repository.ErrInsufficientStock
	}
	product.Stock -= amount
	return nil
}

func (m *mockProductRepository) stockOf(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

type mockCartRepository struct {
	mu       sync.Mutex
	carts    map[uuid.UUID]*domain.Cart     // keyed by user id
	items    map[uuid.UUID]*domain.CartItem // keyed by item id
	products *mockProductRepository

	createItemErr error
	clearErr      error
}

func newMockCartRepository(products *mockProductRepository) *mockCartRepository {
	return &mockCartRepository{
		carts:    make(map[uuid.UUID]*domain.Cart),
		items:    make(map[uuid.UUID]*domain.CartItem),
		products: products,
	}
}

func (m *mockCartRepository) GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cart, exists := m.carts[userID]; exists {
		return cart, nil
	}
	cart := &domain.Cart{ID: uuid.New(), UserID: userID, CreatedAt: time.Now()}
	m.carts[userID] = cart
	return cart, nil
}

func (m *mockCartRepository) ListLines(ctx context.Context, cartID uuid.UUID) ([]domain.CartLine, error) {
	m.mu.Lock()
	items := []*domain.CartItem{}
	for _, item := range m.items {
		if item.CartID == cartID {
			items = append(items, item)
		}
	}
	m.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })

	lines := []domain.CartLine{}
	for _, item := range items {
		product, err := m.products.FindByID(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, domain.CartLine{
			ItemID: item.ID,
			Product: domain.ProductSnapshot{
				ID:       product.ID,
				Name:     product.Name,
				Price:    product.Price,
				ImageURL: product.ImageURL,
				Stock:    product.Stock,
			},
			Quantity: item.Quantity,
		})
	}
	return lines, nil
}

func (m *mockCartRepository) FindItemByID(ctx context.Context, cartID, itemID uuid.UUID) (*domain.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, exists := m.items[itemID]
	if !exists || item.CartID != cartID {
		return nil, repository.ErrCartItemNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *mockCartRepository) FindItemByProduct(ctx context.Context, cartID, productID uuid.UUID) (*domain.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.CartID == cartID && item.ProductID == productID {
			cp := *item
			return &cp, nil
		}
	}
	return nil, repository.ErrCartItemNotFound
}

func (m *mockCartRepository) CreateItem(ctx context.Context, item *domain.CartItem) error {
	if m.createItemErr != nil {
		return m.createItemErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	m.items[item.ID] = &cp
	return nil
}

func (m *mockCartRepository) UpdateItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, exists := m.items[itemID]
	if !exists || item.CartID != cartID {
		return repository.ErrCartItemNotFound
	}
	item.Quantity = quantity
	item.UpdatedAt = time.Now()
	return nil
}

func (m *mockCartRepository) DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, exists := m.items[itemID]; exists && item.CartID == cartID {
		delete(m.items, itemID)
	}
	return nil
}

func (m *mockCartRepository) Clear(ctx context.Context, cartID uuid.UUID) error {
	if m.clearErr != nil {
		return m.clearErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, item := range m.items {
		if item.CartID == cartID {
			delete(m.items, id)
		}
	}
	return nil
}

func (m *mockCartRepository) itemCount(cartID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, item := range m.items {
		if item.CartID == cartID {
			count++
		}
	}
	return count
}

type mockOrderRepository struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*domain.Order
	items  map[uuid.UUID][]domain.OrderItem // keyed by order id

	createErr error

	// failItemAt forces the n-th CreateItem call (1-based) to fail
	failItemAt int
	itemCalls  int
}

func newMockOrderRepository() *mockOrderRepository {
	return &mockOrderRepository{
		orders: make(map[uuid.UUID]*domain.Order),
		items:  make(map[uuid.UUID][]domain.OrderItem),
	}
}

func (m *mockOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *order
	m.orders[order.ID] = &cp
	return nil
}

func (m *mockOrderRepository) CreateItem(ctx context.Context, item *domain.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.itemCalls++
	if m.failItemAt > 0 && m.itemCalls == m.failItemAt {
		return context.DeadlineExceeded
	}
	m.items[item.OrderID] = append(m.items[item.OrderID], *item)
	return nil
}

func (m *mockOrderRepository) Delete(ctx context.Context, orderID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, orderID)
	delete(m.items, orderID)
	return nil
}

func (m *mockOrderRepository) FindByID(ctx context.Context, userID, orderID uuid.UUID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, exists := m.orders[orderID]
	if !exists || order.UserID != userID {
		return nil, repository.ErrOrderNotFound
	}
	cp := *order
	cp.Items = append([]domain.OrderItem{}, m.items[orderID]...)
	return &cp, nil
}

func (m *mockOrderRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orders := []*domain.Order{}
	for _, order := range m.orders {
		if order.UserID == userID {
			cp := *order
			orders = append(orders, &cp)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

func (m *mockOrderRepository) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// recordingCartCache tracks cache traffic so tests can assert the
// invalidate-then-refetch discipline.
type recordingCartCache struct {
	mu          sync.Mutex
	entries     map[uuid.UUID][]domain.CartLine
	gets        int
	hits        int
	sets        int
	invalidates int
}

func newRecordingCartCache() *recordingCartCache {
	return &recordingCartCache{entries: make(map[uuid.UUID][]domain.CartLine)}
}

func (c *recordingCartCache) Get(ctx context.Context, userID uuid.UUID) ([]domain.CartLine, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	lines, ok := c.entries[userID]
	if ok {
		c.hits++
	}
	return lines, ok
}

func (c *recordingCartCache) Set(ctx context.Context, userID uuid.UUID, lines []domain.CartLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[userID] = lines
}

func (c *recordingCartCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidates++
	delete(c.entries, userID)
}
