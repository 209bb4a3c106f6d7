package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"greenmarket/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var testDB *sql.DB

func setupTestDB() (func(context.Context, ...testcontainers.TerminateOption) error, error) {
	var (
		dbName = "testdb"
		dbPwd  = "password"
		dbUser = "user"
	)

	dbContainer, err := postgres.Run(
		context.Background(),
		"postgres:15",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPwd),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
	)
	if err != nil {
		return nil, err
	}

	dbHost, err := dbContainer.Host(context.Background())
	if err != nil {
		return dbContainer.Terminate, err
	}

	dbPort, err := dbContainer.MappedPort(context.Background(), "5432/tcp")
	if err != nil {
		return dbContainer.Terminate, err
	}

	connStr := "postgres://" + dbUser + ":" + dbPwd + "@" + dbHost + ":" + dbPort.Port() + "/" + dbName + "?sslmode=disable"
	testDB, err = sql.Open("pgx", connStr)
	if err != nil {
		return dbContainer.Terminate, err
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			first_name VARCHAR(100) NOT NULL,
			last_name VARCHAR(100) NOT NULL,
			role VARCHAR(50) NOT NULL DEFAULT 'customer',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price DECIMAL(10, 2) NOT NULL CHECK (price >= 0),
			category VARCHAR(100) NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
			featured BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS carts (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cart_items (
			id UUID PRIMARY KEY,
			cart_id UUID NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
			product_id UUID NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			quantity INTEGER NOT NULL CHECK (quantity >= 1),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (cart_id, product_id)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			status VARCHAR(50) NOT NULL DEFAULT 'pending',
			total_amount DECIMAL(10, 2) NOT NULL,
			shipping_address JSONB NOT NULL,
			payment_method VARCHAR(50) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id UUID PRIMARY KEY,
			order_id UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			product_id UUID NOT NULL REFERENCES products(id),
			quantity INTEGER NOT NULL CHECK (quantity >= 1),
			unit_price DECIMAL(10, 2) NOT NULL
		)`,
	}

	for _, stmt := range schema {
		if _, err := testDB.Exec(stmt); err != nil {
			return dbContainer.Terminate, err
		}
	}

	return dbContainer.Terminate, nil
}

func TestMain(m *testing.M) {
	teardown, err := setupTestDB()
	if err != nil {
		log.Fatalf("could not start postgres container: %v", err)
	}

	m.Run()

	if teardown != nil {
		if err := teardown(context.Background()); err != nil {
			log.Fatalf("could not teardown postgres container: %v", err)
		}
	}
}

func insertTestUser(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := testDB.Exec(
		`INSERT INTO users (id, email, password_hash, first_name, last_name, role, created_at, updated_at)
		 VALUES ($1, $2, 'x', 'Test', 'User', 'customer', NOW(), NOW())`,
		id, id.String()+"@example.com",
	)
	if err != nil {
		t.Fatalf("failed to insert test user: %v", err)
	}
	return id
}

func insertTestProduct(t *testing.T, name string, price int64, stock int) *domain.Product {
	t.Helper()
	now := time.Now()
	product := &domain.Product{
		ID:        uuid.New(),
		Name:      name,
		Price:     decimal.NewFromInt(price),
		Stock:     stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := NewProductRepository(testDB).Create(context.Background(), product); err != nil {
		t.Fatalf("failed to insert test product: %v", err)
	}
	return product
}

func TestGetOrCreateIsLazyAndIdempotent(t *testing.T) {
	repo := NewCartRepository(testDB)
	ctx := context.Background()
	userID := insertTestUser(t)

	first, err := repo.GetOrCreate(ctx, userID)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if first.UserID != userID {
		t.Errorf("expected cart owned by %s, got %s", userID, first.UserID)
	}

	second, err := repo.GetOrCreate(ctx, userID)
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected the same cart on repeat access, got %s and %s", first.ID, second.ID)
	}
}

func TestGetOrCreateConcurrentAccessYieldsOneCart(t *testing.T) {
	repo := NewCartRepository(testDB)
	ctx := context.Background()
	userID := insertTestUser(t)

	const workers = 8
	carts := make([]uuid.UUID, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cart, err := repo.GetOrCreate(ctx, userID)
			if err != nil {
				t.Errorf("GetOrCreate failed: %v", err)
				return
			}
			carts[i] = cart.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if carts[i] != carts[0] {
			t.Fatalf("concurrent access produced different carts: %s and %s", carts[0], carts[i])
		}
	}
}

func TestListLinesJoinsProductSnapshot(t *testing.T) {
	repo := NewCartRepository(testDB)
	ctx := context.Background()
	userID := insertTestUser(t)
	product := insertTestProduct(t, "Bamboo Bottle", 1000, 3)

	cart, err := repo.GetOrCreate(ctx, userID)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	now := time.Now()
	item := &domain.CartItem{
		ID:        uuid.New(),
		CartID:    cart.ID,
		ProductID: product.ID,
		Quantity:  2,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}

	lines, err := repo.ListLines(ctx, cart.ID)
	if err != nil {
		t.Fatalf("ListLines failed: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}

	line := lines[0]
	if line.ItemID != item.ID {
		t.Errorf("expected item ID %s, got %s", item.ID, line.ItemID)
	}
	if line.Quantity != 2 {
		t.Errorf("expected quantity 2, got %d", line.Quantity)
	}
	if line.Product.Name != "Bamboo Bottle" {
		t.Errorf("expected joined product name, got %q", line.Product.Name)
	}
	if !line.Product.Price.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected joined price 1000, got %s", line.Product.Price)
	}
	if line.Product.Stock != 3 {
		t.Errorf("expected joined stock 3, got %d", line.Product.Stock)
	}
}

func TestItemLookupsAreScopedToTheCart(t *testing.T) {
	repo := NewCartRepository(testDB)
	ctx := context.Background()
	product := insertTestProduct(t, "Jute Bag", 250, 10)

	owner := insertTestUser(t)
	other := insertTestUser(t)
	ownerCart, err := repo.GetOrCreate(ctx, owner)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	otherCart, err := repo.GetOrCreate(ctx, other)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	now := time.Now()
	item := &domain.CartItem{
		ID:        uuid.New(),
		CartID:    ownerCart.ID,
		ProductID: product.ID,
		Quantity:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}

	if _, err := repo.FindItemByID(ctx, ownerCart.ID, item.ID); err != nil {
		t.Errorf("owner lookup failed: %v", err)
	}
	if _, err := repo.FindItemByID(ctx, otherCart.ID, item.ID); !errors.Is(err, ErrCartItemNotFound) {
		t.Errorf("cross-cart lookup must miss, got %v", err)
	}
	if err := repo.UpdateItemQuantity(ctx, otherCart.ID, item.ID, 5); !errors.Is(err, ErrCartItemNotFound) {
		t.Errorf("cross-cart update must miss, got %v", err)
	}
}

func TestDeleteItemAndClearAreIdempotent(t *testing.T) {
	repo := NewCartRepository(testDB)
	ctx := context.Background()
	userID := insertTestUser(t)
	product := insertTestProduct(t, "Clay Pot", 400, 5)

	cart, err := repo.GetOrCreate(ctx, userID)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	now := time.Now()
	item := &domain.CartItem{
		ID:        uuid.New(),
		CartID:    cart.ID,
		ProductID: product.ID,
		Quantity:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := repo.DeleteItem(ctx, cart.ID, item.ID); err != nil {
			t.Fatalf("DeleteItem run %d failed: %v", i+1, err)
		}
	}

	for i := 0; i < 2; i++ {
		if err := repo.Clear(ctx, cart.ID); err != nil {
			t.Fatalf("Clear run %d failed: %v", i+1, err)
		}
	}

	lines, err := repo.ListLines(ctx, cart.ID)
	if err != nil {
		t.Fatalf("ListLines failed: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("expected empty cart, got %d lines", len(lines))
	}
}
