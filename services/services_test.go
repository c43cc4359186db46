package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ecommerce-backend/config"
	"ecommerce-backend/database"
	"ecommerce-backend/models"
	"ecommerce-backend/receipts"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testCard = "4111 1111 1111 1234"

// setupTestDB opens a migrated in-memory SQLite database on a single connection.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(&config.Config{DBDriver: "sqlite", DBPath: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedUser(t *testing.T, db *gorm.DB, role models.Role) *models.User {
	t.Helper()
	id := uuid.NewString()
	user := &models.User{
		ID:           id,
		Name:         "user " + id[:8],
		Email:        id[:8] + "@example.com",
		PasswordHash: "x",
		Role:         role,
		Balance:      decimal.Zero,
	}
	require.NoError(t, db.Create(user).Error)
	require.NoError(t, db.Create(&models.Cart{ID: uuid.NewString(), UserID: user.ID}).Error)
	return user
}

func seedProduct(t *testing.T, db *gorm.DB, price string, quantity int) *models.Product {
	t.Helper()
	product := &models.Product{
		ID:       uuid.NewString(),
		Name:     "product",
		Price:    decimal.RequireFromString(price),
		Cost:     decimal.NewFromInt(1),
		Quantity: quantity,
	}
	require.NoError(t, db.Create(product).Error)
	return product
}

func stockOf(t *testing.T, db *gorm.DB, productID string) int {
	t.Helper()
	var product models.Product
	require.NoError(t, db.First(&product, "id = ?", productID).Error)
	return product.Quantity
}

func balanceOf(t *testing.T, db *gorm.DB, userID string) decimal.Decimal {
	t.Helper()
	var user models.User
	require.NoError(t, db.First(&user, "id = ?", userID).Error)
	return user.Balance
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

type fakePublisher struct {
	mu   sync.Mutex
	jobs []receipts.Job
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, job receipts.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *fakePublisher) published() []receipts.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]receipts.Job(nil), p.jobs...)
}

var errBrokerDown = errors.New("broker down")

func line(product *models.Product, qty int) LineItem {
	return LineItem{ProductID: product.ID, Quantity: qty, BuyPrice: product.EffectivePrice()}
}

func orderRequest(userID string, items ...LineItem) PlaceOrderRequest {
	return PlaceOrderRequest{
		UserID:        userID,
		Items:         items,
		CreditCard:    testCard,
		Address:       "1 Main St",
		ReceiverEmail: "buyer@example.com",
	}
}
