package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ecommerce-backend/models"
	"ecommerce-backend/receipts"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type refundFixture struct {
	db        *gorm.DB
	orders    *OrderService
	refunds   *RefundService
	publisher *fakePublisher
	user      *models.User
	product   *models.Product
	now       time.Time
}

func newRefundFixture(t *testing.T, policy RefundPolicy) *refundFixture {
	t.Helper()
	db := setupTestDB(t)
	publisher := &fakePublisher{}
	f := &refundFixture{
		db:        db,
		orders:    NewOrderService(db, nil, "card-secret"),
		refunds:   NewRefundService(db, publisher, policy),
		publisher: publisher,
		user:      seedUser(t, db, models.RoleCustomer),
		product:   seedProduct(t, db, "50", 10),
		now:       time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC),
	}
	f.refunds.now = func() time.Time { return f.now }
	return f
}

// deliveredOrder places an order for qty units and walks it to delivered.
func (f *refundFixture) deliveredOrder(t *testing.T, qty int) *models.Order {
	t.Helper()
	ctx := context.Background()
	order, err := f.orders.PlaceOrder(ctx, orderRequest(f.user.ID, line(f.product, qty)))
	require.NoError(t, err)
	_, err = f.orders.UpdateOrderStatus(ctx, order.ID, models.OrderInTransit)
	require.NoError(t, err)
	order, err = f.orders.UpdateOrderStatus(ctx, order.ID, models.OrderDelivered)
	require.NoError(t, err)
	f.setOrderDates(t, order.ID, f.now.Add(-24*time.Hour), f.now.Add(-time.Hour))
	return order
}

func (f *refundFixture) setOrderDates(t *testing.T, orderID string, ordered, delivered time.Time) {
	t.Helper()
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", orderID).
		UpdateColumns(map[string]any{"created_at": ordered, "delivered_at": delivered}).Error)
}

func TestRefund_ApproveRoundTrip(t *testing.T) {
	f := newRefundFixture(t, RefundPolicy{})
	ctx := context.Background()
	order := f.deliveredOrder(t, 2)
	require.Equal(t, 8, stockOf(t, f.db, f.product.ID))

	refund, err := f.refunds.RequestRefund(ctx, f.user.ID, order.ID, f.product.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundPending, refund.Status)
	assert.Equal(t, 2, refund.Quantity)
	assert.True(t, refund.Amount.Equal(decimal.NewFromInt(100)))

	approved, err := f.refunds.ApproveRefund(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundApproved, approved.Status)
	assert.NotNil(t, approved.ResolvedAt)

	assert.Equal(t, 10, stockOf(t, f.db, f.product.ID))
	assert.True(t, balanceOf(t, f.db, f.user.ID).Equal(decimal.NewFromInt(100)))
	assert.Equal(t, []receipts.Job{receipts.RefundJob(order.ID, refund.ID)}, f.publisher.published())
}

func TestRefund_RejectHasNoSideEffects(t *testing.T) {
	f := newRefundFixture(t, RefundPolicy{})
	ctx := context.Background()
	order := f.deliveredOrder(t, 3)

	refund, err := f.refunds.RequestRefund(ctx, f.user.ID, order.ID, f.product.ID)
	require.NoError(t, err)

	rejected, err := f.refunds.RejectRefund(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundRejected, rejected.Status)
	assert.Equal(t, 7, stockOf(t, f.db, f.product.ID))
	assert.True(t, balanceOf(t, f.db, f.user.ID).IsZero())
	assert.Empty(t, f.publisher.published())

	_, err = f.refunds.ApproveRefund(ctx, refund.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 7, stockOf(t, f.db, f.product.ID))
}

func TestRefund_ResolveErrors(t *testing.T) {
	f := newRefundFixture(t, RefundPolicy{})
	ctx := context.Background()
	order := f.deliveredOrder(t, 1)
	refund, err := f.refunds.RequestRefund(ctx, f.user.ID, order.ID, f.product.ID)
	require.NoError(t, err)

	_, err = f.refunds.ResolveRefund(ctx, "missing", DecisionApprove)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.refunds.ResolveRefund(ctx, refund.ID, Decision("maybe"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.refunds.ApproveRefund(ctx, refund.ID)
	require.NoError(t, err)
	_, err = f.refunds.ApproveRefund(ctx, refund.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.refunds.RejectRefund(ctx, refund.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.Equal(t, 10, stockOf(t, f.db, f.product.ID), "approval applies exactly once")
	assert.True(t, balanceOf(t, f.db, f.user.ID).Equal(decimal.NewFromInt(50)))
}

func TestRefund_ApproveRollsBackWhenCreditFails(t *testing.T) {
	errLedger := errors.New("ledger unavailable")
	tests := []struct {
		name    string
		setup   func(t *testing.T, f *refundFixture)
		wantErr error
	}{
		{"account removed", func(t *testing.T, f *refundFixture) {
			require.NoError(t, f.db.Delete(&models.User{}, "id = ?", f.user.ID).Error)
		}, ErrNotFound},
		{"balance update fails", func(t *testing.T, f *refundFixture) {
			require.NoError(t, f.db.Callback().Update().Before("gorm:update").Register("test:fail_credit", func(tx *gorm.DB) {
				if tx.Statement.Table == "users" {
					_ = tx.AddError(errLedger)
				}
			}))
		}, errLedger},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRefundFixture(t, RefundPolicy{})
			ctx := context.Background()
			order := f.deliveredOrder(t, 2)
			refund, err := f.refunds.RequestRefund(ctx, f.user.ID, order.ID, f.product.ID)
			require.NoError(t, err)
			tt.setup(t, f)

			_, err = f.refunds.ApproveRefund(ctx, refund.ID)
			require.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, 8, stockOf(t, f.db, f.product.ID), "stock release is rolled back")
			var stored models.Refund
			require.NoError(t, f.db.First(&stored, "id = ?", refund.ID).Error)
			assert.Equal(t, models.RefundPending, stored.Status)
			assert.Nil(t, stored.ResolvedAt)
			assert.Empty(t, f.publisher.published())
		})
	}
}

func TestRefund_ConcurrentApprovalsCreditOnce(t *testing.T) {
	f := newRefundFixture(t, RefundPolicy{})
	ctx := context.Background()
	order := f.deliveredOrder(t, 2)
	refund, err := f.refunds.RequestRefund(ctx, f.user.ID, order.ID, f.product.ID)
	require.NoError(t, err)

	const approvers = 4
	errs := make([]error, approvers)
	var wg sync.WaitGroup
	for i := 0; i < approvers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.refunds.ApproveRefund(ctx, refund.ID)
		}(i)
	}
	wg.Wait()

	var approved int
	for _, err := range errs {
		if err == nil {
			approved++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidState)
	}
	assert.Equal(t, 1, approved)
	assert.Equal(t, 10, stockOf(t, f.db, f.product.ID))
	assert.True(t, balanceOf(t, f.db, f.user.ID).Equal(decimal.NewFromInt(100)))
	assert.Equal(t, []receipts.Job{receipts.RefundJob(order.ID, refund.ID)}, f.publisher.published())
}

func TestRequestRefund_Preconditions(t *testing.T) {
	f := newRefundFixture(t, RefundPolicy{})
	ctx := context.Background()
	stranger := seedUser(t, f.db, models.RoleCustomer)
	other := seedProduct(t, f.db, "5", 5)
	delivered := f.deliveredOrder(t, 1)

	processing, err := f.orders.PlaceOrder(ctx, orderRequest(f.user.ID, line(f.product, 1)))
	require.NoError(t, err)

	tests := []struct {
		name      string
		userID    string
		orderID   string
		productID string
		wantErr   error
	}{
		{"missing ids", f.user.ID, "", f.product.ID, ErrInvalidInput},
		{"unknown order", f.user.ID, "missing", f.product.ID, ErrNotFound},
		{"someone else's order", stranger.ID, delivered.ID, f.product.ID, ErrForbidden},
		{"order not delivered", f.user.ID, processing.ID, f.product.ID, ErrInvalidState},
		{"product not in order", f.user.ID, delivered.ID, other.ID, ErrNotInOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.refunds.RequestRefund(ctx, tt.userID, tt.orderID, tt.productID)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Zero(t, countRows(t, f.db, &models.Refund{}))
}

func TestRequestRefund_WindowBoundary(t *testing.T) {
	tests := []struct {
		name    string
		age     time.Duration
		wantErr error
	}{
		{"one day", 24 * time.Hour, nil},
		{"exactly thirty days", 30 * 24 * time.Hour, nil},
		{"thirty days and one second", 30*24*time.Hour + time.Second, ErrWindowExpired},
		{"thirty one days", 31 * 24 * time.Hour, ErrWindowExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRefundFixture(t, RefundPolicy{})
			order := f.deliveredOrder(t, 1)
			f.setOrderDates(t, order.ID, f.now.Add(-tt.age), f.now.Add(-time.Hour))

			_, err := f.refunds.RequestRefund(context.Background(), f.user.ID, order.ID, f.product.ID)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRequestRefund_DeliveredReferenceDate(t *testing.T) {
	ordered := newRefundFixture(t, RefundPolicy{ReferenceDate: ReferenceOrdered})
	order := ordered.deliveredOrder(t, 1)
	ordered.setOrderDates(t, order.ID, ordered.now.Add(-40*24*time.Hour), ordered.now.Add(-10*24*time.Hour))
	_, err := ordered.refunds.RequestRefund(context.Background(), ordered.user.ID, order.ID, ordered.product.ID)
	assert.ErrorIs(t, err, ErrWindowExpired)

	delivered := newRefundFixture(t, RefundPolicy{ReferenceDate: ReferenceDelivered})
	order = delivered.deliveredOrder(t, 1)
	delivered.setOrderDates(t, order.ID, delivered.now.Add(-40*24*time.Hour), delivered.now.Add(-10*24*time.Hour))
	_, err = delivered.refunds.RequestRefund(context.Background(), delivered.user.ID, order.ID, delivered.product.ID)
	assert.NoError(t, err)
}

func TestRequestRefund_CustomWindow(t *testing.T) {
	f := newRefundFixture(t, RefundPolicy{Window: 7 * 24 * time.Hour})
	order := f.deliveredOrder(t, 1)
	f.setOrderDates(t, order.ID, f.now.Add(-8*24*time.Hour), f.now.Add(-time.Hour))

	_, err := f.refunds.RequestRefund(context.Background(), f.user.ID, order.ID, f.product.ID)
	assert.ErrorIs(t, err, ErrWindowExpired)
}

func TestRequestRefund_OnePerOrderLine(t *testing.T) {
	f := newRefundFixture(t, RefundPolicy{})
	ctx := context.Background()
	order := f.deliveredOrder(t, 1)

	refund, err := f.refunds.RequestRefund(ctx, f.user.ID, order.ID, f.product.ID)
	require.NoError(t, err)
	_, err = f.refunds.RequestRefund(ctx, f.user.ID, order.ID, f.product.ID)
	assert.ErrorIs(t, err, ErrAlreadyRequested)

	_, err = f.refunds.DeleteRefund(ctx, f.user.ID, order.ID, f.product.ID)
	require.NoError(t, err)
	again, err := f.refunds.RequestRefund(ctx, f.user.ID, order.ID, f.product.ID)
	require.NoError(t, err)
	assert.NotEqual(t, refund.ID, again.ID)

	_, err = f.refunds.RejectRefund(ctx, again.ID)
	require.NoError(t, err)
	_, err = f.refunds.RequestRefund(ctx, f.user.ID, order.ID, f.product.ID)
	assert.ErrorIs(t, err, ErrAlreadyRequested)
}

func TestDeleteRefund_Rules(t *testing.T) {
	f := newRefundFixture(t, RefundPolicy{})
	ctx := context.Background()
	stranger := seedUser(t, f.db, models.RoleCustomer)
	order := f.deliveredOrder(t, 1)

	_, err := f.refunds.DeleteRefund(ctx, f.user.ID, order.ID, f.product.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	refund, err := f.refunds.RequestRefund(ctx, f.user.ID, order.ID, f.product.ID)
	require.NoError(t, err)

	_, err = f.refunds.DeleteRefund(ctx, stranger.ID, order.ID, f.product.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.refunds.ApproveRefund(ctx, refund.ID)
	require.NoError(t, err)
	_, err = f.refunds.DeleteRefund(ctx, f.user.ID, order.ID, f.product.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.EqualValues(t, 1, countRows(t, f.db, &models.Refund{}))
}

func TestRefundListings(t *testing.T) {
	f := newRefundFixture(t, RefundPolicy{})
	ctx := context.Background()
	first := f.deliveredOrder(t, 1)
	second := f.deliveredOrder(t, 1)

	r1, err := f.refunds.RequestRefund(ctx, f.user.ID, first.ID, f.product.ID)
	require.NoError(t, err)
	_, err = f.refunds.RequestRefund(ctx, f.user.ID, second.ID, f.product.ID)
	require.NoError(t, err)
	_, err = f.refunds.ApproveRefund(ctx, r1.ID)
	require.NoError(t, err)

	mine, err := f.refunds.ListUserRefunds(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	pending, err := f.refunds.ListRefunds(ctx, models.RefundPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].OrderID)

	all, err := f.refunds.ListRefunds(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.refunds.ListRefunds(ctx, models.RefundStatus("lost"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	got, err := f.refunds.GetRefund(ctx, Caller{UserID: f.user.ID}, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundApproved, got.Status)
	_, err = f.refunds.GetRefund(ctx, Caller{UserID: "someone"}, r1.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestStockNeverNegativeAcrossLifecycle(t *testing.T) {
	f := newRefundFixture(t, RefundPolicy{})
	ctx := context.Background()

	order := f.deliveredOrder(t, 4)
	_, err := f.orders.PlaceOrder(ctx, orderRequest(f.user.ID, line(f.product, 7)))
	assert.ErrorIs(t, err, ErrInsufficientStock)

	cancelled, err := f.orders.PlaceOrder(ctx, orderRequest(f.user.ID, line(f.product, 6)))
	require.NoError(t, err)
	assert.Equal(t, 0, stockOf(t, f.db, f.product.ID))
	_, err = f.orders.PlaceOrder(ctx, orderRequest(f.user.ID, line(f.product, 1)))
	assert.ErrorIs(t, err, ErrInsufficientStock)

	_, err = f.orders.CancelOrder(ctx, f.user.ID, cancelled.ID)
	require.NoError(t, err)
	refund, err := f.refunds.RequestRefund(ctx, f.user.ID, order.ID, f.product.ID)
	require.NoError(t, err)
	_, err = f.refunds.ApproveRefund(ctx, refund.ID)
	require.NoError(t, err)

	assert.Equal(t, 10, stockOf(t, f.db, f.product.ID))
	var negative int64
	require.NoError(t, f.db.Model(&models.Product{}).Where("quantity < 0").Count(&negative).Error)
	assert.Zero(t, negative)
}
