package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ecommerce-backend/config"
	"ecommerce-backend/database"
	"ecommerce-backend/models"
	"ecommerce-backend/receipts"
	"ecommerce-backend/services"
	"ecommerce-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "controller-test-secret"

type nopPublisher struct {
	mu   sync.Mutex
	jobs []receipts.Job
}

func (p *nopPublisher) Publish(_ context.Context, job receipts.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

type testServer struct {
	t      *testing.T
	db     *gorm.DB
	router *gin.Engine
	store  *receipts.FileStore
	jobs   *nopPublisher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(&config.Config{DBDriver: "sqlite", DBPath: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	store, err := receipts.NewFileStore(t.TempDir(), "http://localhost/receipts")
	require.NoError(t, err)

	jobs := &nopPublisher{}
	ledger := services.NewInventoryLedger(db)
	router := gin.New()
	RegisterRoutes(router, Deps{
		DB:        db,
		JWTSecret: testSecret,
		Accounts:  services.NewAccountService(db, testSecret, time.Hour),
		Orders:    services.NewOrderService(db, jobs, "card-secret"),
		Refunds:   services.NewRefundService(db, jobs, services.RefundPolicy{}),
		Carts:     services.NewCartStore(db),
		Catalog:   services.NewCatalogService(db, ledger),
		Documents: store,
	})
	return &testServer{t: t, db: db, router: router, store: store, jobs: jobs}
}

// user inserts an account directly and returns a bearer token for it.
func (s *testServer) user(role models.Role) (string, string) {
	s.t.Helper()
	id := uuid.NewString()
	require.NoError(s.t, s.db.Create(&models.User{
		ID:           id,
		Name:         "user " + id[:8],
		Email:        id[:8] + "@example.com",
		PasswordHash: "x",
		Role:         role,
		Balance:      decimal.Zero,
	}).Error)
	require.NoError(s.t, s.db.Create(&models.Cart{ID: uuid.NewString(), UserID: id}).Error)

	token, err := utils.GenerateToken(testSecret, id, string(role), time.Hour)
	require.NoError(s.t, err)
	return id, token
}

func (s *testServer) product(price string, qty int) string {
	s.t.Helper()
	id := uuid.NewString()
	require.NoError(s.t, s.db.Create(&models.Product{
		ID:       id,
		Name:     "Desk Lamp",
		Price:    decimal.RequireFromString(price),
		Cost:     decimal.NewFromInt(1),
		Quantity: qty,
	}).Error)
	return id
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) stock(productID string) int {
	s.t.Helper()
	var p models.Product
	require.NoError(s.t, s.db.First(&p, "id = ?", productID).Error)
	return p.Quantity
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func orderBody(productID string, qty int, price string) gin.H {
	return gin.H{
		"products":   []gin.H{{"productID": productID, "quantity": qty, "buyPrice": price}},
		"creditCard": "4111 1111 1111 1234",
		"address":    "1 Main St",
	}
}

func TestOrderRoundTrip(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user(models.RoleCustomer)
	productID := s.product("100", 5)

	w := s.do(http.MethodPost, "/cart/add", token, gin.H{"productID": productID, "quantity": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/order", token, orderBody(productID, 3, "100"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decode[models.Order](t, w)
	assert.Equal(t, models.OrderProcessing, order.Status)
	assert.Equal(t, "1234", order.CardLast4)
	assert.True(t, decimal.NewFromInt(300).Equal(order.Total))
	assert.Equal(t, 2, s.stock(productID))
	assert.Len(t, s.jobs.jobs, 1)

	w = s.do(http.MethodGet, "/cart", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]models.CartItemDetail](t, w))

	w = s.do(http.MethodPatch, "/order/cancel", token, gin.H{"orderID": order.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.OrderCancelled, decode[models.Order](t, w).Status)
	assert.Equal(t, 5, s.stock(productID))
}

func TestOrderErrors(t *testing.T) {
	s := newTestServer(t)
	_, owner := s.user(models.RoleCustomer)
	_, other := s.user(models.RoleCustomer)
	productID := s.product("100", 1)

	w := s.do(http.MethodPost, "/order", owner, orderBody(productID, 2, "100"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, productID, body["productID"])
	assert.Equal(t, 1, s.stock(productID))

	w = s.do(http.MethodPost, "/order", owner, orderBody(productID, 1, "99"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/order", "", orderBody(productID, 1, "100"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/order", owner, orderBody(productID, 1, "100"))
	require.Equal(t, http.StatusCreated, w.Code)
	orderID := decode[models.Order](t, w).ID

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"cancel unknown order", http.MethodPatch, "/order/cancel", owner, gin.H{"orderID": "missing"}, http.StatusNotFound},
		{"cancel someone else's order", http.MethodPatch, "/order/cancel", other, gin.H{"orderID": orderID}, http.StatusForbidden},
		{"cancel without body", http.MethodPatch, "/order/cancel", owner, gin.H{}, http.StatusBadRequest},
		{"customer updates status", http.MethodPatch, "/order/update", owner, gin.H{"orderID": orderID, "newStatus": "delivered"}, http.StatusForbidden},
		{"view someone else's order", http.MethodGet, "/order/" + orderID, other, nil, http.StatusForbidden},
		{"owner views order", http.MethodGet, "/order/" + orderID, owner, nil, http.StatusOK},
		{"customer lists all", http.MethodGet, "/order/all", owner, nil, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(tc.method, tc.path, tc.token, tc.body)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}
}

func TestOrderStatusUpdates(t *testing.T) {
	s := newTestServer(t)
	_, customer := s.user(models.RoleCustomer)
	_, manager := s.user(models.RoleProductManager)
	productID := s.product("10", 3)

	w := s.do(http.MethodPost, "/order", customer, orderBody(productID, 1, "10"))
	require.Equal(t, http.StatusCreated, w.Code)
	orderID := decode[models.Order](t, w).ID

	w = s.do(http.MethodPatch, "/order/update", manager, gin.H{"orderID": orderID, "newStatus": "delivered"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "processing cannot jump to delivered")

	w = s.do(http.MethodPatch, "/order/update", manager, gin.H{"orderID": orderID, "newStatus": "shipped"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPatch, "/order/update", manager, gin.H{"orderID": orderID, "newStatus": "in-transit"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPatch, "/order/cancel", customer, gin.H{"orderID": orderID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/order/all?status=in-transit", manager, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Order](t, w), 1)

	w = s.do(http.MethodGet, "/order/my", customer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Order](t, w), 1)
}

func TestRefundRoundTrip(t *testing.T) {
	s := newTestServer(t)
	customerID, customer := s.user(models.RoleCustomer)
	_, productManager := s.user(models.RoleProductManager)
	_, salesManager := s.user(models.RoleSalesManager)
	productID := s.product("50", 10)

	w := s.do(http.MethodPost, "/order", customer, orderBody(productID, 2, "50"))
	require.Equal(t, http.StatusCreated, w.Code)
	orderID := decode[models.Order](t, w).ID

	w = s.do(http.MethodPost, "/refund", customer, gin.H{"orderID": orderID, "productID": productID})
	assert.Equal(t, http.StatusBadRequest, w.Code, "order is not delivered yet")

	for _, next := range []string{"in-transit", "delivered"} {
		w = s.do(http.MethodPatch, "/order/update", productManager, gin.H{"orderID": orderID, "newStatus": next})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w = s.do(http.MethodPost, "/refund", customer, gin.H{"orderID": orderID, "productID": productID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	refund := decode[models.Refund](t, w)
	assert.Equal(t, models.RefundPending, refund.Status)
	assert.True(t, decimal.NewFromInt(100).Equal(refund.Amount))

	w = s.do(http.MethodPost, "/refund", customer, gin.H{"orderID": orderID, "productID": productID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPatch, "/refund/approve", productManager, gin.H{"refundID": refund.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/refund/all?status=pending", salesManager, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Refund](t, w), 1)

	w = s.do(http.MethodPatch, "/refund/approve", salesManager, gin.H{"refundID": refund.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.RefundApproved, decode[models.Refund](t, w).Status)

	assert.Equal(t, 10, s.stock(productID))
	w = s.do(http.MethodGet, "/user/me", customer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[models.User](t, w)
	assert.Equal(t, customerID, me.ID)
	assert.True(t, decimal.NewFromInt(100).Equal(me.Balance), me.Balance.String())

	w = s.do(http.MethodPatch, "/refund/reject", salesManager, gin.H{"refundID": refund.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodDelete, "/refund", customer, gin.H{"orderID": orderID, "productID": productID})
	assert.Equal(t, http.StatusBadRequest, w.Code, "only pending refunds can be deleted")

	w = s.do(http.MethodGet, "/refund/my", customer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Refund](t, w), 1)
}

func TestCartEndpoints(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user(models.RoleCustomer)
	productID := s.product("20", 4)

	w := s.do(http.MethodPost, "/cart/add", token, gin.H{"productID": productID, "quantity": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/cart/add", token, gin.H{"productID": "missing", "quantity": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/cart/add", token, gin.H{"productID": productID, "quantity": 3})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPatch, "/cart/remove", token, gin.H{"productID": productID, "quantity": 1})
	require.Equal(t, http.StatusOK, w.Code)
	items := decode[[]models.CartItem](t, w)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)

	w = s.do(http.MethodGet, "/cart", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	details := decode[[]models.CartItemDetail](t, w)
	require.Len(t, details, 1)
	assert.Equal(t, "Desk Lamp", details[0].Name)

	w = s.do(http.MethodDelete, "/cart", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodGet, "/cart", token, nil)
	assert.Empty(t, decode[[]models.CartItemDetail](t, w))
}

func TestProductEndpoints(t *testing.T) {
	s := newTestServer(t)
	_, productManager := s.user(models.RoleProductManager)
	_, salesManager := s.user(models.RoleSalesManager)

	w := s.do(http.MethodPost, "/product", salesManager, gin.H{"name": "Chair"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/product", productManager, gin.H{"name": "Chair", "quantity": 2, "cost": "10"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	product := decode[models.Product](t, w)
	assert.False(t, product.IsListed())

	w = s.do(http.MethodPatch, "/product/"+product.ID+"/price", salesManager, gin.H{"price": "40", "discount": 25})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPatch, "/product/"+product.ID+"/price", salesManager, gin.H{"price": "40", "discount": 101})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPatch, "/product/"+product.ID+"/stock", productManager, gin.H{"quantity": 3})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, decode[models.Product](t, w).Quantity)

	w = s.do(http.MethodGet, "/product/"+product.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[models.Product](t, w)
	assert.True(t, decimal.NewFromInt(30).Equal(got.EffectivePrice()))

	w = s.do(http.MethodGet, "/product/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/auth/register", "", gin.H{"name": "Ada", "email": "Ada@Example.com", "password": "correct horse"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	user := decode[models.User](t, w)
	assert.Equal(t, models.RoleCustomer, user.Role)
	assert.NotContains(t, w.Body.String(), "password")

	w = s.do(http.MethodPost, "/auth/register", "", gin.H{"name": "Ada", "email": "ada@example.com", "password": "correct horse"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/auth/login", "", gin.H{"email": "ada@example.com", "password": "wrong password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/auth/login", "", gin.H{"email": "ada@example.com", "password": "correct horse"})
	require.Equal(t, http.StatusOK, w.Code)
	login := decode[struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}](t, w)
	require.NotEmpty(t, login.Token)

	w = s.do(http.MethodGet, "/user/me", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, user.ID, decode[models.User](t, w).ID)

	w = s.do(http.MethodPatch, "/user/"+user.ID+"/role", login.Token, gin.H{"role": "admin"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	_, admin := s.user(models.RoleAdmin)
	w = s.do(http.MethodPatch, "/user/"+user.ID+"/role", admin, gin.H{"role": "salesManager"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.RoleSalesManager, decode[models.User](t, w).Role)

	// The existing token now carries the new role through the account lookup.
	w = s.do(http.MethodGet, "/refund/all", login.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthAndReceipts(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	body, err := receipts.RenderRefund(receipts.RefundReceipt{RefundID: "r1", OrderID: "o1", Quantity: 1})
	require.NoError(t, err)
	doc, err := s.store.Put(context.Background(), body)
	require.NoError(t, err)

	w = s.do(http.MethodGet, fmt.Sprintf("/receipts/%s.pdf", doc.Key), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "%PDF-"))
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))

	w = s.do(http.MethodGet, "/receipts/does-not-exist.pdf", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: order o1", services.ErrNotFound), http.StatusNotFound},
		{services.ErrForbidden, http.StatusForbidden},
		{services.ErrInvalidCredentials, http.StatusUnauthorized},
		{&services.StockError{ProductID: "p1", Requested: 2, Available: 1}, http.StatusBadRequest},
		{services.ErrWindowExpired, http.StatusBadRequest},
		{services.ErrInvalidTransition, http.StatusBadRequest},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
