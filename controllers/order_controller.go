package controllers

import (
	"net/http"

	"ecommerce-backend/middlewares"
	"ecommerce-backend/models"
	"ecommerce-backend/services"

	"github.com/gin-gonic/gin"
)

type OrderController struct {
	orders *services.OrderService
}

func NewOrderController(orders *services.OrderService) *OrderController {
	return &OrderController{orders: orders}
}

type placeOrderBody struct {
	Products   []services.LineItem `json:"products"`
	CreditCard string              `json:"creditCard"`
	Address    string              `json:"address"`
	Contact    string              `json:"contact"`
}

type orderIDBody struct {
	OrderID string `json:"orderID" binding:"required"`
}

type updateStatusBody struct {
	OrderID   string             `json:"orderID" binding:"required"`
	NewStatus models.OrderStatus `json:"newStatus" binding:"required"`
}

func (ctl *OrderController) CreateOrder(c *gin.Context) {
	defer recordOperation(c, "place_order")

	var body placeOrderBody
	if !bindJSON(c, &body) {
		return
	}

	order, err := ctl.orders.PlaceOrder(c.Request.Context(), services.PlaceOrderRequest{
		UserID:        middlewares.CurrentUserID(c),
		Items:         body.Products,
		CreditCard:    body.CreditCard,
		Address:       body.Address,
		ReceiverEmail: body.Contact,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (ctl *OrderController) CancelOrder(c *gin.Context) {
	defer recordOperation(c, "cancel_order")

	var body orderIDBody
	if !bindJSON(c, &body) {
		return
	}

	order, err := ctl.orders.CancelOrder(c.Request.Context(), middlewares.CurrentUserID(c), body.OrderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (ctl *OrderController) UpdateOrderStatus(c *gin.Context) {
	defer recordOperation(c, "update_order_status")

	var body updateStatusBody
	if !bindJSON(c, &body) {
		return
	}

	order, err := ctl.orders.UpdateOrderStatus(c.Request.Context(), body.OrderID, body.NewStatus)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (ctl *OrderController) GetUserOrders(c *gin.Context) {
	orders, err := ctl.orders.ListUserOrders(c.Request.Context(), middlewares.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (ctl *OrderController) GetAllOrders(c *gin.Context) {
	orders, err := ctl.orders.ListOrders(c.Request.Context(), models.OrderStatus(c.Query("status")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (ctl *OrderController) GetOrderDetails(c *gin.Context) {
	order, err := ctl.orders.GetOrder(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
