package controllers

import (
	"net/http"

	"ecommerce-backend/middlewares"
	"ecommerce-backend/services"

	"github.com/gin-gonic/gin"
)

type CartController struct {
	carts *services.CartStore
}

func NewCartController(carts *services.CartStore) *CartController {
	return &CartController{carts: carts}
}

type cartLineBody struct {
	ProductID string `json:"productID" binding:"required"`
	Quantity  int    `json:"quantity"`
}

func (ctl *CartController) GetCart(c *gin.Context) {
	items, err := ctl.carts.Details(c.Request.Context(), middlewares.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (ctl *CartController) AddToCart(c *gin.Context) {
	defer recordOperation(c, "cart_add")

	var body cartLineBody
	if !bindJSON(c, &body) {
		return
	}

	items, err := ctl.carts.Add(c.Request.Context(), middlewares.CurrentUserID(c), body.ProductID, body.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (ctl *CartController) RemoveFromCart(c *gin.Context) {
	defer recordOperation(c, "cart_remove")

	var body cartLineBody
	if !bindJSON(c, &body) {
		return
	}

	items, err := ctl.carts.Remove(c.Request.Context(), middlewares.CurrentUserID(c), body.ProductID, body.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (ctl *CartController) ClearCart(c *gin.Context) {
	if err := ctl.carts.Clear(c.Request.Context(), middlewares.CurrentUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart cleared"})
}
