package controllers

import (
	"net/http"

	"ecommerce-backend/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type ProductController struct {
	catalog *services.CatalogService
}

func NewProductController(catalog *services.CatalogService) *ProductController {
	return &ProductController{catalog: catalog}
}

type priceBody struct {
	Price    decimal.Decimal `json:"price"`
	Discount int             `json:"discount"`
}

type stockBody struct {
	Quantity int `json:"quantity"`
}

func (ctl *ProductController) CreateProduct(c *gin.Context) {
	defer recordOperation(c, "create_product")

	var body services.NewProduct
	if !bindJSON(c, &body) {
		return
	}

	product, err := ctl.catalog.CreateProduct(c.Request.Context(), body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (ctl *ProductController) GetProduct(c *gin.Context) {
	product, err := ctl.catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (ctl *ProductController) SetPrice(c *gin.Context) {
	defer recordOperation(c, "set_price")

	var body priceBody
	if !bindJSON(c, &body) {
		return
	}

	product, err := ctl.catalog.SetPrice(c.Request.Context(), c.Param("id"), body.Price, body.Discount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (ctl *ProductController) Restock(c *gin.Context) {
	defer recordOperation(c, "restock")

	var body stockBody
	if !bindJSON(c, &body) {
		return
	}

	product, err := ctl.catalog.Restock(c.Request.Context(), c.Param("id"), body.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}
