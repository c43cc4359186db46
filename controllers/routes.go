package controllers

import (
	"ecommerce-backend/middlewares"
	"ecommerce-backend/models"
	"ecommerce-backend/receipts"
	"ecommerce-backend/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Deps struct {
	DB        *gorm.DB
	JWTSecret string
	Accounts  *services.AccountService
	Orders    *services.OrderService
	Refunds   *services.RefundService
	Carts     *services.CartStore
	Catalog   *services.CatalogService
	Documents receipts.DocumentStore
}

var (
	orderManagers   = []models.Role{models.RoleProductManager, models.RoleAdmin}
	refundManagers  = []models.Role{models.RoleSalesManager, models.RoleAdmin}
	anyManager      = []models.Role{models.RoleProductManager, models.RoleSalesManager, models.RoleAdmin}
	productManagers = orderManagers
	pricingManagers = refundManagers
)

func RegisterRoutes(r *gin.Engine, d Deps) {
	authCtl := NewAuthController(d.Accounts)
	orderCtl := NewOrderController(d.Orders)
	refundCtl := NewRefundController(d.Refunds)
	cartCtl := NewCartController(d.Carts)
	productCtl := NewProductController(d.Catalog)

	r.GET("/health", Health(d.DB))
	r.GET("/receipts/:key", ServeReceipt(d.Documents))
	r.POST("/auth/register", authCtl.Register)
	r.POST("/auth/login", authCtl.Login)
	r.GET("/product/:id", productCtl.GetProduct)

	authed := r.Group("/")
	authed.Use(middlewares.AuthMiddleware(d.Accounts, d.JWTSecret))
	{
		authed.GET("/user/me", authCtl.Me)
		authed.PATCH("/user/:id/role", middlewares.RequireRoles(models.RoleAdmin), authCtl.SetRole)

		authed.GET("/cart", cartCtl.GetCart)
		authed.POST("/cart/add", cartCtl.AddToCart)
		authed.PATCH("/cart/remove", cartCtl.RemoveFromCart)
		authed.DELETE("/cart", cartCtl.ClearCart)

		authed.POST("/order", orderCtl.CreateOrder)
		authed.PATCH("/order/cancel", orderCtl.CancelOrder)
		authed.PATCH("/order/update", middlewares.RequireRoles(orderManagers...), orderCtl.UpdateOrderStatus)
		authed.GET("/order/my", orderCtl.GetUserOrders)
		authed.GET("/order/all", middlewares.RequireRoles(anyManager...), orderCtl.GetAllOrders)
		authed.GET("/order/:id", orderCtl.GetOrderDetails)

		authed.POST("/refund", refundCtl.RequestRefund)
		authed.PATCH("/refund/approve", middlewares.RequireRoles(refundManagers...), refundCtl.ApproveRefund)
		authed.PATCH("/refund/reject", middlewares.RequireRoles(refundManagers...), refundCtl.RejectRefund)
		authed.DELETE("/refund", refundCtl.DeleteRefund)
		authed.GET("/refund/my", refundCtl.GetUserRefunds)
		authed.GET("/refund/all", middlewares.RequireRoles(refundManagers...), refundCtl.GetAllRefunds)
		authed.GET("/refund/:id", refundCtl.GetRefund)

		authed.POST("/product", middlewares.RequireRoles(productManagers...), productCtl.CreateProduct)
		authed.PATCH("/product/:id/price", middlewares.RequireRoles(pricingManagers...), productCtl.SetPrice)
		authed.PATCH("/product/:id/stock", middlewares.RequireRoles(productManagers...), productCtl.Restock)
	}
}
