package controllers

import (
	"net/http"

	"ecommerce-backend/middlewares"
	"ecommerce-backend/models"
	"ecommerce-backend/services"

	"github.com/gin-gonic/gin"
)

type RefundController struct {
	refunds *services.RefundService
}

func NewRefundController(refunds *services.RefundService) *RefundController {
	return &RefundController{refunds: refunds}
}

type refundLineBody struct {
	OrderID   string `json:"orderID" binding:"required"`
	ProductID string `json:"productID" binding:"required"`
}

type refundIDBody struct {
	RefundID string `json:"refundID" binding:"required"`
}

func (ctl *RefundController) RequestRefund(c *gin.Context) {
	defer recordOperation(c, "request_refund")

	var body refundLineBody
	if !bindJSON(c, &body) {
		return
	}

	refund, err := ctl.refunds.RequestRefund(c.Request.Context(), middlewares.CurrentUserID(c), body.OrderID, body.ProductID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, refund)
}

func (ctl *RefundController) ApproveRefund(c *gin.Context) {
	ctl.resolve(c, services.DecisionApprove, "approve_refund")
}

func (ctl *RefundController) RejectRefund(c *gin.Context) {
	ctl.resolve(c, services.DecisionReject, "reject_refund")
}

func (ctl *RefundController) resolve(c *gin.Context, decision services.Decision, operation string) {
	defer recordOperation(c, operation)

	var body refundIDBody
	if !bindJSON(c, &body) {
		return
	}

	refund, err := ctl.refunds.ResolveRefund(c.Request.Context(), body.RefundID, decision)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, refund)
}

func (ctl *RefundController) DeleteRefund(c *gin.Context) {
	defer recordOperation(c, "delete_refund")

	var body refundLineBody
	if !bindJSON(c, &body) {
		return
	}

	refund, err := ctl.refunds.DeleteRefund(c.Request.Context(), middlewares.CurrentUserID(c), body.OrderID, body.ProductID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, refund)
}

func (ctl *RefundController) GetUserRefunds(c *gin.Context) {
	refunds, err := ctl.refunds.ListUserRefunds(c.Request.Context(), middlewares.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, refunds)
}

func (ctl *RefundController) GetAllRefunds(c *gin.Context) {
	refunds, err := ctl.refunds.ListRefunds(c.Request.Context(), models.RefundStatus(c.Query("status")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, refunds)
}

func (ctl *RefundController) GetRefund(c *gin.Context) {
	refund, err := ctl.refunds.GetRefund(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, refund)
}
