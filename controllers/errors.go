package controllers

import (
	"errors"
	"net/http"

	"ecommerce-backend/logging"
	"ecommerce-backend/middlewares"
	"ecommerce-backend/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var badRequest = []error{
	services.ErrInvalidInput,
	services.ErrInvalidState,
	services.ErrInvalidTransition,
	services.ErrInsufficientStock,
	services.ErrUnknownProduct,
	services.ErrInvalidLineItem,
	services.ErrNotInCart,
	services.ErrNotInOrder,
	services.ErrWindowExpired,
	services.ErrAlreadyRequested,
	services.ErrPriceMismatch,
	services.ErrProductUnlisted,
	services.ErrEmailTaken,
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized
	}
	for _, target := range badRequest {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

// respondError writes the error body for err. Unclassified errors are logged
// and reported without detail.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(c.Request.Context()).Error("request_failed",
			zap.String("route", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}

	body := gin.H{"error": err.Error()}
	var stockErr *services.StockError
	if errors.As(err, &stockErr) {
		body["productID"] = stockErr.ProductID
		body["available"] = stockErr.Available
	}
	c.JSON(status, body)
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// recordOperation is deferred by mutating handlers.
func recordOperation(c *gin.Context, operation string) {
	status := c.Writer.Status()
	middlewares.RecordOperation(operation, status >= 200 && status < 300)
}

func caller(c *gin.Context) services.Caller {
	return services.Caller{UserID: middlewares.CurrentUserID(c), Role: middlewares.CurrentRole(c)}
}
