package controllers

import (
	"errors"
	"net/http"

	"ecommerce-backend/receipts"

	"github.com/gin-gonic/gin"
)

// ServeReceipt serves a stored receipt document by key.
func ServeReceipt(store receipts.DocumentStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		path, err := store.Open(c.Request.Context(), c.Param("key"))
		if errors.Is(err, receipts.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Receipt not found"})
			return
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("Content-Type", "application/pdf")
		c.File(path)
	}
}
