package controllers

import (
	"net/http"

	"ecommerce-backend/middlewares"
	"ecommerce-backend/models"
	"ecommerce-backend/services"

	"github.com/gin-gonic/gin"
)

type AuthController struct {
	accounts *services.AccountService
}

func NewAuthController(accounts *services.AccountService) *AuthController {
	return &AuthController{accounts: accounts}
}

type loginBody struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type roleBody struct {
	Role models.Role `json:"role" binding:"required"`
}

func (ctl *AuthController) Register(c *gin.Context) {
	var body services.Registration
	if !bindJSON(c, &body) {
		return
	}

	user, err := ctl.accounts.Register(c.Request.Context(), body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (ctl *AuthController) Login(c *gin.Context) {
	var body loginBody
	if !bindJSON(c, &body) {
		return
	}

	token, user, err := ctl.accounts.Login(c.Request.Context(), body.Email, body.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

func (ctl *AuthController) Me(c *gin.Context) {
	user, err := ctl.accounts.GetUser(c.Request.Context(), middlewares.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (ctl *AuthController) SetRole(c *gin.Context) {
	var body roleBody
	if !bindJSON(c, &body) {
		return
	}

	user, err := ctl.accounts.SetRole(c.Request.Context(), c.Param("id"), body.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
