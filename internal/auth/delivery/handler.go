package delivery

import (
	"errors"
	"net/http"

	authdomain "inboxjanitor/internal/auth/domain"
	authdto "inboxjanitor/internal/auth/dto"
	"inboxjanitor/internal/auth/usecase"
	emaildomain "inboxjanitor/internal/email/domain"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authUsecase    usecase.AuthUsecase
	accountUsecase usecase.AccountUsecase
}

func NewAuthHandler(authUsecase usecase.AuthUsecase, accountUsecase usecase.AccountUsecase) *AuthHandler {
	return &AuthHandler{
		authUsecase:    authUsecase,
		accountUsecase: accountUsecase,
	}
}

func requireUser(c *gin.Context) (*authdomain.User, bool) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found in context"})
	}
	return user, ok
}

func accountError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, emaildomain.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, usecase.ErrMissingCredentials):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	accounts, err := h.accountUsecase.ListAccounts(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if accounts == nil {
		accounts = []*authdomain.MailboxAccount{}
	}

	c.JSON(http.StatusOK, authdto.MeResponse{User: user, Accounts: accounts})
}

// DeleteMe removes the user together with every account, message and statistic they own
func (h *AuthHandler) DeleteMe(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	if err := h.authUsecase.DeleteUser(user.ID); err != nil {
		if errors.Is(err, usecase.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "account deleted"})
}

func (h *AuthHandler) RegisterFCMToken(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	var req authdto.RegisterFCMTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.authUsecase.RegisterFCMToken(user.ID, &req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "FCM token registered successfully"})
}

func (h *AuthHandler) UnregisterFCMToken(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	token := c.Param("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	if err := h.authUsecase.UnregisterFCMToken(user.ID, token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "FCM token unregistered successfully"})
}

func (h *AuthHandler) ListAccounts(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	accounts, err := h.accountUsecase.ListAccounts(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if accounts == nil {
		accounts = []*authdomain.MailboxAccount{}
	}

	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (h *AuthHandler) ConnectAccount(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	var req authdto.ConnectAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.accountUsecase.ConnectAccount(c.Request.Context(), user.ID, &req)
	if err != nil {
		accountError(c, err)
		return
	}

	c.JSON(http.StatusCreated, account)
}

func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	if err := h.accountUsecase.DeleteAccount(user.ID, c.Param("accountId")); err != nil {
		accountError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "mailbox account disconnected"})
}

func (h *AuthHandler) GetAutoInclude(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	senders, err := h.accountUsecase.GetAutoInclude(user.ID, c.Param("accountId"))
	if err != nil {
		accountError(c, err)
		return
	}
	if senders == nil {
		senders = []string{}
	}

	c.JSON(http.StatusOK, authdto.AutoIncludeResponse{Senders: senders})
}

func (h *AuthHandler) SetAutoInclude(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	var req authdto.AutoIncludeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	senders, err := h.accountUsecase.SetAutoInclude(user.ID, c.Param("accountId"), req.Senders)
	if err != nil {
		accountError(c, err)
		return
	}
	if senders == nil {
		senders = []string{}
	}

	c.JSON(http.StatusOK, authdto.AutoIncludeResponse{Senders: senders})
}
