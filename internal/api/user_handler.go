package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/gokb/internal/domain"
	"github.com/jonesrussell/gokb/internal/logger"
)

// UserStore is the account repository surface the handler needs.
type UserStore interface {
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

// UserHandler provisions accounts and their tenant partitions.
type UserHandler struct {
	users  UserStore
	logger logger.Logger
}

// NewUserHandler creates a user handler.
func NewUserHandler(users UserStore, log logger.Logger) *UserHandler {
	return &UserHandler{users: users, logger: log}
}

type createUserRequest struct {
	TenantID string `binding:"required" json:"tenant_id"`
	Username string `binding:"required" json:"username"`
	Email    string `json:"email"`
}

// Create handles POST /api/v1/users. Provisioning registers the tenant with
// the dispatcher's tenant enumeration.
func (h *UserHandler) Create(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.Create(c.Request.Context(), &domain.User{
		TenantID: req.TenantID,
		Username: req.Username,
		Email:    &req.Email,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
			return
		}
		h.logger.Error("failed to create user", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	h.logger.Info("user provisioned",
		logger.String("tenant_id", user.TenantID),
		logger.String("username", user.Username))
	c.JSON(http.StatusCreated, user)
}

// Get handles GET /api/v1/users/:username.
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.users.GetByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error("failed to get user", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}
	c.JSON(http.StatusOK, user)
}
