package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hireledger/hireledger/internal/ledger"
	"github.com/hireledger/hireledger/internal/model"
	"github.com/hireledger/hireledger/internal/provision"
	"github.com/hireledger/hireledger/internal/repository"
)

// provisioner is the interface expected by AccountHandler, satisfied by
// *provision.Provisioner.
type provisioner interface {
	CreateAccountForUser(ctx context.Context, userID string) (*model.ChainAccount, error)
	CreateAccountForOrganization(ctx context.Context, orgID, slug string) (*model.ChainAccount, error)
}

// accountReader is satisfied by *repository.AccountRepository.
type accountReader interface {
	GetByOwner(ctx context.Context, ownerType model.OwnerType, ownerID string) (*model.ChainAccount, error)
	Exists(ctx context.Context, ownerType model.OwnerType, ownerID string) (bool, error)
}

// backgrounder schedules work off the request path, satisfied by
// *entrysync.Dispatcher.
type backgrounder interface {
	Go(name string, task func(ctx context.Context) error)
}

// AccountHandler exposes chain account provisioning and lookup endpoints.
// Provisioning runs in the background: the endpoints accept the request,
// then funding and anchoring proceed off the request path.
type AccountHandler struct {
	provisioner provisioner
	accounts    accountReader
	background  backgrounder
	logger      *zap.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(p provisioner, accounts accountReader, background backgrounder, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{provisioner: p, accounts: accounts, background: background, logger: logger}
}

// Register mounts the account routes on the given router group.
func (h *AccountHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/organizations/:id/chain-account", h.ProvisionOrganization)
	rg.GET("/organizations/:id/chain-account", h.GetOrganizationAccount)
	rg.POST("/users/:id/chain-account", h.ProvisionUser)
	rg.GET("/users/:id/chain-account", h.GetUserAccount)
}

type provisionOrgRequest struct {
	Name string `json:"name" binding:"required"`
}

// ProvisionOrganization handles POST /organizations/:id/chain-account.
func (h *AccountHandler) ProvisionOrganization(c *gin.Context) {
	orgID := c.Param("id")

	var req provisionOrgRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	exists, err := h.accounts.Exists(c.Request.Context(), model.OwnerOrganization, orgID)
	if err != nil {
		h.logger.Error("account existence check", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check existing account"})
		return
	}
	if exists {
		c.JSON(http.StatusConflict, gin.H{"error": "organization already has a chain account"})
		return
	}

	if c.Query("wait") == "true" {
		acct, err := h.provisioner.CreateAccountForOrganization(c.Request.Context(), orgID, req.Name)
		RecordProvision(string(model.OwnerOrganization), err == nil)
		if err != nil {
			h.logger.Error("organization provisioning", zap.String("organization_id", orgID), zap.Error(err))
			c.JSON(mapProvisionError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, acct)
		return
	}

	h.background.Go("provision organization "+orgID, func(ctx context.Context) error {
		_, err := h.provisioner.CreateAccountForOrganization(ctx, orgID, req.Name)
		RecordProvision(string(model.OwnerOrganization), err == nil)
		return err
	})

	c.JSON(http.StatusAccepted, gin.H{
		"status":          "provisioning",
		"organization_id": orgID,
	})
}

// ProvisionUser handles POST /users/:id/chain-account.
func (h *AccountHandler) ProvisionUser(c *gin.Context) {
	userID := c.Param("id")

	exists, err := h.accounts.Exists(c.Request.Context(), model.OwnerUser, userID)
	if err != nil {
		h.logger.Error("account existence check", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check existing account"})
		return
	}
	if exists {
		c.JSON(http.StatusConflict, gin.H{"error": "user already has a chain account"})
		return
	}

	if c.Query("wait") == "true" {
		acct, err := h.provisioner.CreateAccountForUser(c.Request.Context(), userID)
		RecordProvision(string(model.OwnerUser), err == nil)
		if err != nil {
			h.logger.Error("user provisioning", zap.String("user_id", userID), zap.Error(err))
			c.JSON(mapProvisionError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, acct)
		return
	}

	h.background.Go("provision user "+userID, func(ctx context.Context) error {
		_, err := h.provisioner.CreateAccountForUser(ctx, userID)
		RecordProvision(string(model.OwnerUser), err == nil)
		return err
	})

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "provisioning",
		"user_id": userID,
	})
}

// GetOrganizationAccount handles GET /organizations/:id/chain-account.
func (h *AccountHandler) GetOrganizationAccount(c *gin.Context) {
	h.getAccount(c, model.OwnerOrganization)
}

// GetUserAccount handles GET /users/:id/chain-account.
func (h *AccountHandler) GetUserAccount(c *gin.Context) {
	h.getAccount(c, model.OwnerUser)
}

func (h *AccountHandler) getAccount(c *gin.Context, ownerType model.OwnerType) {
	acct, err := h.accounts.GetByOwner(c.Request.Context(), ownerType, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no chain account for this owner"})
			return
		}
		h.logger.Error("account lookup", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load account"})
		return
	}
	c.JSON(http.StatusOK, acct)
}

// mapProvisionError picks a status code for synchronous provisioning
// failures.
func mapProvisionError(err error) int {
	switch {
	case errors.Is(err, provision.ErrTreasuryNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrModuleUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
