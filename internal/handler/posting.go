package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hireledger/hireledger/internal/model"
	"github.com/hireledger/hireledger/internal/repository"
)

// postingStore is satisfied by *repository.PostingRepository.
type postingStore interface {
	Create(ctx context.Context, p *model.JobPosting) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.JobPosting, error)
	Update(ctx context.Context, p *model.JobPosting) error
	ListByOrganization(ctx context.Context, orgID string, limit, offset int) ([]*model.JobPosting, error)
}

// linkReader is satisfied by *repository.EntryLinkRepository.
type linkReader interface {
	GetByPosting(ctx context.Context, postingID uuid.UUID) (*model.RegistryEntryLink, error)
}

// syncScheduler is satisfied by *entrysync.Dispatcher.
type syncScheduler interface {
	Sync(postingID uuid.UUID)
}

// PostingHandler exposes job posting CRUD plus the attestation read. Every
// local write returns before the ledger is touched; synchronization is
// scheduled, not awaited.
type PostingHandler struct {
	postings  postingStore
	links     linkReader
	scheduler syncScheduler
	logger    *zap.Logger
}

// NewPostingHandler creates a PostingHandler.
func NewPostingHandler(postings postingStore, links linkReader, scheduler syncScheduler, logger *zap.Logger) *PostingHandler {
	return &PostingHandler{postings: postings, links: links, scheduler: scheduler, logger: logger}
}

// Register mounts the posting routes on the given router group.
func (h *PostingHandler) Register(rg *gin.RouterGroup) {
	p := rg.Group("/postings")
	{
		p.POST("", h.Create)
		p.GET("/:id", h.Get)
		p.PATCH("/:id", h.Update)
		p.GET("/:id/attestation", h.Attestation)
	}
	rg.GET("/organizations/:id/postings", h.ListByOrganization)
}

type createPostingRequest struct {
	Title            string            `json:"title"             binding:"required"`
	Status           string            `json:"status"`
	OrganizationID   string            `json:"organization_id"   binding:"required"`
	OrganizationName string            `json:"organization_name" binding:"required"`
	Description      string            `json:"description"`
	Metadata         map[string]string `json:"metadata"`
	Location         map[string]string `json:"location"`
	Contact          map[string]string `json:"contact"`
}

type updatePostingRequest struct {
	Title       *string            `json:"title"`
	Status      *string            `json:"status"`
	Description *string            `json:"description"`
	Metadata    *map[string]string `json:"metadata"`
	Location    *map[string]string `json:"location"`
	Contact     *map[string]string `json:"contact"`
}

// Create handles POST /postings.
func (h *PostingHandler) Create(c *gin.Context) {
	var req createPostingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := model.PostingStatus(req.Status)
	if req.Status == "" {
		status = model.StatusDraft
	}
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + req.Status})
		return
	}

	posting := &model.JobPosting{
		Title:            req.Title,
		Status:           status,
		OrganizationID:   req.OrganizationID,
		OrganizationName: req.OrganizationName,
		Description:      req.Description,
		Metadata:         req.Metadata,
		Location:         req.Location,
		Contact:          req.Contact,
	}
	if err := h.postings.Create(c.Request.Context(), posting); err != nil {
		h.logger.Error("create posting", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create posting"})
		return
	}

	h.scheduler.Sync(posting.ID)
	c.JSON(http.StatusCreated, posting)
}

// Get handles GET /postings/:id.
func (h *PostingHandler) Get(c *gin.Context) {
	id, ok := h.postingID(c)
	if !ok {
		return
	}
	posting, err := h.postings.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondLoadError(c, err)
		return
	}
	c.JSON(http.StatusOK, posting)
}

// Update handles PATCH /postings/:id. Only the provided fields change; the
// posting is re-synchronized afterwards whatever changed.
func (h *PostingHandler) Update(c *gin.Context) {
	id, ok := h.postingID(c)
	if !ok {
		return
	}
	var req updatePostingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	posting, err := h.postings.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondLoadError(c, err)
		return
	}

	if req.Title != nil {
		posting.Title = *req.Title
	}
	if req.Status != nil {
		status := model.PostingStatus(*req.Status)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + *req.Status})
			return
		}
		posting.Status = status
	}
	if req.Description != nil {
		posting.Description = *req.Description
	}
	if req.Metadata != nil {
		posting.Metadata = *req.Metadata
	}
	if req.Location != nil {
		posting.Location = *req.Location
	}
	if req.Contact != nil {
		posting.Contact = *req.Contact
	}

	if err := h.postings.Update(c.Request.Context(), posting); err != nil {
		h.logger.Error("update posting", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update posting"})
		return
	}

	h.scheduler.Sync(posting.ID)
	c.JSON(http.StatusOK, posting)
}

// ListByOrganization handles GET /organizations/:id/postings.
func (h *PostingHandler) ListByOrganization(c *gin.Context) {
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
			return
		}
		limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
			return
		}
		offset = n
	}

	postings, err := h.postings.ListByOrganization(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		h.logger.Error("list postings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list postings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"postings": postings,
		"count":    len(postings),
	})
}

// Attestation handles GET /postings/:id/attestation. It returns the stored
// ledger link for the posting; a posting that was never anchored gets 404.
func (h *PostingHandler) Attestation(c *gin.Context) {
	id, ok := h.postingID(c)
	if !ok {
		return
	}
	link, err := h.links.GetByPosting(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "posting has no ledger attestation"})
			return
		}
		h.logger.Error("load entry link", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attestation"})
		return
	}
	c.JSON(http.StatusOK, link)
}

func (h *PostingHandler) postingID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *PostingHandler) respondLoadError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "posting not found"})
		return
	}
	h.logger.Error("load posting", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load posting"})
}
