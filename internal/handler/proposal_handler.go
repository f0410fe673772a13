package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/simta-dev/simta-api/internal/dto"
	"github.com/simta-dev/simta-api/internal/models"
	"github.com/simta-dev/simta-api/internal/service"
	appErrors "github.com/simta-dev/simta-api/pkg/errors"
	"github.com/simta-dev/simta-api/pkg/response"
)

type proposalService interface {
	Upload(ctx context.Context, req dto.UploadProposalRequest, actor *models.JWTClaims) (*models.Proposal, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Proposal, error)
	List(ctx context.Context, thesisID string, actor *models.JWTClaims) ([]models.Proposal, error)
	Approve(ctx context.Context, id string, req dto.ReviewProposalRequest, actor *models.JWTClaims) (*models.Proposal, error)
	Reject(ctx context.Context, id string, req dto.ReviewProposalRequest, actor *models.JWTClaims) (*models.Proposal, error)
	Delete(ctx context.Context, id string, actor *models.JWTClaims) error
	GetFileURL(ctx context.Context, id string, actor *models.JWTClaims) (*service.ProposalFileURL, error)
	Download(ctx context.Context, id, token string) (*service.ProposalDownload, error)
}

// ProposalHandler exposes the proposal workflow endpoints.
type ProposalHandler struct {
	service proposalService
}

// NewProposalHandler constructs the handler.
func NewProposalHandler(service proposalService) *ProposalHandler {
	return &ProposalHandler{service: service}
}

// Upload godoc
// @Summary Submit a proposal document for review
// @Tags Proposals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.UploadProposalRequest true "Proposal payload"
// @Success 201 {object} response.Envelope
// @Router /proposals [post]
func (h *ProposalHandler) Upload(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.UploadProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid proposal payload"))
		return
	}
	proposal, err := h.service.Upload(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, proposal)
}

// List godoc
// @Summary List proposals visible to the caller
// @Tags Proposals
// @Produce json
// @Security BearerAuth
// @Param thesis_id query string false "Thesis filter"
// @Success 200 {object} response.Envelope
// @Router /proposals [get]
func (h *ProposalHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	proposals, err := h.service.List(c.Request.Context(), strings.TrimSpace(c.Query("thesis_id")), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, proposals)
}

// Get godoc
// @Summary Get one proposal
// @Tags Proposals
// @Produce json
// @Security BearerAuth
// @Param id path string true "Proposal ID"
// @Success 200 {object} response.Envelope
// @Router /proposals/{id} [get]
func (h *ProposalHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	proposal, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, proposal)
}

// Review godoc
// @Summary Approve or reject a pending proposal
// @Tags Proposals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Proposal ID"
// @Param payload body dto.ReviewProposalDecisionRequest true "Review decision"
// @Success 200 {object} response.Envelope
// @Router /proposals/{id}/review [put]
func (h *ProposalHandler) Review(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ReviewProposalDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid review payload"))
		return
	}
	decision := dto.ReviewProposalRequest{Note: req.Note}
	var (
		proposal *models.Proposal
		err      error
	)
	switch req.Status {
	case models.ProposalStatusApproved:
		proposal, err = h.service.Approve(c.Request.Context(), c.Param("id"), decision, claims)
	case models.ProposalStatusRejected:
		proposal, err = h.service.Reject(c.Request.Context(), c.Param("id"), decision, claims)
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "status must be approved or rejected"))
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, proposal)
}

// Delete godoc
// @Summary Delete a proposal document
// @Tags Proposals
// @Produce json
// @Security BearerAuth
// @Param id path string true "Proposal ID"
// @Success 204
// @Router /proposals/{id} [delete]
func (h *ProposalHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// FileURL godoc
// @Summary Issue a signed download URL for the document
// @Tags Proposals
// @Produce json
// @Security BearerAuth
// @Param id path string true "Proposal ID"
// @Success 200 {object} response.Envelope
// @Router /proposals/{id}/file-url [get]
func (h *ProposalHandler) FileURL(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	link, err := h.service.GetFileURL(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link)
}

// Download godoc
// @Summary Download a proposal document via signed token
// @Tags Proposals
// @Produce octet-stream
// @Param id path string true "Proposal ID"
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Router /proposals/{id}/file [get]
func (h *ProposalHandler) Download(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.service.Download(c.Request.Context(), c.Param("id"), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, result.SizeBytes, "application/pdf", result.File, nil)
}
