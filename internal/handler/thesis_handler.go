package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/simta-dev/simta-api/internal/dto"
	"github.com/simta-dev/simta-api/internal/models"
	"github.com/simta-dev/simta-api/internal/service"
	appErrors "github.com/simta-dev/simta-api/pkg/errors"
	"github.com/simta-dev/simta-api/pkg/response"
)

type thesisService interface {
	Create(ctx context.Context, req dto.CreateThesisRequest, actor *models.JWTClaims) (*models.Thesis, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Thesis, error)
	List(ctx context.Context, actor *models.JWTClaims) ([]models.Thesis, error)
	Update(ctx context.Context, id string, req dto.UpdateThesisRequest, actor *models.JWTClaims) (*models.Thesis, error)
	SetStatus(ctx context.Context, id string, status models.ThesisStatus, actor *models.JWTClaims) (*models.Thesis, error)
	Delete(ctx context.Context, id string, actor *models.JWTClaims) error
	Export(ctx context.Context, format string, actor *models.JWTClaims) (*service.ThesisExport, error)
}

// ThesisHandler exposes thesis lifecycle endpoints.
type ThesisHandler struct {
	service thesisService
}

// NewThesisHandler constructs the handler.
func NewThesisHandler(service thesisService) *ThesisHandler {
	return &ThesisHandler{service: service}
}

// Create godoc
// @Summary Start a new thesis in draft state
// @Tags Theses
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateThesisRequest true "Thesis payload"
// @Success 201 {object} response.Envelope
// @Router /theses [post]
func (h *ThesisHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateThesisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid thesis payload"))
		return
	}
	thesis, err := h.service.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, thesis)
}

// List godoc
// @Summary List theses visible to the caller
// @Tags Theses
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /theses [get]
func (h *ThesisHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	theses, err := h.service.List(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, theses)
}

// Get godoc
// @Summary Get one thesis
// @Tags Theses
// @Produce json
// @Security BearerAuth
// @Param id path string true "Thesis ID"
// @Success 200 {object} response.Envelope
// @Router /theses/{id} [get]
func (h *ThesisHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	thesis, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, thesis)
}

// Update godoc
// @Summary Update thesis metadata
// @Tags Theses
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Thesis ID"
// @Param payload body dto.UpdateThesisRequest true "Thesis payload"
// @Success 200 {object} response.Envelope
// @Router /theses/{id} [put]
func (h *ThesisHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.UpdateThesisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid thesis payload"))
		return
	}
	thesis, err := h.service.Update(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, thesis)
}

// SetStatus godoc
// @Summary Override thesis status (admin)
// @Tags Theses
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Thesis ID"
// @Param payload body dto.UpdateThesisStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Router /theses/{id}/status [patch]
func (h *ThesisHandler) SetStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.UpdateThesisStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid status payload"))
		return
	}
	thesis, err := h.service.SetStatus(c.Request.Context(), c.Param("id"), req.Status, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, thesis)
}

// Delete godoc
// @Summary Delete a thesis with its proposals (admin)
// @Tags Theses
// @Produce json
// @Security BearerAuth
// @Param id path string true "Thesis ID"
// @Success 204
// @Router /theses/{id} [delete]
func (h *ThesisHandler) Delete(c *gin.Context) {
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

// Export godoc
// @Summary Export the thesis roster (admin)
// @Tags Theses
// @Produce octet-stream
// @Security BearerAuth
// @Param format query string true "csv or pdf"
// @Success 200 {file} binary
// @Router /theses/export [get]
func (h *ThesisHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.Export(c.Request.Context(), c.DefaultQuery("format", "csv"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.MimeType, result.Content)
}
