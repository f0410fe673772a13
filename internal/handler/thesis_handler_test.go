package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simta-dev/simta-api/internal/dto"
	"github.com/simta-dev/simta-api/internal/models"
	"github.com/simta-dev/simta-api/internal/service"
	appErrors "github.com/simta-dev/simta-api/pkg/errors"
)

type thesisServiceMock struct {
	createResp *models.Thesis
	createErr  error
	getResp    *models.Thesis
	getErr     error
	listResp   []models.Thesis
	exportResp *service.ThesisExport
	exportErr  error

	createCalled bool
	lastCreate   dto.CreateThesisRequest
	lastStatus   models.ThesisStatus
}

func (m *thesisServiceMock) Create(ctx context.Context, req dto.CreateThesisRequest, actor *models.JWTClaims) (*models.Thesis, error) {
	m.createCalled = true
	m.lastCreate = req
	return m.createResp, m.createErr
}

func (m *thesisServiceMock) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Thesis, error) {
	return m.getResp, m.getErr
}

func (m *thesisServiceMock) List(ctx context.Context, actor *models.JWTClaims) ([]models.Thesis, error) {
	return m.listResp, nil
}

func (m *thesisServiceMock) Update(ctx context.Context, id string, req dto.UpdateThesisRequest, actor *models.JWTClaims) (*models.Thesis, error) {
	return m.getResp, m.getErr
}

func (m *thesisServiceMock) SetStatus(ctx context.Context, id string, status models.ThesisStatus, actor *models.JWTClaims) (*models.Thesis, error) {
	m.lastStatus = status
	return m.getResp, m.getErr
}

func (m *thesisServiceMock) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	return m.getErr
}

func (m *thesisServiceMock) Export(ctx context.Context, format string, actor *models.JWTClaims) (*service.ThesisExport, error) {
	return m.exportResp, m.exportErr
}

func TestThesisHandlerCreate(t *testing.T) {
	mockSvc := &thesisServiceMock{
		createResp: &models.Thesis{ID: "thesis-1", Status: models.ThesisStatusDraft},
	}
	handler := NewThesisHandler(mockSvc)

	payload, _ := json.Marshal(dto.CreateThesisRequest{Title: "Judul Skripsi"})
	c, w := testContext(t, http.MethodPost, "/theses", payload, &models.JWTClaims{UserID: "s1", Role: models.RoleStudent})

	handler.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, mockSvc.createCalled)
	assert.Equal(t, "Judul Skripsi", mockSvc.lastCreate.Title)
}

func TestThesisHandlerGetNotFound(t *testing.T) {
	mockSvc := &thesisServiceMock{
		getErr: appErrors.Clone(appErrors.ErrNotFound, "thesis not found"),
	}
	handler := NewThesisHandler(mockSvc)

	c, w := testContext(t, http.MethodGet, "/theses/missing", nil, &models.JWTClaims{UserID: "s1", Role: models.RoleStudent})
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	handler.Get(c)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestThesisHandlerSetStatus(t *testing.T) {
	mockSvc := &thesisServiceMock{
		getResp: &models.Thesis{ID: "thesis-1", Status: models.ThesisStatusCompleted},
	}
	handler := NewThesisHandler(mockSvc)

	payload, _ := json.Marshal(dto.UpdateThesisStatusRequest{Status: models.ThesisStatusCompleted})
	c, w := testContext(t, http.MethodPatch, "/theses/thesis-1/status", payload, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})
	c.Params = gin.Params{{Key: "id", Value: "thesis-1"}}

	handler.SetStatus(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ThesisStatusCompleted, mockSvc.lastStatus)
}

func TestThesisHandlerExport(t *testing.T) {
	mockSvc := &thesisServiceMock{
		exportResp: &service.ThesisExport{
			Content:  []byte("ID,Student\n"),
			MimeType: "text/csv",
			Filename: "theses.csv",
		},
	}
	handler := NewThesisHandler(mockSvc)

	c, w := testContext(t, http.MethodGet, "/theses/export?format=csv", nil, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	handler.Export(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "theses.csv")
}
