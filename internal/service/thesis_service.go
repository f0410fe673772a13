package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/simta-dev/simta-api/internal/dto"
	"github.com/simta-dev/simta-api/internal/models"
	appErrors "github.com/simta-dev/simta-api/pkg/errors"
	"github.com/simta-dev/simta-api/pkg/export"
)

type thesisStore interface {
	Create(ctx context.Context, thesis *models.Thesis) error
	FindByID(ctx context.Context, id string) (*models.Thesis, error)
	List(ctx context.Context, filter models.ThesisFilter) ([]models.Thesis, error)
	Update(ctx context.Context, thesis *models.Thesis) error
	UpdateStatus(ctx context.Context, id string, status models.ThesisStatus) error
	Delete(ctx context.Context, id string) error
}

type thesisProposalCleaner interface {
	DeleteByThesis(ctx context.Context, thesisID string) ([]string, error)
}

type thesisUserResolver interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type blobRemover interface {
	Delete(filename string) error
}

type datasetExporter interface {
	Render(data export.Dataset) ([]byte, error)
}

type titledDatasetExporter interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ThesisExport bundles rendered export content with transport metadata.
type ThesisExport struct {
	Content  []byte
	MimeType string
	Filename string
}

// ThesisService manages thesis records and their role-scoped visibility.
// Status is normally a projection maintained by the proposal workflow;
// only admins may set it directly.
type ThesisService struct {
	repo      thesisStore
	proposals thesisProposalCleaner
	users     thesisUserResolver
	blobs     blobRemover
	audit     auditLogger
	csv       datasetExporter
	pdf       titledDatasetExporter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewThesisService constructs a ThesisService.
func NewThesisService(repo thesisStore, proposals thesisProposalCleaner, users thesisUserResolver, blobs blobRemover, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *ThesisService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ThesisService{
		repo:      repo,
		proposals: proposals,
		users:     users,
		blobs:     blobs,
		audit:     audit,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		validator: validate,
		logger:    logger,
	}
}

// Create starts a new thesis in draft state owned by the acting student.
func (s *ThesisService) Create(ctx context.Context, req dto.CreateThesisRequest, actor *models.JWTClaims) (*models.Thesis, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid thesis payload")
	}
	if req.AdvisorID != nil {
		if err := s.ensureAdvisor(ctx, *req.AdvisorID); err != nil {
			return nil, err
		}
	}

	thesis := &models.Thesis{
		StudentID:   actor.UserID,
		AdvisorID:   req.AdvisorID,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Status:      models.ThesisStatusDraft,
	}
	if err := s.repo.Create(ctx, thesis); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create thesis")
	}
	return thesis, nil
}

// Get returns one thesis if the actor may see it. Records outside the
// actor's visibility read as not found rather than forbidden.
func (s *ThesisService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Thesis, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	thesis, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "thesis not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load thesis")
	}
	if !canViewThesis(thesis, actor) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "thesis not found")
	}
	return thesis, nil
}

// List returns theses scoped to what the actor may see.
func (s *ThesisService) List(ctx context.Context, actor *models.JWTClaims) ([]models.Thesis, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.ThesisFilter{}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	case models.RoleAdvisor:
		filter.AdvisorID = actor.UserID
	default:
		return []models.Thesis{}, nil
	}
	theses, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list theses")
	}
	if theses == nil {
		theses = []models.Thesis{}
	}
	return theses, nil
}

// Update modifies thesis metadata. Students may edit their own record,
// admins any.
func (s *ThesisService) Update(ctx context.Context, id string, req dto.UpdateThesisRequest, actor *models.JWTClaims) (*models.Thesis, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid thesis payload")
	}
	thesis, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleAdvisor {
		return nil, appErrors.ErrForbidden
	}

	if req.Title != nil {
		thesis.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		thesis.Description = strings.TrimSpace(*req.Description)
	}
	if req.AdvisorID != nil {
		if err := s.ensureAdvisor(ctx, *req.AdvisorID); err != nil {
			return nil, err
		}
		thesis.AdvisorID = req.AdvisorID
	}

	if err := s.repo.Update(ctx, thesis); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update thesis")
	}
	return thesis, nil
}

// SetStatus is the administrative status override.
func (s *ThesisService) SetStatus(ctx context.Context, id string, status models.ThesisStatus, actor *models.JWTClaims) (*models.Thesis, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	if !models.ValidThesisStatus(status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid thesis status %q", status))
	}
	thesis, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update thesis status")
	}
	thesis.Status = status
	return thesis, nil
}

// Delete removes a thesis together with its proposals and their blobs.
// Admin only. Blob removal is best effort once rows are gone.
func (s *ThesisService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return appErrors.ErrForbidden
	}
	if _, err := s.Get(ctx, id, actor); err != nil {
		return err
	}

	paths, err := s.proposals.DeleteByThesis(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete thesis proposals")
	}
	for _, path := range paths {
		if err := s.blobs.Delete(path); err != nil {
			s.logger.Warn("failed to delete proposal blob", zap.String("path", path), zap.Error(err))
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "thesis not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete thesis")
	}

	s.emitAudit(ctx, actor, models.AuditActionThesisDelete, id)
	return nil
}

// Export renders the full thesis roster as CSV or PDF. Admin only.
func (s *ThesisService) Export(ctx context.Context, format string, actor *models.JWTClaims) (*ThesisExport, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}

	theses, err := s.repo.List(ctx, models.ThesisFilter{})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list theses")
	}

	data := export.Dataset{
		Headers: []string{"ID", "Student", "Advisor", "Title", "Status", "Created"},
	}
	for _, thesis := range theses {
		advisor := ""
		if thesis.AdvisorID != nil {
			advisor = *thesis.AdvisorID
		}
		data.Rows = append(data.Rows, map[string]string{
			"ID":      thesis.ID,
			"Student": thesis.StudentID,
			"Advisor": advisor,
			"Title":   thesis.Title,
			"Status":  string(thesis.Status),
			"Created": thesis.CreatedAt.Format("2006-01-02"),
		})
	}

	switch strings.ToLower(format) {
	case "csv":
		content, err := s.csv.Render(data)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ThesisExport{Content: content, MimeType: "text/csv", Filename: "theses.csv"}, nil
	case "pdf":
		content, err := s.pdf.Render(data, "Thesis Roster")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ThesisExport{Content: content, MimeType: "application/pdf", Filename: "theses.pdf"}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

func (s *ThesisService) ensureAdvisor(ctx context.Context, advisorID string) error {
	advisor, err := s.users.FindByID(ctx, advisorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "advisor not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load advisor")
	}
	if advisor.Role != models.RoleAdvisor || !advisor.Active {
		return appErrors.Clone(appErrors.ErrValidation, "advisor_id does not reference an active advisor")
	}
	return nil
}

func (s *ThesisService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID string) {
	if s.audit == nil {
		return
	}
	id := resourceID
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "thesis",
		ResourceID: &id,
	}); err != nil {
		s.logger.Warn("failed to record thesis audit log", zap.Error(err))
	}
}

func canViewThesis(thesis *models.Thesis, actor *models.JWTClaims) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleStudent:
		return thesis.StudentID == actor.UserID
	case models.RoleAdvisor:
		return thesis.AdvisorID != nil && *thesis.AdvisorID == actor.UserID
	default:
		return false
	}
}
