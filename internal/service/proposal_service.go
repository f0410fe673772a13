package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/simta-dev/simta-api/internal/dto"
	"github.com/simta-dev/simta-api/internal/models"
	appErrors "github.com/simta-dev/simta-api/pkg/errors"
)

type proposalStore interface {
	Create(ctx context.Context, proposal *models.Proposal) error
	FindByID(ctx context.Context, id string) (*models.Proposal, error)
	List(ctx context.Context, filter models.ProposalFilter) ([]models.Proposal, error)
	MarkReviewed(ctx context.Context, id string, status models.ProposalStatus, reviewerID string, note *string, reviewedAt time.Time) error
	CountByThesis(ctx context.Context, thesisID string) (int, error)
	Delete(ctx context.Context, id string) error
}

type proposalThesisStore interface {
	FindByID(ctx context.Context, id string) (*models.Thesis, error)
	UpdateStatus(ctx context.Context, id string, status models.ThesisStatus) error
}

type proposalBlobStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type proposalSigner interface {
	Generate(proposalID, relPath string) (string, time.Time, error)
	Parse(token string) (proposalID, relPath string, expiresAt time.Time, err error)
}

type notificationPublisher interface {
	Publish(event models.NotificationEvent)
}

// ProposalDownload bundles the opened blob with transport metadata.
type ProposalDownload struct {
	File      *os.File
	Filename  string
	SizeBytes int64
	ExpiresAt time.Time
}

// ProposalFileURL is a short-lived signed link to a proposal document.
type ProposalFileURL struct {
	URL       string    `json:"url"`
	FileName  string    `json:"file_name"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ProposalServiceConfig holds upload validation parameters.
type ProposalServiceConfig struct {
	MaxFileSize int64
	APIPrefix   string
}

// ProposalService runs the proposal review workflow: upload, review,
// delete, and gated file access. Thesis status is maintained here as a
// projection of proposal transitions.
type ProposalService struct {
	repo      proposalStore
	theses    proposalThesisStore
	storage   proposalBlobStorage
	signer    proposalSigner
	notifier  notificationPublisher
	audit     auditLogger
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ProposalServiceConfig
}

// NewProposalService constructs the service with defaults.
func NewProposalService(repo proposalStore, theses proposalThesisStore, storage proposalBlobStorage, signer proposalSigner, notifier notificationPublisher, audit auditLogger, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg ProposalServiceConfig) *ProposalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	return &ProposalService{
		repo:      repo,
		theses:    theses,
		storage:   storage,
		signer:    signer,
		notifier:  notifier,
		audit:     audit,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// Upload validates and persists a new proposal document, then moves the
// owning thesis to submitted. The blob is written before the row; a failed
// insert removes the orphaned blob.
func (s *ProposalService) Upload(ctx context.Context, req dto.UploadProposalRequest, actor *models.JWTClaims) (*models.Proposal, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid proposal payload")
	}
	if !strings.EqualFold(filepath.Ext(req.FileName), ".pdf") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "only PDF files are accepted")
	}

	thesis, err := s.theses.FindByID(ctx, req.ThesisID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "thesis not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load thesis")
	}
	if thesis.StudentID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "thesis not found")
	}

	data, err := s.decodeFileData(req.FileData)
	if err != nil {
		return nil, err
	}

	relPath := s.generatePath()
	if _, err := s.storage.Save(relPath, data); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to persist proposal file")
	}

	proposal := &models.Proposal{
		ThesisID: thesis.ID,
		FilePath: relPath,
		FileName: req.FileName,
		Status:   models.ProposalStatusPending,
	}
	if err := s.repo.Create(ctx, proposal); err != nil {
		_ = s.storage.Delete(relPath)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create proposal")
	}

	if err := s.theses.UpdateStatus(ctx, thesis.ID, models.ThesisStatusSubmitted); err != nil {
		s.logger.Warn("failed to project submitted status", zap.String("thesis_id", thesis.ID), zap.Error(err))
	}

	s.metrics.RecordProposalUpload()
	s.emitAudit(ctx, actor, models.AuditActionProposalUpload, proposal.ID)
	return proposal, nil
}

// Get returns one proposal if the actor may see the owning thesis.
func (s *ProposalService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Proposal, error) {
	proposal, _, err := s.loadVisible(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return proposal, nil
}

// List returns proposals scoped to what the actor may see. A thesis filter
// outside the actor's visibility yields an empty list, not an error.
func (s *ProposalService) List(ctx context.Context, thesisID string, actor *models.JWTClaims) ([]models.Proposal, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.ProposalFilter{ThesisID: thesisID}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	case models.RoleAdvisor:
		filter.AdvisorID = actor.UserID
	default:
		return []models.Proposal{}, nil
	}
	proposals, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list proposals")
	}
	if proposals == nil {
		proposals = []models.Proposal{}
	}
	return proposals, nil
}

// Approve accepts a pending proposal and projects the thesis to approved.
func (s *ProposalService) Approve(ctx context.Context, id string, req dto.ReviewProposalRequest, actor *models.JWTClaims) (*models.Proposal, error) {
	return s.review(ctx, id, models.ProposalStatusApproved, req, actor)
}

// Reject declines a pending proposal and projects the thesis to rejected.
func (s *ProposalService) Reject(ctx context.Context, id string, req dto.ReviewProposalRequest, actor *models.JWTClaims) (*models.Proposal, error) {
	return s.review(ctx, id, models.ProposalStatusRejected, req, actor)
}

// review records a decision. Only the advisor assigned to the owning
// thesis may decide; admins can read proposals but never review them.
func (s *ProposalService) review(ctx context.Context, id string, decision models.ProposalStatus, req dto.ReviewProposalRequest, actor *models.JWTClaims) (*models.Proposal, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdvisor {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}

	proposal, thesis, err := s.loadVisible(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	reviewedAt := time.Now().UTC()
	if err := s.repo.MarkReviewed(ctx, proposal.ID, decision, actor.UserID, req.Note, reviewedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "proposal already reviewed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record review")
	}

	thesisStatus := models.ThesisStatusApproved
	if decision == models.ProposalStatusRejected {
		thesisStatus = models.ThesisStatusRejected
	}
	if err := s.theses.UpdateStatus(ctx, thesis.ID, thesisStatus); err != nil {
		s.logger.Warn("failed to project review status", zap.String("thesis_id", thesis.ID), zap.Error(err))
	}

	proposal.Status = decision
	proposal.ReviewerID = &actor.UserID
	proposal.ReviewNote = req.Note
	proposal.ReviewedAt = &reviewedAt

	s.metrics.RecordProposalReview(string(decision))
	s.publishReviewNotification(thesis.StudentID, proposal, decision)
	s.emitAudit(ctx, actor, models.AuditActionProposalReview, proposal.ID)
	return proposal, nil
}

// Delete removes a proposal. The uploading student or an admin may delete;
// removing the last proposal reverts the thesis to draft.
func (s *ProposalService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	proposal, thesis, err := s.loadVisible(ctx, id, actor)
	if err != nil {
		return err
	}
	if actor.Role != models.RoleAdmin && thesis.StudentID != actor.UserID {
		return appErrors.ErrForbidden
	}

	if err := s.repo.Delete(ctx, proposal.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "proposal not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete proposal")
	}

	if err := s.storage.Delete(proposal.FilePath); err != nil {
		s.logger.Warn("failed to delete proposal blob", zap.String("path", proposal.FilePath), zap.Error(err))
	}

	remaining, err := s.repo.CountByThesis(ctx, thesis.ID)
	if err != nil {
		s.logger.Warn("failed to count remaining proposals", zap.String("thesis_id", thesis.ID), zap.Error(err))
	} else if remaining == 0 {
		if err := s.theses.UpdateStatus(ctx, thesis.ID, models.ThesisStatusDraft); err != nil {
			s.logger.Warn("failed to revert thesis to draft", zap.String("thesis_id", thesis.ID), zap.Error(err))
		}
	}

	s.emitAudit(ctx, actor, models.AuditActionProposalDelete, proposal.ID)
	return nil
}

// GetFileURL issues a signed, time-limited download URL for the document.
func (s *ProposalService) GetFileURL(ctx context.Context, id string, actor *models.JWTClaims) (*ProposalFileURL, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	proposal, _, err := s.loadVisible(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(proposal.ID, proposal.FilePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	return &ProposalFileURL{
		URL:       fmt.Sprintf("%s/proposals/%s/file?token=%s", base, proposal.ID, token),
		FileName:  proposal.FileName,
		ExpiresAt: expiresAt,
	}, nil
}

// Download validates a signed token and opens the referenced blob. The
// token is the sole credential; no session is required.
func (s *ProposalService) Download(ctx context.Context, id, token string) (*ProposalDownload, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	proposalID, relPath, expiresAt, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	if proposalID != id {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}

	proposal, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "proposal not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load proposal")
	}
	if proposal.FilePath != relPath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}

	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to open proposal file")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to read proposal metadata")
	}
	return &ProposalDownload{
		File:      file,
		Filename:  proposal.FileName,
		SizeBytes: info.Size(),
		ExpiresAt: expiresAt,
	}, nil
}

func (s *ProposalService) loadVisible(ctx context.Context, id string, actor *models.JWTClaims) (*models.Proposal, *models.Thesis, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	proposal, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "proposal not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load proposal")
	}
	thesis, err := s.theses.FindByID(ctx, proposal.ThesisID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "proposal not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load thesis")
	}
	if !canViewThesis(thesis, actor) {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "proposal not found")
	}
	return proposal, thesis, nil
}

func (s *ProposalService) decodeFileData(raw string) ([]byte, error) {
	encoded := raw
	if strings.HasPrefix(encoded, "data:") {
		idx := strings.Index(encoded, ",")
		if idx < 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "malformed data URI")
		}
		header := encoded[:idx]
		if !strings.Contains(header, ";base64") {
			return nil, appErrors.Clone(appErrors.ErrValidation, "data URI must be base64 encoded")
		}
		encoded = encoded[idx+1:]
	}

	// Reject oversized payloads before decoding. Base64 inflates by 4/3.
	if int64(len(encoded))/4*3 > s.cfg.MaxFileSize+3 {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file_data is not valid base64")
	}
	if len(data) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is empty")
	}
	if int64(len(data)) > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}
	return data, nil
}

func (s *ProposalService) generatePath() string {
	buf := make([]byte, 4)
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	if _, err := rand.Read(buf); err == nil {
		suffix = hex.EncodeToString(buf)
	}
	return fmt.Sprintf("uploads/%d_%s.pdf", time.Now().Unix(), suffix)
}

func (s *ProposalService) publishReviewNotification(studentID string, proposal *models.Proposal, decision models.ProposalStatus) {
	if s.notifier == nil {
		return
	}
	title := "Proposal Approved"
	message := fmt.Sprintf("Your proposal %q has been approved.", proposal.FileName)
	if decision == models.ProposalStatusRejected {
		title = "Proposal Rejected"
		message = fmt.Sprintf("Your proposal %q has been rejected. Please revise and resubmit.", proposal.FileName)
	}
	if proposal.ReviewNote != nil && strings.TrimSpace(*proposal.ReviewNote) != "" {
		message = fmt.Sprintf("%s Reviewer note: %s", message, strings.TrimSpace(*proposal.ReviewNote))
	}
	s.notifier.Publish(models.NotificationEvent{
		UserID:  studentID,
		Title:   title,
		Message: message,
		Type:    models.NotificationTypeProposalReviewed,
		Data: map[string]interface{}{
			"proposal_id": proposal.ID,
			"thesis_id":   proposal.ThesisID,
			"status":      string(decision),
		},
	})
}

func (s *ProposalService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID string) {
	if s.audit == nil {
		return
	}
	id := resourceID
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "proposal",
		ResourceID: &id,
	}); err != nil {
		s.logger.Warn("failed to record proposal audit log", zap.Error(err))
	}
}
