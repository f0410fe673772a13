package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simta-dev/simta-api/internal/dto"
	"github.com/simta-dev/simta-api/internal/models"
	appErrors "github.com/simta-dev/simta-api/pkg/errors"
	"github.com/simta-dev/simta-api/pkg/storage"
)

type proposalRepoStub struct {
	proposals  map[string]*models.Proposal
	failCreate bool
}

func newProposalRepoStub() *proposalRepoStub {
	return &proposalRepoStub{proposals: make(map[string]*models.Proposal)}
}

func (r *proposalRepoStub) Create(ctx context.Context, proposal *models.Proposal) error {
	if r.failCreate {
		return fmt.Errorf("insert failed")
	}
	if proposal.ID == "" {
		proposal.ID = fmt.Sprintf("prop-%d", len(r.proposals)+1)
	}
	if proposal.UploadedAt.IsZero() {
		proposal.UploadedAt = time.Now().UTC()
	}
	stored := *proposal
	r.proposals[proposal.ID] = &stored
	return nil
}

func (r *proposalRepoStub) FindByID(ctx context.Context, id string) (*models.Proposal, error) {
	if proposal, ok := r.proposals[id]; ok {
		copy := *proposal
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (r *proposalRepoStub) List(ctx context.Context, filter models.ProposalFilter) ([]models.Proposal, error) {
	var result []models.Proposal
	for _, proposal := range r.proposals {
		if filter.ThesisID != "" && proposal.ThesisID != filter.ThesisID {
			continue
		}
		result = append(result, *proposal)
	}
	return result, nil
}

func (r *proposalRepoStub) MarkReviewed(ctx context.Context, id string, status models.ProposalStatus, reviewerID string, note *string, reviewedAt time.Time) error {
	proposal, ok := r.proposals[id]
	if !ok || proposal.Status != models.ProposalStatusPending {
		return sql.ErrNoRows
	}
	proposal.Status = status
	proposal.ReviewerID = &reviewerID
	proposal.ReviewNote = note
	proposal.ReviewedAt = &reviewedAt
	return nil
}

func (r *proposalRepoStub) CountByThesis(ctx context.Context, thesisID string) (int, error) {
	count := 0
	for _, proposal := range r.proposals {
		if proposal.ThesisID == thesisID {
			count++
		}
	}
	return count, nil
}

func (r *proposalRepoStub) Delete(ctx context.Context, id string) error {
	if _, ok := r.proposals[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.proposals, id)
	return nil
}

type blobStoreStub struct {
	saved   map[string][]byte
	deleted []string
}

func newBlobStoreStub() *blobStoreStub {
	return &blobStoreStub{saved: make(map[string][]byte)}
}

func (s *blobStoreStub) Save(filename string, data []byte) (string, error) {
	s.saved[filename] = data
	return filename, nil
}

func (s *blobStoreStub) Open(filename string) (*os.File, error) {
	return nil, fmt.Errorf("not supported")
}

func (s *blobStoreStub) Delete(filename string) error {
	delete(s.saved, filename)
	s.deleted = append(s.deleted, filename)
	return nil
}

type notifierStub struct {
	events []models.NotificationEvent
}

func (n *notifierStub) Publish(event models.NotificationEvent) {
	n.events = append(n.events, event)
}

type proposalFixture struct {
	svc       *ProposalService
	proposals *proposalRepoStub
	theses    *thesisRepoStub
	blobs     *blobStoreStub
	notifier  *notifierStub
	metrics   *MetricsService
}

func newProposalFixture(maxFileSize int64) *proposalFixture {
	proposals := newProposalRepoStub()
	theses := newThesisRepoStub()
	blobs := newBlobStoreStub()
	notifier := &notifierStub{}
	metrics := NewMetricsService()
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	svc := NewProposalService(proposals, theses, blobs, signer, notifier, &auditStub{}, metrics, nil, nil, ProposalServiceConfig{
		MaxFileSize: maxFileSize,
		APIPrefix:   "/api/v1",
	})
	return &proposalFixture{svc: svc, proposals: proposals, theses: theses, blobs: blobs, notifier: notifier, metrics: metrics}
}

func encodePDF(data []byte) string {
	return "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(data)
}

func TestProposalServiceUpload(t *testing.T) {
	fx := newProposalFixture(0)
	fx.theses.theses["thesis-1"] = &models.Thesis{ID: "thesis-1", StudentID: "student-1", Status: models.ThesisStatusDraft}

	proposal, err := fx.svc.Upload(context.Background(), dto.UploadProposalRequest{
		ThesisID: "thesis-1",
		FileName: "proposal.pdf",
		FileData: encodePDF([]byte("%PDF-1.4 isi dokumen")),
	}, studentClaims("student-1"))

	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusPending, proposal.Status)
	assert.Len(t, fx.blobs.saved, 1)
	assert.Equal(t, models.ThesisStatusSubmitted, fx.theses.theses["thesis-1"].Status)
}

func TestProposalServiceUploadRejectsNonPDF(t *testing.T) {
	fx := newProposalFixture(0)
	fx.theses.theses["thesis-1"] = &models.Thesis{ID: "thesis-1", StudentID: "student-1"}

	_, err := fx.svc.Upload(context.Background(), dto.UploadProposalRequest{
		ThesisID: "thesis-1",
		FileName: "proposal.docx",
		FileData: encodePDF([]byte("dokumen")),
	}, studentClaims("student-1"))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestProposalServiceUploadSizeBoundary(t *testing.T) {
	fx := newProposalFixture(16)
	fx.theses.theses["thesis-1"] = &models.Thesis{ID: "thesis-1", StudentID: "student-1"}

	atLimit := bytes.Repeat([]byte("a"), 16)
	_, err := fx.svc.Upload(context.Background(), dto.UploadProposalRequest{
		ThesisID: "thesis-1",
		FileName: "at-limit.pdf",
		FileData: encodePDF(atLimit),
	}, studentClaims("student-1"))
	require.NoError(t, err)

	overLimit := bytes.Repeat([]byte("a"), 17)
	_, err = fx.svc.Upload(context.Background(), dto.UploadProposalRequest{
		ThesisID: "thesis-1",
		FileName: "over-limit.pdf",
		FileData: encodePDF(overLimit),
	}, studentClaims("student-1"))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestProposalServiceUploadForeignThesisReadsAsMissing(t *testing.T) {
	fx := newProposalFixture(0)
	fx.theses.theses["thesis-1"] = &models.Thesis{ID: "thesis-1", StudentID: "owner"}

	_, err := fx.svc.Upload(context.Background(), dto.UploadProposalRequest{
		ThesisID: "thesis-1",
		FileName: "proposal.pdf",
		FileData: encodePDF([]byte("dokumen")),
	}, studentClaims("intruder"))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestProposalServiceUploadCompensatesFailedInsert(t *testing.T) {
	fx := newProposalFixture(0)
	fx.theses.theses["thesis-1"] = &models.Thesis{ID: "thesis-1", StudentID: "student-1", Status: models.ThesisStatusDraft}
	fx.proposals.failCreate = true

	_, err := fx.svc.Upload(context.Background(), dto.UploadProposalRequest{
		ThesisID: "thesis-1",
		FileName: "proposal.pdf",
		FileData: encodePDF([]byte("dokumen")),
	}, studentClaims("student-1"))

	require.Error(t, err)
	// The orphaned blob is removed and the thesis stays in draft.
	assert.Empty(t, fx.blobs.saved)
	assert.Len(t, fx.blobs.deleted, 1)
	assert.Equal(t, models.ThesisStatusDraft, fx.theses.theses["thesis-1"].Status)
}

func TestProposalServiceUploadAllowsMultiplePending(t *testing.T) {
	fx := newProposalFixture(0)
	fx.theses.theses["thesis-1"] = &models.Thesis{ID: "thesis-1", StudentID: "student-1"}

	for i := 0; i < 2; i++ {
		_, err := fx.svc.Upload(context.Background(), dto.UploadProposalRequest{
			ThesisID: "thesis-1",
			FileName: fmt.Sprintf("revisi-%d.pdf", i+1),
			FileData: encodePDF([]byte("dokumen")),
		}, studentClaims("student-1"))
		require.NoError(t, err)
	}

	count, err := fx.proposals.CountByThesis(context.Background(), "thesis-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestProposalServiceApprove(t *testing.T) {
	fx := newProposalFixture(0)
	advisor := "advisor-1"
	fx.theses.theses["thesis-1"] = &models.Thesis{ID: "thesis-1", StudentID: "student-1", AdvisorID: &advisor, Status: models.ThesisStatusSubmitted}
	fx.proposals.proposals["prop-1"] = &models.Proposal{ID: "prop-1", ThesisID: "thesis-1", FileName: "proposal.pdf", Status: models.ProposalStatusPending}

	proposal, err := fx.svc.Approve(context.Background(), "prop-1", dto.ReviewProposalRequest{}, advisorClaims("advisor-1"))

	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusApproved, proposal.Status)
	assert.Equal(t, models.ThesisStatusApproved, fx.theses.theses["thesis-1"].Status)
	require.Len(t, fx.notifier.events, 1)
	assert.Equal(t, "student-1", fx.notifier.events[0].UserID)
	assert.Equal(t, "Proposal Approved", fx.notifier.events[0].Title)
}

func TestProposalServiceRejectCarriesNote(t *testing.T) {
	fx := newProposalFixture(0)
	advisor := "advisor-1"
	fx.theses.theses["thesis-1"] = &models.Thesis{ID: "thesis-1", StudentID: "student-1", AdvisorID: &advisor}
	fx.proposals.proposals["prop-1"] = &models.Proposal{ID: "prop-1", ThesisID: "thesis-1", FileName: "proposal.pdf", Status: models.ProposalStatusPending}

	note := "bab 2 perlu diperbaiki"
	proposal, err := fx.svc.Reject(context.Background(), "prop-1", dto.ReviewProposalRequest{Note: &note}, advisorClaims("advisor-1"))

	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusRejected, proposal.Status)
	assert.Equal(t, models.ThesisStatusRejected, fx.theses.theses["thesis-1"].Status)
	require.Len(t, fx.notifier.events, 1)
	assert.Equal(t, "Proposal Rejected", fx.notifier.events[0].Title)
	assert.True(t, strings.Contains(fx.notifier.events[0].Message, note))
}

func TestProposalServiceDoubleReviewConflicts(t *testing.T) {
	fx := newProposalFixture(0)
	advisor := "advisor-1"
	fx.theses.theses["thesis-1"] = &models.Thesis{ID: "thesis-1", StudentID: "student-1", AdvisorID: &advisor}
	fx.proposals.proposals["prop-1"] = &models.Proposal{ID: "prop-1", ThesisID: "thesis-1", FileName: "proposal.pdf", Status: models.ProposalStatusPending}

	_, err := fx.svc.Approve(context.Background(), "prop-1", dto.ReviewProposalRequest{}, advisorClaims("advisor-1"))
	require.NoError(t, err)

	_, err = fx.svc.Reject(context.Background(), "prop-1", dto.ReviewProposalRequest{}, advisorClaims("advisor-1"))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	// The first decision stands.
	assert.Equal(t, models.ProposalStatusApproved, fx.proposals.proposals["prop-1"].Status)
}

func TestProposalServiceReviewByUnassignedAdvisor(t *testing.T) {
	fx := newProposalFixture(0)
	assigned := "advisor-1"
	fx.theses.theses["thesis-1"] = &models.Thesis{ID: "thesis-1", StudentID: "student-1", AdvisorID: &assigned}
	fx.proposals.proposals["prop-1"] = &models.Proposal{ID: "prop-1", ThesisID: "thesis-1", Status: models.ProposalStatusPending}

	_, err := fx.svc.Approve(context.Background(), "prop-1", dto.ReviewProposalRequest{}, advisorClaims("advisor-2"))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
	assert.Empty(t, fx.notifier.events)
}

func TestProposalServiceReviewRefusesAdmin(t *testing.T) {
	fx := newProposalFixture(0)
	advisor := "advisor-1"
	fx.theses.theses["thesis-1"] = &models.Thesis{ID: "thesis-1", StudentID: "student-1", AdvisorID: &advisor}
	fx.proposals.proposals["prop-1"] = &models.Proposal{ID: "prop-1", ThesisID: "thesis-1", Status: models.ProposalStatusPending}

	_, err := fx.svc.Approve(context.Background(), "prop-1", dto.ReviewProposalRequest{}, adminClaims("admin-9"))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
	// Only the assigned advisor decides; the proposal stays pending.
	assert.Equal(t, models.ProposalStatusPending, fx.proposals.proposals["prop-1"].Status)
	assert.Nil(t, fx.proposals.proposals["prop-1"].ReviewerID)
	assert.Empty(t, fx.notifier.events)
}

func TestProposalServiceRecordsWorkflowMetrics(t *testing.T) {
	fx := newProposalFixture(0)
	advisor := "advisor-1"
	fx.theses.theses["thesis-1"] = &models.Thesis{ID: "thesis-1", StudentID: "student-1", AdvisorID: &advisor, Status: models.ThesisStatusDraft}

	proposal, err := fx.svc.Upload(context.Background(), dto.UploadProposalRequest{
		ThesisID: "thesis-1",
		FileName: "proposal.pdf",
		FileData: encodePDF([]byte("%PDF-1.4 isi")),
	}, studentClaims("student-1"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.uploadsTotal))

	_, err = fx.svc.Approve(context.Background(), proposal.ID, dto.ReviewProposalRequest{}, advisorClaims("advisor-1"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.reviewsTotal.WithLabelValues("approved")))
	assert.Equal(t, 0.0, testutil.ToFloat64(fx.metrics.reviewsTotal.WithLabelValues("rejected")))
}

func TestProposalServiceListEmptyIsNotNil(t *testing.T) {
	fx := newProposalFixture(0)

	proposals, err := fx.svc.List(context.Background(), "", adminClaims("admin-1"))

	require.NoError(t, err)
	require.NotNil(t, proposals)
	assert.Empty(t, proposals)
}

func TestProposalServiceDeleteLastRevertsDraft(t *testing.T) {
	fx := newProposalFixture(0)
	fx.theses.theses["thesis-1"] = &models.Thesis{ID: "thesis-1", StudentID: "student-1", Status: models.ThesisStatusSubmitted}
	fx.proposals.proposals["prop-1"] = &models.Proposal{ID: "prop-1", ThesisID: "thesis-1", FilePath: "uploads/a.pdf", Status: models.ProposalStatusPending}
	fx.proposals.proposals["prop-2"] = &models.Proposal{ID: "prop-2", ThesisID: "thesis-1", FilePath: "uploads/b.pdf", Status: models.ProposalStatusPending}

	require.NoError(t, fx.svc.Delete(context.Background(), "prop-1", studentClaims("student-1")))
	assert.Equal(t, models.ThesisStatusSubmitted, fx.theses.theses["thesis-1"].Status)

	require.NoError(t, fx.svc.Delete(context.Background(), "prop-2", studentClaims("student-1")))
	assert.Equal(t, models.ThesisStatusDraft, fx.theses.theses["thesis-1"].Status)
	assert.Equal(t, []string{"uploads/a.pdf", "uploads/b.pdf"}, fx.blobs.deleted)
}

func TestProposalServiceDeleteForbiddenForAdvisor(t *testing.T) {
	fx := newProposalFixture(0)
	advisor := "advisor-1"
	fx.theses.theses["thesis-1"] = &models.Thesis{ID: "thesis-1", StudentID: "student-1", AdvisorID: &advisor}
	fx.proposals.proposals["prop-1"] = &models.Proposal{ID: "prop-1", ThesisID: "thesis-1", Status: models.ProposalStatusPending}

	err := fx.svc.Delete(context.Background(), "prop-1", advisorClaims("advisor-1"))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestProposalServiceDownloadRoundTrip(t *testing.T) {
	proposals := newProposalRepoStub()
	theses := newThesisRepoStub()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	svc := NewProposalService(proposals, theses, store, signer, &notifierStub{}, &auditStub{}, nil, nil, nil, ProposalServiceConfig{APIPrefix: "/api/v1"})

	theses.theses["thesis-1"] = &models.Thesis{ID: "thesis-1", StudentID: "student-1"}
	content := []byte("%PDF-1.4 konten proposal")
	proposal, err := svc.Upload(context.Background(), dto.UploadProposalRequest{
		ThesisID: "thesis-1",
		FileName: "proposal.pdf",
		FileData: encodePDF(content),
	}, studentClaims("student-1"))
	require.NoError(t, err)

	link, err := svc.GetFileURL(context.Background(), proposal.ID, studentClaims("student-1"))
	require.NoError(t, err)
	assert.True(t, link.ExpiresAt.After(time.Now()))
	assert.Equal(t, "proposal.pdf", link.FileName)

	parsed, err := url.Parse(link.URL)
	require.NoError(t, err)
	token := parsed.Query().Get("token")
	require.NotEmpty(t, token)

	download, err := svc.Download(context.Background(), proposal.ID, token)
	require.NoError(t, err)
	defer download.File.Close()

	got, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, "proposal.pdf", download.Filename)
}

func TestProposalServiceDownloadRejectsForeignToken(t *testing.T) {
	fx := newProposalFixture(0)
	fx.theses.theses["thesis-1"] = &models.Thesis{ID: "thesis-1", StudentID: "student-1"}
	fx.proposals.proposals["prop-1"] = &models.Proposal{ID: "prop-1", ThesisID: "thesis-1", FilePath: "uploads/a.pdf"}
	fx.proposals.proposals["prop-2"] = &models.Proposal{ID: "prop-2", ThesisID: "thesis-1", FilePath: "uploads/b.pdf"}

	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	token, _, err := signer.Generate("prop-2", "uploads/b.pdf")
	require.NoError(t, err)

	_, err = fx.svc.Download(context.Background(), "prop-1", token)

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}
