package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"fingenie/internal/domain"
	"fingenie/internal/integrations/queryservice"
)

// SupportedExtensions lists the dataset formats the backend accepts.
var SupportedExtensions = []string{".csv", ".xlsx", ".xls"}

type DatasetSubmitter interface {
	SubmitDataset(ctx context.Context, file domain.DatasetFile) (domain.UploadResult, error)
}

// SessionStore is the session state written by uploads and read by asks.
type SessionStore interface {
	DatasetReader
	SetActiveDataset(ctx context.Context, handle string) error
}

// Uploader submits datasets for one session and reports the result as
// notices.
type Uploader struct {
	client  DatasetSubmitter
	notices NoticeSink
	logger  logrus.FieldLogger
}

func NewUploader(client DatasetSubmitter, notices NoticeSink, logger logrus.FieldLogger) (*Uploader, error) {
	if client == nil {
		return nil, errors.New("usecase: dataset submitter must not be nil")
	}
	if notices == nil {
		notices = discardNotices{}
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Uploader{client: client, notices: notices, logger: logger}, nil
}

// Upload sends file to the backend and, on success, makes the returned
// handle the session's active dataset. On any failure the previous active
// dataset is left as it was.
func (u *Uploader) Upload(ctx context.Context, store SessionStore, file domain.DatasetFile) (domain.UploadResult, error) {
	if store == nil {
		return domain.UploadResult{}, newError(ErrorInternal, "missing_session_store", nil)
	}
	if file.Content == nil || strings.TrimSpace(file.Name) == "" || file.Size == 0 {
		u.notices.Notify(domain.Notice{
			Title:       "Please select a file",
			Description: "You need to upload a financial dataset first.",
			Variant:     domain.NoticeDestructive,
		})
		return domain.UploadResult{}, newError(ErrorValidation, "empty_file", nil)
	}
	if !supportedFile(file.Name) {
		u.notices.Notify(domain.Notice{
			Title:       "Unsupported file type",
			Description: "Upload a .csv, .xlsx or .xls file.",
			Variant:     domain.NoticeDestructive,
		})
		return domain.UploadResult{}, newError(ErrorValidation, "unsupported_file_type", nil)
	}

	logger := u.logger.WithField("file", filepath.Base(file.Name))
	res, err := u.client.SubmitDataset(ctx, file)
	if err != nil {
		classified := classifyUploadError(err)
		u.notices.Notify(domain.Notice{
			Title:       "Error",
			Description: queryservice.UserMessage(err),
			Variant:     domain.NoticeDestructive,
		})
		logger.WithField("status", classified.Code).WithError(err).Warn("upload rejected")
		return domain.UploadResult{}, classified
	}

	if err := store.SetActiveDataset(ctx, res.DBPath); err != nil {
		u.notices.Notify(domain.Notice{
			Title:       "Error",
			Description: "The dataset was uploaded but could not be activated. Please try again.",
			Variant:     domain.NoticeDestructive,
		})
		logger.WithError(err).Error("upload accepted but session store failed")
		return domain.UploadResult{}, newError(ErrorInternal, "session_store_error", err)
	}

	u.notices.Notify(domain.Notice{
		Title:       "File uploaded successfully!",
		Description: "Processing your financial dataset...",
		Variant:     domain.NoticeDefault,
	})
	logger.WithField("dataset", res.DBPath).Info("upload accepted")
	return res, nil
}

func supportedFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

func classifyUploadError(err error) *Error {
	switch {
	case queryservice.IsTransport(err):
		return newError(ErrorTransport, "upload_transport_failed", err)
	case queryservice.IsSemantic(err):
		return newError(ErrorUpload, "upload_rejected", err)
	default:
		return newError(ErrorInternal, "upload_failed", err)
	}
}
