// Package session keeps per-user session values such as the active dataset
// handle. Values live in a Backend keyed by session id, so the same Store
// works over process memory, Redis or DynamoDB.
package session

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// ActiveDatasetKey is the session key holding the current dataset handle.
const ActiveDatasetKey = "activeDataset"

// Backend stores string values per session.
type Backend interface {
	Get(ctx context.Context, sessionID, key string) (string, bool, error)
	Set(ctx context.Context, sessionID, key, value string) error
	Delete(ctx context.Context, sessionID string) error
}

// Store is one session's view of a Backend.
type Store struct {
	backend   Backend
	sessionID string
	logger    logrus.FieldLogger
}

// NewStore binds sessionID to backend. A nil logger discards log output.
func NewStore(backend Backend, sessionID string, logger logrus.FieldLogger) (*Store, error) {
	if backend == nil {
		return nil, errors.New("session: backend must not be nil")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session: session id is required")
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Store{
		backend:   backend,
		sessionID: sessionID,
		logger:    logger.WithField("session_id", sessionID),
	}, nil
}

// SetActiveDataset replaces the active dataset handle. Empty handles are
// rejected so the key is never present with an empty value.
func (s *Store) SetActiveDataset(ctx context.Context, handle string) error {
	if strings.TrimSpace(handle) == "" {
		return errors.New("session: dataset handle must not be empty")
	}
	if err := s.backend.Set(ctx, s.sessionID, ActiveDatasetKey, handle); err != nil {
		s.logger.WithError(err).Error("session: store active dataset")
		return err
	}
	return nil
}

// ActiveDataset returns the current handle. Backend failures are logged and
// reported as unset.
func (s *Store) ActiveDataset(ctx context.Context) (string, bool) {
	v, ok, err := s.backend.Get(ctx, s.sessionID, ActiveDatasetKey)
	if err != nil {
		s.logger.WithError(err).Warn("session: read active dataset")
		return "", false
	}
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Clear drops every value held for the session.
func (s *Store) Clear(ctx context.Context) error {
	return s.backend.Delete(ctx, s.sessionID)
}
