package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"fingenie/internal/domain"
	"fingenie/internal/session"
	"fingenie/internal/usecase"
)

// QueryService is the backend client shared by every session.
type QueryService interface {
	usecase.QueryClient
	usecase.DatasetSubmitter
}

// Session bundles the per-browser-session state.
type Session struct {
	ID           string
	Store        *session.Store
	Notices      *usecase.NoticeQueue
	Conversation *usecase.Conversation
	Uploader     *usecase.Uploader
}

type RegistryConfig struct {
	Client   QueryService
	Backend  session.Backend
	Provider domain.ProviderOptions
	Logger   logrus.FieldLogger

	MaxSessions int
	// IdleTTL drops sessions not touched for this long. Zero keeps them
	// until evicted by size.
	IdleTTL time.Duration
	// ClearOnEvict deletes the evicted session's values from Backend. Set it
	// for process-local backends only; shared backends keep values for other
	// instances.
	ClearOnEvict bool
}

// Registry maps session ids to live sessions, bounded in size and idle time.
// A session evicted while an ask is in flight is parked until its next
// request so one cookie never gets a second conversation.
type Registry struct {
	cfg   RegistryConfig
	mu    sync.Mutex
	cache *expirable.LRU[string, *Session]

	parkMu sync.Mutex
	parked map[string]*Session
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Client == nil {
		return nil, errors.New("handler: query service must not be nil")
	}
	if cfg.Backend == nil {
		return nil, errors.New("handler: session backend must not be nil")
	}
	if cfg.MaxSessions <= 0 {
		return nil, errors.New("handler: max sessions must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	r := &Registry{cfg: cfg, parked: make(map[string]*Session)}
	r.cache = expirable.NewLRU[string, *Session](cfg.MaxSessions, r.onEvict, cfg.IdleTTL)
	return r, nil
}

// Get returns the session for id, creating it on first use. Each call
// restarts the session's idle timer.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.cache.Get(id); ok {
		r.cache.Add(id, s)
		return s, nil
	}
	if s, ok := r.unpark(id); ok {
		r.cache.Add(id, s)
		r.cfg.Logger.WithField("session_id", id).Debug("session restored")
		return s, nil
	}
	s, err := r.newSession(id)
	if err != nil {
		return nil, err
	}
	r.cache.Add(id, s)
	r.cfg.Logger.WithField("session_id", id).Debug("session created")
	return s, nil
}

func (r *Registry) Len() int {
	return r.cache.Len()
}

func (r *Registry) newSession(id string) (*Session, error) {
	logger := r.cfg.Logger.WithField("session_id", id)
	store, err := session.NewStore(r.cfg.Backend, id, logger)
	if err != nil {
		return nil, fmt.Errorf("handler: new session store: %w", err)
	}
	if r.cfg.ClearOnEvict {
		// An id can come back after its entry expired; it starts empty.
		if err := store.Clear(context.Background()); err != nil {
			return nil, fmt.Errorf("handler: reset session store: %w", err)
		}
	}
	notices := usecase.NewNoticeQueue(0)
	conv, err := usecase.NewConversation(r.cfg.Client, store, notices, logger, r.cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("handler: new conversation: %w", err)
	}
	uploader, err := usecase.NewUploader(r.cfg.Client, notices, logger)
	if err != nil {
		return nil, fmt.Errorf("handler: new uploader: %w", err)
	}
	return &Session{
		ID:           id,
		Store:        store,
		Notices:      notices,
		Conversation: conv,
		Uploader:     uploader,
	}, nil
}

func (r *Registry) unpark(id string) (*Session, bool) {
	r.parkMu.Lock()
	defer r.parkMu.Unlock()
	s, ok := r.parked[id]
	if ok {
		delete(r.parked, id)
	}
	return s, ok
}

// onEvict runs with the cache lock held and must not call back into it.
func (r *Registry) onEvict(id string, s *Session) {
	if s == nil {
		return
	}
	r.parkMu.Lock()
	var settled []*Session
	for pid, p := range r.parked {
		if !p.Conversation.Busy() {
			delete(r.parked, pid)
			settled = append(settled, p)
		}
	}
	busy := s.Conversation.Busy()
	if busy {
		r.parked[id] = s
	}
	r.parkMu.Unlock()

	if busy {
		r.cfg.Logger.WithField("session_id", id).Debug("session parked with ask in flight")
	} else {
		settled = append(settled, s)
	}
	for _, done := range settled {
		r.release(done)
	}
}

func (r *Registry) release(s *Session) {
	r.cfg.Logger.WithField("session_id", s.ID).Debug("session evicted")
	if !r.cfg.ClearOnEvict {
		return
	}
	if err := s.Store.Clear(context.Background()); err != nil {
		r.cfg.Logger.WithField("session_id", s.ID).WithError(err).Warn("clear evicted session")
	}
}
