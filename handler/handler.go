package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fingenie/internal/domain"
	"fingenie/internal/integrations/queryservice"
	"fingenie/internal/usecase"
)

const (
	SessionCookie       = "fingenie_session"
	correlationIDHeader = "X-Correlation-Id"

	ctxSessionKey       = "fingenie.session"
	ctxCorrelationIDKey = "fingenie.correlation_id"
)

var newUUID = func() string { return uuid.NewString() }

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Messages []domain.Message `json:"messages"`
}

type sessionResponse struct {
	ActiveDataset *string `json:"active_dataset"`
	Busy          bool    `json:"busy"`
}

type noticesResponse struct {
	Notices []domain.Notice `json:"notices"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Handler serves the HTTP API over a session registry.
type Handler struct {
	sessions       *Registry
	logger         logrus.FieldLogger
	maxUploadBytes int64
	engine         *gin.Engine
	lambda         *ginadapter.GinLambda
}

func NewHandler(sessions *Registry, logger logrus.FieldLogger, maxUploadBytes int64) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("handler: session registry must not be nil")
	}
	if maxUploadBytes <= 0 {
		return nil, errors.New("handler: max upload bytes must be positive")
	}
	if logger == nil {
		logger = discardLogger()
	}
	h := &Handler{sessions: sessions, logger: logger, maxUploadBytes: maxUploadBytes}

	engine := gin.New()
	engine.Use(gin.Recovery(), h.correlationID(), h.requestLogger())
	engine.GET("/healthz", h.health)

	api := engine.Group("/api", h.resolveSession())
	api.POST("/upload", h.upload)
	api.GET("/session", h.session)
	api.POST("/ask", h.ask)
	api.GET("/messages", h.messages)
	api.GET("/notices", h.notices)

	h.engine = engine
	h.lambda = ginadapter.New(engine)
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.engine.ServeHTTP(w, r)
}

func (h *Handler) Router() *gin.Engine {
	return h.engine
}

// ---------------------------------------------------------------------------
// middleware
// ---------------------------------------------------------------------------

func (h *Handler) correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(correlationIDHeader))
		if id == "" {
			id = newUUID()
		}
		c.Set(ctxCorrelationIDKey, id)
		c.Header(correlationIDHeader, id)
		c.Next()
	}
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.WithFields(logrus.Fields{
			"method":         c.Request.Method,
			"path":           c.FullPath(),
			"status":         c.Writer.Status(),
			"duration_ms":    time.Since(start).Milliseconds(),
			"correlation_id": c.GetString(ctxCorrelationIDKey),
		}).Info("request handled")
	}
}

// resolveSession loads the caller's session from the session cookie, minting
// a new id when the cookie is absent or malformed.
func (h *Handler) resolveSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(SessionCookie)
		if err != nil || !validSessionID(id) {
			id = newUUID()
			http.SetCookie(c.Writer, &http.Cookie{
				Name:     SessionCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				Secure:   c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https"),
				SameSite: http.SameSiteLaxMode,
			})
		}
		sess, err := h.sessions.Get(id)
		if err != nil {
			h.logger.WithError(err).Error("resolve session")
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Reason: "session_unavailable"})
			return
		}
		c.Set(ctxSessionKey, sess)
		c.Next()
	}
}

func validSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func currentSession(c *gin.Context) *Session {
	v, _ := c.Get(ctxSessionKey)
	s, _ := v.(*Session)
	return s
}

// ---------------------------------------------------------------------------
// routes
// ---------------------------------------------------------------------------

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) upload(c *gin.Context) {
	sess := currentSession(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+(1<<20))

	var file domain.DatasetFile
	fh, err := c.FormFile("file")
	switch {
	case err == nil:
		if fh.Size > h.maxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: string(usecase.ErrorValidation), Reason: "file_too_large"})
			return
		}
		f, openErr := fh.Open()
		if openErr != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorValidation), Reason: "invalid_multipart"})
			return
		}
		defer f.Close()
		file = domain.DatasetFile{Name: fh.Filename, Content: f, Size: fh.Size}
	case errors.Is(err, http.ErrMissingFile):
		// Upload reports the missing file as empty_file.
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: string(usecase.ErrorValidation), Reason: "file_too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorValidation), Reason: "invalid_multipart"})
		return
	}

	res, err := sess.Uploader.Upload(c.Request.Context(), sess.Store, file)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) session(c *gin.Context) {
	sess := currentSession(c)
	resp := sessionResponse{Busy: sess.Conversation.Busy()}
	if handle, ok := sess.Store.ActiveDataset(c.Request.Context()); ok {
		resp.ActiveDataset = &handle
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ask(c *gin.Context) {
	sess := currentSession(c)
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorValidation), Reason: "invalid_body"})
		return
	}

	// The ask settles even if the client disconnects, so the timeline always
	// receives its assistant message.
	ctx := context.WithoutCancel(c.Request.Context())
	out, err := sess.Conversation.Ask(ctx, req.Question)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if out.Err != nil {
		h.logger.WithFields(logrus.Fields{
			"session_id":     sess.ID,
			"correlation_id": c.GetString(ctxCorrelationIDKey),
		}).WithError(out.Err).Warn("ask settled with failure")
	}
	c.JSON(http.StatusOK, askResponse{Messages: []domain.Message{out.User, out.Assistant}})
}

func (h *Handler) messages(c *gin.Context) {
	c.JSON(http.StatusOK, askResponse{Messages: currentSession(c).Conversation.Messages()})
}

func (h *Handler) notices(c *gin.Context) {
	c.JSON(http.StatusOK, noticesResponse{Notices: currentSession(c).Notices.Drain()})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		h.logger.WithError(err).Error("unexpected error")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
		return
	}
	resp := errorResponse{Error: string(ue.Code), Reason: ue.Reason}
	if ue.Err != nil && (queryservice.IsTransport(ue.Err) || queryservice.IsSemantic(ue.Err)) {
		resp.Message = queryservice.UserMessage(ue.Err)
	}
	c.JSON(statusFor(ue.Code), resp)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorValidation:
		return http.StatusBadRequest
	case usecase.ErrorBusy:
		return http.StatusConflict
	case usecase.ErrorTransport, usecase.ErrorUpload, usecase.ErrorQuery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
