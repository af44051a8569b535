package queryservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"fingenie/internal/domain"
)

const DefaultBaseURL = "http://localhost:5000"

// uploadResponse is the body returned by POST /upload.
type uploadResponse struct {
	Message string `json:"message"`
	DBPath  string `json:"db_path"`
	Error   string `json:"error,omitempty"`
}

// askRequest is the body sent to POST /ask.
type askRequest struct {
	Prompt   string `json:"prompt"`
	DBPath   string `json:"db_path"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// askResponse is the body returned by POST /ask. Preview is decoded only
// after the error field has been checked.
type askResponse struct {
	SQLQuery string          `json:"sql_query"`
	Preview  json.RawMessage `json:"preview"`
	Chart    string          `json:"chart"`
	Error    string          `json:"error"`
}

// Client talks to the query backend. It holds no per-session state.
type Client struct {
	baseURL    string
	httpClient *http.Client
	defaults   domain.ProviderOptions
	timeout    time.Duration
	logger     logrus.FieldLogger
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithDefaultProvider sets the provider/model pair used when Ask is called
// without one.
func WithDefaultProvider(opts domain.ProviderOptions) Option {
	return func(c *Client) {
		c.defaults = opts
	}
}

// WithTimeout bounds every request. Zero waits until the backend settles.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client for the backend at DefaultBaseURL unless
// WithBaseURL says otherwise.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
		defaults:   domain.ProviderOptions{Provider: domain.DefaultProvider, Model: domain.DefaultModel},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("queryservice: parse base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("queryservice: base url %q must be an absolute http(s) url", c.baseURL)
	}
	if c.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		c.logger = l
	}
	if c.timeout < 0 {
		return nil, errors.New("queryservice: timeout must not be negative")
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return http.DefaultClient
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + path
}

// SubmitDataset uploads file as the multipart field "file" and returns the
// dataset handle assigned by the backend.
func (c *Client) SubmitDataset(ctx context.Context, file domain.DatasetFile) (domain.UploadResult, error) {
	name := filepath.Base(strings.TrimSpace(file.Name))
	if file.Content == nil || name == "" || name == "." || name == string(filepath.Separator) {
		return domain.UploadResult{}, errors.New("queryservice: dataset file is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	// The multipart body is written while the request is being sent. The
	// transport closes pr when it is done, which unblocks the writer.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	written := make(chan struct{})
	go func() {
		defer close(written)
		part, err := mw.CreateFormFile("file", name)
		if err == nil {
			_, err = io.Copy(part, file.Content)
		}
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()
	defer func() {
		_ = pr.Close()
		<-written
	}()

	endpoint := c.endpoint("/upload")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("queryservice: create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	raw, err := c.doJSONRequest(req, endpoint)
	if err != nil {
		return domain.UploadResult{}, &TransportError{Op: OpUpload, Err: err}
	}

	var payload uploadResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.UploadResult{}, &TransportError{Op: OpUpload, Err: fmt.Errorf("decode response: %w", err)}
	}
	if msg := strings.TrimSpace(payload.Error); msg != "" {
		return domain.UploadResult{}, &SemanticError{Kind: KindUpload, Message: msg}
	}
	if strings.TrimSpace(payload.DBPath) == "" {
		return domain.UploadResult{}, &TransportError{Op: OpUpload, Err: errors.New("response is missing db_path")}
	}
	return domain.UploadResult{Message: payload.Message, DBPath: payload.DBPath}, nil
}

// Ask sends a question scoped to datasetHandle. Blank provider options fall
// back to the client's default pair.
func (c *Client) Ask(ctx context.Context, question, datasetHandle string, opts domain.ProviderOptions) (domain.QueryResult, error) {
	if strings.TrimSpace(datasetHandle) == "" {
		return domain.QueryResult{}, errors.New("queryservice: dataset handle must not be empty")
	}
	opts = opts.WithDefaults(c.defaults)

	body, err := json.Marshal(askRequest{
		Prompt:   question,
		DBPath:   datasetHandle,
		Provider: opts.Provider,
		Model:    opts.Model,
	})
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("queryservice: marshal ask request: %w", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	endpoint := c.endpoint("/ask")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("queryservice: create ask request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	raw, err := c.doJSONRequest(req, endpoint)
	if err != nil {
		return domain.QueryResult{}, &TransportError{Op: OpAsk, Err: err}
	}

	var payload askResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.QueryResult{}, &TransportError{Op: OpAsk, Err: fmt.Errorf("decode response: %w", err)}
	}
	if msg := strings.TrimSpace(payload.Error); msg != "" {
		return domain.QueryResult{}, &SemanticError{Kind: KindQuery, Message: msg}
	}

	var preview domain.Preview
	if err := json.Unmarshal(nullIfEmpty(payload.Preview), &preview); err != nil {
		c.logger.WithError(err).Warn("unreadable preview, returning the query without rows")
		preview = domain.Preview{}
	}
	return domain.QueryResult{
		Query:   payload.SQLQuery,
		Preview: preview,
		Chart:   domain.Chart(strings.TrimSpace(payload.Chart)),
	}, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func nullIfEmpty(raw json.RawMessage) []byte {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null")
	}
	return raw
}
