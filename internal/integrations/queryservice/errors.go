package queryservice

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Operation names the backend call that failed.
type Operation string

const (
	OpUpload Operation = "upload"
	OpAsk    Operation = "ask"
)

func (o Operation) title() string {
	switch o {
	case OpUpload:
		return "Upload"
	case OpAsk:
		return "Ask"
	default:
		return string(o)
	}
}

// HTTPStatusError captures a non-2xx backend response.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("queryservice: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// TransportError means the backend could not be reached or did not produce a
// usable response: network failures, non-2xx statuses, timeouts and
// undecodable bodies.
type TransportError struct {
	Op  Operation
	Err error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("queryservice: %s transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// UserMessage is the text shown to the user, e.g. "Ask failed: Bad Gateway".
func (e *TransportError) UserMessage() string {
	var statusErr *HTTPStatusError
	if errors.As(e.Err, &statusErr) {
		text := http.StatusText(statusErr.StatusCode)
		if text == "" {
			text = fmt.Sprintf("status %d", statusErr.StatusCode)
		}
		return fmt.Sprintf("%s failed: %s", e.Op.title(), text)
	}
	return fmt.Sprintf("%s failed: %v", e.Op.title(), e.Err)
}

// ErrorKind distinguishes which backend operation rejected the request.
type ErrorKind string

const (
	KindUpload ErrorKind = "upload"
	KindQuery  ErrorKind = "query"
)

// SemanticError is a 2xx backend response whose body carried a non-empty
// error field: the request was processed and rejected.
type SemanticError struct {
	Kind    ErrorKind
	Message string
}

func (e *SemanticError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("queryservice: %s rejected: %s", e.Kind, e.Message)
}

// UploadError reports whether err is a backend rejection of an upload.
func UploadError(err error) (*SemanticError, bool) {
	return semanticOfKind(err, KindUpload)
}

// QueryError reports whether err is a backend rejection of a question.
func QueryError(err error) (*SemanticError, bool) {
	return semanticOfKind(err, KindQuery)
}

func IsTransport(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

func IsSemantic(err error) bool {
	var semanticErr *SemanticError
	return errors.As(err, &semanticErr)
}

// UserMessage returns the user-facing text for a client failure. Backend
// rejections surface the backend's own message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var semanticErr *SemanticError
	if errors.As(err, &semanticErr) {
		return strings.TrimSpace(semanticErr.Message)
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.UserMessage()
	}
	return err.Error()
}

func semanticOfKind(err error, kind ErrorKind) (*SemanticError, bool) {
	var semanticErr *SemanticError
	if !errors.As(err, &semanticErr) || semanticErr.Kind != kind {
		return nil, false
	}
	return semanticErr, true
}
