package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fingenie/internal/domain"
	"fingenie/internal/integrations/queryservice"
)

const (
	// TimestampLayout renders message capture times, e.g. "3/14/2025, 9:26:53 AM".
	TimestampLayout = "1/2/2006, 3:04:05 PM"

	AcknowledgementText = "Here are the results from your query."
	ApologyText         = "Sorry, I couldn't process your question. Please try again."
)

var newID = func() string { return uuid.NewString() }

type QueryClient interface {
	Ask(ctx context.Context, question, datasetHandle string, opts domain.ProviderOptions) (domain.QueryResult, error)
}

// DatasetReader exposes the active dataset of one session.
type DatasetReader interface {
	ActiveDataset(ctx context.Context) (string, bool)
}

// Outcome is the settled result of one accepted ask. Err is non-nil when the
// assistant message is the apology.
type Outcome struct {
	User      domain.Message
	Assistant domain.Message
	Err       error
}

// Conversation owns one session's message timeline and its Idle/Busy state.
// At most one ask is in flight at a time; every accepted ask appends exactly
// one user message and, once settled, exactly one assistant message.
type Conversation struct {
	client   QueryClient
	datasets DatasetReader
	notices  NoticeSink
	logger   logrus.FieldLogger
	provider domain.ProviderOptions
	now      func() time.Time

	mu       sync.Mutex
	timeline []domain.Message
	busy     bool
	draft    string
}

// NewConversation creates an idle conversation with an empty timeline.
// notices and logger may be nil.
func NewConversation(client QueryClient, datasets DatasetReader, notices NoticeSink, logger logrus.FieldLogger, provider domain.ProviderOptions) (*Conversation, error) {
	if client == nil {
		return nil, errors.New("usecase: query client must not be nil")
	}
	if datasets == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if notices == nil {
		notices = discardNotices{}
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Conversation{
		client:   client,
		datasets: datasets,
		notices:  notices,
		logger:   logger,
		provider: provider,
		now:      time.Now,
	}, nil
}

// Start validates the question and, if accepted, appends the user message,
// enters Busy and sends the question in the background. The returned channel
// yields one Outcome and is then closed.
//
// Refusals leave the timeline untouched and make no network call: a blank
// question, a second ask while Busy, or no active dataset (which also emits
// a notice).
func (c *Conversation) Start(ctx context.Context, question string) (<-chan Outcome, error) {
	if strings.TrimSpace(question) == "" {
		return nil, newError(ErrorValidation, "empty_question", nil)
	}

	// The store may be remote; read it before taking the lock so Busy and
	// Messages never wait on it.
	handle, ok := c.datasets.ActiveDataset(ctx)

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		c.logger.Info("ask refused: request in flight")
		return nil, newError(ErrorBusy, "request_in_flight", nil)
	}
	if !ok {
		c.mu.Unlock()
		c.notices.Notify(domain.Notice{
			Title:       "No dataset uploaded",
			Description: "You need to upload a financial dataset first.",
			Variant:     domain.NoticeDestructive,
		})
		c.logger.Info("ask refused: no active dataset")
		return nil, newError(ErrorValidation, "no_active_dataset", nil)
	}
	user := c.newMessage(domain.SenderUser, question, nil)
	c.timeline = append(c.timeline, user)
	c.draft = ""
	c.busy = true
	c.mu.Unlock()

	c.logger.WithField("dataset", handle).Info("ask dispatched")

	done := make(chan Outcome, 1)
	go func() {
		defer close(done)
		done <- c.settle(ctx, user, handle)
	}()
	return done, nil
}

// Ask is Start followed by waiting for the outcome. The error reports only
// refusals; a failed backend call yields an Outcome with Err set.
func (c *Conversation) Ask(ctx context.Context, question string) (Outcome, error) {
	done, err := c.Start(ctx, question)
	if err != nil {
		return Outcome{}, err
	}
	return <-done, nil
}

func (c *Conversation) settle(ctx context.Context, user domain.Message, handle string) Outcome {
	result, err := c.query(ctx, user.Content, handle)
	if err == nil {
		assistant := c.finish(AcknowledgementText, &result)
		c.logger.WithField("dataset", handle).Info("ask settled")
		return Outcome{User: user, Assistant: assistant}
	}

	classified := classifyAskError(err)
	assistant := c.finish(ApologyText, nil)
	c.notices.Notify(domain.Notice{
		Title:       "Error",
		Description: failureText(err),
		Variant:     domain.NoticeDestructive,
	})
	c.logger.WithFields(logrus.Fields{
		"dataset": handle,
		"status":  classified.Code,
	}).WithError(err).Warn("ask failed")
	return Outcome{User: user, Assistant: assistant, Err: classified}
}

func (c *Conversation) query(ctx context.Context, question, handle string) (res domain.QueryResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("usecase: query client panicked: %v", r)
		}
	}()
	return c.client.Ask(ctx, question, handle, c.provider)
}

// finish appends the assistant message and returns to Idle.
func (c *Conversation) finish(content string, result *domain.QueryResult) domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.newMessage(domain.SenderAssistant, content, result)
	c.timeline = append(c.timeline, msg)
	c.busy = false
	return msg
}

// newMessage must be called with mu held.
func (c *Conversation) newMessage(sender domain.Sender, content string, result *domain.QueryResult) domain.Message {
	return domain.Message{
		ID:        newID(),
		Sender:    sender,
		Content:   content,
		Timestamp: c.now().Format(TimestampLayout),
		Result:    result,
	}
}

func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Messages returns a copy of the timeline in display order.
func (c *Conversation) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, len(c.timeline))
	copy(out, c.timeline)
	return out
}

// SetDraft replaces the pending input text.
func (c *Conversation) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = text
}

func (c *Conversation) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Submit starts an ask with the pending input. The draft is cleared only
// when the ask is accepted.
func (c *Conversation) Submit(ctx context.Context) (<-chan Outcome, error) {
	return c.Start(ctx, c.Draft())
}

func classifyAskError(err error) *Error {
	switch {
	case queryservice.IsTransport(err):
		return newError(ErrorTransport, "ask_transport_failed", err)
	case queryservice.IsSemantic(err):
		return newError(ErrorQuery, "query_rejected", err)
	default:
		return newError(ErrorInternal, "ask_failed", err)
	}
}

func failureText(err error) string {
	if queryservice.IsTransport(err) || queryservice.IsSemantic(err) {
		if msg := queryservice.UserMessage(err); msg != "" {
			return msg
		}
	}
	return "Something went wrong. Please try again."
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
