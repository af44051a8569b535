package usecase

import (
	"sync"

	"fingenie/internal/domain"
)

const defaultNoticeLimit = 32

// NoticeSink receives transient user-facing notices.
type NoticeSink interface {
	Notify(n domain.Notice)
}

// NoticeQueue is a bounded FIFO of pending notices. When full, the oldest
// notice is dropped.
type NoticeQueue struct {
	mu    sync.Mutex
	items []domain.Notice
	limit int
}

func NewNoticeQueue(limit int) *NoticeQueue {
	if limit <= 0 {
		limit = defaultNoticeLimit
	}
	return &NoticeQueue{limit: limit}
}

func (q *NoticeQueue) Notify(n domain.Notice) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.limit {
		q.items = q.items[len(q.items)-q.limit+1:]
	}
	q.items = append(q.items, n)
}

// Drain returns every pending notice in arrival order and empties the queue.
func (q *NoticeQueue) Drain() []domain.Notice {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	if out == nil {
		return []domain.Notice{}
	}
	return out
}

func (q *NoticeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type discardNotices struct{}

func (discardNotices) Notify(domain.Notice) {}
