package service

import (
	"sync"

	"github.com/boddenberg/property-dashboard-sync-go/internal/domain"
	"github.com/boddenberg/property-dashboard-sync-go/internal/infra/observability"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NoticeQueue buffers user-facing toasts until the view layer drains
// them. Bounded: under overflow the oldest notice is dropped, a stale
// toast is worth less than a fresh one.
type NoticeQueue struct {
	mu      sync.Mutex
	items   []domain.Notice
	limit   int
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewNoticeQueue creates a queue holding at most limit notices.
func NewNoticeQueue(limit int, metrics *observability.Metrics, logger *zap.Logger) *NoticeQueue {
	if limit <= 0 {
		limit = 32
	}
	return &NoticeQueue{
		limit:   limit,
		metrics: metrics,
		logger:  logger,
	}
}

// Notify enqueues a notice. Never blocks.
func (q *NoticeQueue) Notify(notice domain.Notice) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if notice.ID == "" {
		notice.ID = uuid.NewString()
	}
	if len(q.items) >= q.limit {
		q.items = q.items[1:]
		q.metrics.IncrNoticeDropped()
		q.logger.Warn("notice queue full, dropping oldest")
	}
	q.items = append(q.items, notice)
	q.metrics.IncrNotice(string(notice.Level))
}

// Drain returns and removes all pending notices in FIFO order.
func (q *NoticeQueue) Drain() []domain.Notice {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	return out
}

// Clear drops all pending notices without emitting them.
func (q *NoticeQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
