package queue

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"Mansoor88-6/crash-sentinel-agent/internal/metrics"
	"Mansoor88-6/crash-sentinel-agent/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxAttempts is the retry budget of a queued item
const DefaultMaxAttempts = 3

// Handler delivers a single queued item. A nil error removes the item.
type Handler func(ctx context.Context, item models.QueueItem) error

// DrainResult reports what a drain pass did with each candidate
type DrainResult struct {
	Delivered []models.QueueItem
	Retrying  []models.QueueItem
	// Exhausted items reached the retry budget and were removed
	Exhausted []models.QueueItem
}

// DurableQueue persists outbound items until they are delivered or exhausted.
// Enqueue and Drain are serialized.
type DurableQueue struct {
	db          *sql.DB
	maxAttempts int
	logger      *zap.Logger
	mu          sync.Mutex
	now         func() time.Time
}

// NewDurableQueue creates a new durability queue
func NewDurableQueue(db *sql.DB, maxAttempts int, logger *zap.Logger) *DurableQueue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &DurableQueue{
		db:          db,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         time.Now,
	}
}

// Enqueue appends an item, assigning an id and enqueue time when absent
func (q *DurableQueue) Enqueue(ctx context.Context, item models.QueueItem) (models.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = q.now()
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO pending_items (id, kind, payload, enqueued_at, attempt_count)
		VALUES (?, ?, ?, ?, ?)
	`, item.ID, string(item.Kind), item.Payload, item.EnqueuedAt.UnixMilli(), item.AttemptCount)
	if err != nil {
		return item, fmt.Errorf("failed to enqueue item: %w", err)
	}

	q.logger.Debug("Item enqueued",
		zap.String("id", item.ID),
		zap.String("kind", string(item.Kind)),
	)
	q.refreshGauge(ctx)

	return item, nil
}

// Drain attempts every queued item in enqueue order
func (q *DurableQueue) Drain(ctx context.Context, handler Handler) (DrainResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.refreshGauge(ctx)

	var result DrainResult

	items, err := q.pending(ctx)
	if err != nil {
		return result, err
	}
	if len(items) == 0 {
		return result, nil
	}

	q.logger.Debug("Draining queued items", zap.Int("pending_count", len(items)))

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		deliverErr := handler(ctx, item)
		if deliverErr == nil {
			if err := q.remove(ctx, item.ID); err != nil {
				return result, err
			}
			result.Delivered = append(result.Delivered, item)
			continue
		}

		item.AttemptCount++
		if item.AttemptCount >= q.maxAttempts {
			if err := q.remove(ctx, item.ID); err != nil {
				return result, err
			}
			metrics.QueueExhausted.Inc()
			q.logger.Error("Queued item exhausted its retry budget",
				zap.String("id", item.ID),
				zap.String("kind", string(item.Kind)),
				zap.Int("attempts", item.AttemptCount),
				zap.Error(deliverErr),
			)
			result.Exhausted = append(result.Exhausted, item)
			continue
		}

		if err := q.incrementAttempt(ctx, item.ID); err != nil {
			return result, err
		}
		q.logger.Warn("Queued item delivery failed, will retry",
			zap.String("id", item.ID),
			zap.Int("attempts", item.AttemptCount),
			zap.Error(deliverErr),
		)
		result.Retrying = append(result.Retrying, item)
	}

	if len(result.Delivered) > 0 {
		q.logger.Info("Successfully delivered queued items",
			zap.Int("count", len(result.Delivered)),
		)
	}
	return result, nil
}

// Size returns the number of queued items
func (q *DurableQueue) Size(ctx context.Context) (int, error) {
	var count int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_items`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get pending count: %w", err)
	}
	return count, nil
}

// Pending returns the queued items in enqueue order
func (q *DurableQueue) Pending(ctx context.Context) ([]models.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending(ctx)
}

func (q *DurableQueue) pending(ctx context.Context) ([]models.QueueItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, kind, payload, enqueued_at, attempt_count
		FROM pending_items
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending items: %w", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		var (
			item       models.QueueItem
			kind       string
			enqueuedAt int64
		)
		if err := rows.Scan(&item.ID, &kind, &item.Payload, &enqueuedAt, &item.AttemptCount); err != nil {
			return nil, fmt.Errorf("failed to scan pending item: %w", err)
		}
		item.Kind = models.ItemKind(kind)
		item.EnqueuedAt = time.UnixMilli(enqueuedAt)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending items: %w", err)
	}

	return items, nil
}

func (q *DurableQueue) remove(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM pending_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove item %s: %w", id, err)
	}
	return nil
}

func (q *DurableQueue) incrementAttempt(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE pending_items SET attempt_count = attempt_count + 1, last_attempt = ? WHERE id = ?
	`, q.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to increment attempt count: %w", err)
	}
	return nil
}

func (q *DurableQueue) refreshGauge(ctx context.Context) {
	if size, err := q.Size(ctx); err == nil {
		metrics.QueueLength.Set(float64(size))
	}
}
