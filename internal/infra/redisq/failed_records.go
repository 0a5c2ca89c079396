package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/lens/internal/core/domain"
)

// dataTTL bounds how long a failed record's payload is kept. A record not
// retried within this window ages out of the queue.
const dataTTL = 7 * 24 * time.Hour

// FailedRecordQueue is a Redis-backed retry queue. Entries are ordered by
// retry count, so the least-retried records come back first.
type FailedRecordQueue struct {
	rdb       *redis.Client
	namespace string
}

// NewFailedRecordQueue creates the queue over a shared client.
func NewFailedRecordQueue(client *Client) *FailedRecordQueue {
	return &FailedRecordQueue{rdb: client.rdb, namespace: client.namespace}
}

func (q *FailedRecordQueue) queueKey() string {
	return fmt.Sprintf("%s:failed_records", q.namespace)
}

func (q *FailedRecordQueue) recordKey(id string) string {
	return fmt.Sprintf("%s:failed_record:%s", q.namespace, id)
}

// Push queues a failed record. Re-pushing an existing record updates its
// payload and keeps the queue position driven by retry count.
func (q *FailedRecordQueue) Push(ctx context.Context, fr *domain.FailedRecord) error {
	data, err := json.Marshal(fr)
	if err != nil {
		return fmt.Errorf("failed to marshal failed record: %w", err)
	}

	if err := q.rdb.Set(ctx, q.recordKey(fr.RecordID), data, dataTTL).Err(); err != nil {
		return fmt.Errorf("failed to store failed record: %w", err)
	}

	if err := q.rdb.ZAdd(ctx, q.queueKey(), redis.Z{
		Score:  float64(fr.RetryCount),
		Member: fr.RecordID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to queue failed record: %w", err)
	}
	return nil
}

// Next returns the least-retried queued record, or nil when the queue is
// empty. The record stays queued until Resolve removes it.
func (q *FailedRecordQueue) Next(ctx context.Context) (*domain.FailedRecord, error) {
	ids, err := q.rdb.ZRange(ctx, q.queueKey(), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	data, err := q.rdb.Get(ctx, q.recordKey(ids[0])).Bytes()
	if err == redis.Nil {
		// Payload aged out; drop the orphaned queue entry.
		q.rdb.ZRem(ctx, q.queueKey(), ids[0])
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load failed record: %w", err)
	}

	var fr domain.FailedRecord
	if err := json.Unmarshal(data, &fr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed record: %w", err)
	}
	return &fr, nil
}

// MarkRetried bumps the retry count, pushing the record behind fresher
// failures in the queue.
func (q *FailedRecordQueue) MarkRetried(ctx context.Context, recordID string) error {
	data, err := q.rdb.Get(ctx, q.recordKey(recordID)).Bytes()
	if err != nil {
		return fmt.Errorf("failed to load failed record: %w", err)
	}

	var fr domain.FailedRecord
	if err := json.Unmarshal(data, &fr); err != nil {
		return fmt.Errorf("failed to unmarshal failed record: %w", err)
	}

	fr.RetryCount++
	fr.LastAttempt = time.Now()
	return q.Push(ctx, &fr)
}

// Resolve removes a record from the queue after a successful retry.
func (q *FailedRecordQueue) Resolve(ctx context.Context, recordID string) error {
	if err := q.rdb.ZRem(ctx, q.queueKey(), recordID).Err(); err != nil {
		return fmt.Errorf("failed to dequeue record: %w", err)
	}
	if err := q.rdb.Del(ctx, q.recordKey(recordID)).Err(); err != nil {
		return fmt.Errorf("failed to delete record payload: %w", err)
	}
	return nil
}

// All lists every queued record in retry order. Entries whose payload has
// aged out are skipped.
func (q *FailedRecordQueue) All(ctx context.Context) ([]*domain.FailedRecord, error) {
	ids, err := q.rdb.ZRange(ctx, q.queueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	records := make([]*domain.FailedRecord, 0, len(ids))
	for _, id := range ids {
		data, err := q.rdb.Get(ctx, q.recordKey(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load failed record: %w", err)
		}
		var fr domain.FailedRecord
		if err := json.Unmarshal(data, &fr); err != nil {
			continue
		}
		records = append(records, &fr)
	}
	return records, nil
}

// Count returns the queue depth.
func (q *FailedRecordQueue) Count(ctx context.Context) (int, error) {
	count, err := q.rdb.ZCard(ctx, q.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}
