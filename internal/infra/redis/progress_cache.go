// File: internal/infra/redis/progress_cache.go
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/model"
	ports "vidfab-pipeline/internal/domain/ports/usecase"
	"vidfab-pipeline/internal/infra/metrics"
)

var _ ports.ProgressStore = (*ProgressCache)(nil)

// ProgressCache keeps advisory per-job progress in Redis. Entries expire on
// their own; a missing entry just means "no progress reported".
type ProgressCache struct {
	client *Client
	ttl    time.Duration
}

func NewProgressCache(client *Client, ttl time.Duration) *ProgressCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ProgressCache{client: client, ttl: ttl}
}

func progressKey(jobKey string) string {
	return fmt.Sprintf("job_progress:%s", jobKey)
}

func (c *ProgressCache) SetProgress(ctx context.Context, jobKey string, p model.Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, progressKey(jobKey), data, c.ttl)
}

func (c *ProgressCache) GetProgress(ctx context.Context, jobKey string) (*model.Progress, error) {
	raw, err := c.client.Get(ctx, progressKey(jobKey))
	if err != nil {
		if IsNil(err) {
			metrics.IncCacheRequest("progress", "miss")
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	metrics.IncCacheRequest("progress", "hit")
	var p model.Progress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
