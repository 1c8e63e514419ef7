package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Repository keeps one staging table per session in Redis as a JSON document.
type Repository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRepository constructs Repository; tables expire after ttl of inactivity.
func NewRepository(client *redis.Client, ttl time.Duration) *Repository {
	return &Repository{client: client, ttl: ttl}
}

// Load returns the session's table or ErrNoTable.
func (r *Repository) Load(ctx context.Context, sessionID string) (Table, error) {
	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Table{}, ErrNoTable
		}
		return Table{}, fmt.Errorf("staging: load table: %w", err)
	}
	var table Table
	if err := json.Unmarshal(data, &table); err != nil {
		return Table{}, fmt.Errorf("staging: decode table: %w", err)
	}
	return table, nil
}

// Save stores table; an empty table is deleted instead.
func (r *Repository) Save(ctx context.Context, sessionID string, table Table) error {
	if table.Empty() {
		return r.Delete(ctx, sessionID)
	}
	data, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("staging: encode table: %w", err)
	}
	if err := r.client.Set(ctx, r.key(sessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("staging: save table: %w", err)
	}
	return nil
}

// Delete removes the session's table.
func (r *Repository) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("staging: delete table: %w", err)
	}
	return nil
}

func (r *Repository) key(sessionID string) string {
	return "sitestock:staging:" + sessionID
}
