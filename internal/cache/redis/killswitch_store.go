package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/quantbay/hedgedesk/internal/domain"
)

const killSwitchKey = "hedgedesk:killswitch"

// KillSwitchStore persists the kill-switch state as a JSON blob so an active
// halt survives a process restart. It implements domain.KillSwitchStore.
type KillSwitchStore struct {
	rdb *redis.Client
}

// NewKillSwitchStore creates a KillSwitchStore backed by the given Client.
func NewKillSwitchStore(c *Client) *KillSwitchStore {
	return &KillSwitchStore{rdb: c.Underlying()}
}

// Load reads the persisted state. The second return value is false when no
// state has ever been saved.
func (ks *KillSwitchStore) Load(ctx context.Context) (domain.KillSwitchState, bool, error) {
	data, err := ks.rdb.Get(ctx, killSwitchKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.KillSwitchState{}, false, nil
		}
		return domain.KillSwitchState{}, false, fmt.Errorf("redis: load kill switch: %w", err)
	}

	var state domain.KillSwitchState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.KillSwitchState{}, false, fmt.Errorf("redis: decode kill switch: %w", err)
	}
	return state, true, nil
}

// Save overwrites the persisted state. The key has no TTL: a halt stays in
// force until an operator resets it.
func (ks *KillSwitchStore) Save(ctx context.Context, state domain.KillSwitchState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("redis: encode kill switch: %w", err)
	}
	if err := ks.rdb.Set(ctx, killSwitchKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: save kill switch: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.KillSwitchStore = (*KillSwitchStore)(nil)
