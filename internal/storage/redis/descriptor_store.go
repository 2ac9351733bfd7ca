package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goodtune/ktrack/internal/model"
	"github.com/goodtune/ktrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

var saveDescriptor = redis.NewScript(saveDescriptorScript)

type descriptorStore struct {
	client *redis.Client
	now    func() time.Time
}

// Save mirrors the descriptor through the monotonic guard script
func (s *descriptorStore) Save(ctx context.Context, d model.Descriptor) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}

	keys := []string{keyDescriptor}
	args := []interface{}{
		d.ID,
		d.TotalPauseDuration,
		string(payload),
		s.now().UTC().Format(time.RFC3339Nano),
	}

	err = saveDescriptor.Run(ctx, s.client, keys, args...).Err()
	if isStaleReply(err) {
		return fmt.Errorf("%w: session %s (%v)", storage.ErrStaleDescriptor, d.ID, err)
	}
	return err
}

// Current returns the mirrored descriptor
func (s *descriptorStore) Current(ctx context.Context) (*storage.MirroredDescriptor, error) {
	data, err := s.client.HGetAll(ctx, keyDescriptor).Result()
	if err != nil {
		return nil, err
	}
	return parseMirroredDescriptor(data)
}

// Clear removes the mirrored descriptor
func (s *descriptorStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, keyDescriptor).Err()
}
