package redis

import (
	"context"
	"time"

	"github.com/goodtune/ktrack/internal/model"
	"github.com/redis/go-redis/v9"
)

type consentStore struct {
	client *redis.Client
	now    func() time.Time
}

// Save stores the consent record
func (s *consentStore) Save(ctx context.Context, rec model.ConsentRecord) error {
	if rec.ChangedAt.IsZero() {
		rec.ChangedAt = s.now().UTC()
	}

	return s.client.HSet(ctx, keyConsent, map[string]interface{}{
		"state":      string(rec.State),
		"source":     rec.Source,
		"changed_at": rec.ChangedAt.Format(time.RFC3339Nano),
	}).Err()
}

// Load returns the stored consent record
func (s *consentStore) Load(ctx context.Context) (*model.ConsentRecord, error) {
	data, err := s.client.HGetAll(ctx, keyConsent).Result()
	if err != nil {
		return nil, err
	}
	return parseConsentRecord(data)
}
