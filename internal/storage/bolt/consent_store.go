package bolt

import (
	"context"
	"time"

	"github.com/goodtune/ktrack/internal/model"
	"go.etcd.io/bbolt"
)

type consentStore struct {
	db  *bbolt.DB
	now func() time.Time
}

func (s *consentStore) Save(ctx context.Context, rec model.ConsentRecord) error {
	if rec.ChangedAt.IsZero() {
		rec.ChangedAt = s.now().UTC()
	}
	return putBucketValue(ctx, s.db, bucketConsent, keyRecord, rec)
}

func (s *consentStore) Load(ctx context.Context) (*model.ConsentRecord, error) {
	return getBucketValue[model.ConsentRecord](ctx, s.db, bucketConsent, keyRecord)
}
