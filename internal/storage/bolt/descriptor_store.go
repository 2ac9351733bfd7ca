package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/ktrack/internal/model"
	"github.com/goodtune/ktrack/internal/storage"
	"go.etcd.io/bbolt"
)

type descriptorStore struct {
	db  *bbolt.DB
	now func() time.Time
}

// Save replaces the mirrored descriptor unless it would move the same
// session's pause total backwards.
func (s *descriptorStore) Save(ctx context.Context, d model.Descriptor) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDescriptors))
		if b == nil {
			return fmt.Errorf("descriptors bucket missing")
		}

		if existing := b.Get([]byte(keyCurrent)); existing != nil {
			var stored storage.MirroredDescriptor
			if err := unmarshal(existing, &stored); err != nil {
				return err
			}
			if err := storage.CheckMonotonic(&stored.Descriptor, d); err != nil {
				return err
			}
		}

		data, err := marshal(storage.MirroredDescriptor{Descriptor: d, SavedAt: s.now().UTC()})
		if err != nil {
			return err
		}
		return b.Put([]byte(keyCurrent), data)
	})
}

func (s *descriptorStore) Current(ctx context.Context) (*storage.MirroredDescriptor, error) {
	return getBucketValue[storage.MirroredDescriptor](ctx, s.db, bucketDescriptors, keyCurrent)
}

func (s *descriptorStore) Clear(ctx context.Context) error {
	return deleteBucketValue(ctx, s.db, bucketDescriptors, keyCurrent)
}
