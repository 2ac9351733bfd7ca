package storage

import (
	"context"
	"errors"

	"github.com/goodtune/ktrack/internal/model"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrStaleDescriptor is returned when saving a descriptor of the current
// session whose cumulative pause duration is smaller than the stored one.
var ErrStaleDescriptor = errors.New("storage: stale descriptor")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Descriptors() DescriptorStore
	Consent() ConsentStore
}

// DescriptorStore mirrors the last observed session descriptor so a restarted
// host can reconcile the running timer.
type DescriptorStore interface {
	Save(ctx context.Context, d model.Descriptor) error
	Current(ctx context.Context) (*MirroredDescriptor, error)
	Clear(ctx context.Context) error
}

// ConsentStore persists the consent gate state with its provenance.
type ConsentStore interface {
	Save(ctx context.Context, rec model.ConsentRecord) error
	Load(ctx context.Context) (*model.ConsentRecord, error)
}
