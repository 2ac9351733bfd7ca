package storage

import (
	"time"

	"github.com/goodtune/ktrack/internal/model"
)

// MirroredDescriptor is a stored descriptor together with when it was saved.
type MirroredDescriptor struct {
	Descriptor model.Descriptor `json:"descriptor"`
	SavedAt    time.Time        `json:"saved_at"`
}
