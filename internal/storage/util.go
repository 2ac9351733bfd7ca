package storage

import (
	"fmt"
	"os"

	"github.com/goodtune/ktrack/internal/model"
)

// EnsureDir ensures a directory exists with default permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// CheckMonotonic rejects next when it describes the same session as stored
// but with less accumulated pause time. Descriptors of a different session
// always replace the stored one.
func CheckMonotonic(stored *model.Descriptor, next model.Descriptor) error {
	if stored == nil || stored.ID != next.ID {
		return nil
	}
	if next.TotalPauseDuration < stored.TotalPauseDuration {
		return fmt.Errorf("%w: session %s total_pause_duration %d < stored %d",
			ErrStaleDescriptor, next.ID, next.TotalPauseDuration, stored.TotalPauseDuration)
	}
	return nil
}
