package redis

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/ktrack/internal/model"
	"github.com/goodtune/ktrack/internal/storage"
)

// parseMirroredDescriptor converts a Redis hash to MirroredDescriptor
func parseMirroredDescriptor(data map[string]string) (*storage.MirroredDescriptor, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	var d model.Descriptor
	if err := json.Unmarshal([]byte(data["payload"]), &d); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}

	savedAt, err := time.Parse(time.RFC3339Nano, data["saved_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse saved_at: %w", err)
	}

	return &storage.MirroredDescriptor{Descriptor: d, SavedAt: savedAt}, nil
}

// parseConsentRecord converts a Redis hash to ConsentRecord
func parseConsentRecord(data map[string]string) (*model.ConsentRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	changedAt, err := time.Parse(time.RFC3339Nano, data["changed_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse changed_at: %w", err)
	}

	return &model.ConsentRecord{
		State:     model.ConsentState(data["state"]),
		Source:    data["source"],
		ChangedAt: changedAt,
	}, nil
}

func isStaleReply(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "STALE")
}
