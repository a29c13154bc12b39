package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Payload is the opaque key/value bundle carried by a [QueuedMutation].
//
// Values round-trip through JSON, so numbers come back as float64; use the typed getters.
type Payload map[string]any

// String returns the string value at key.
func (p Payload) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int returns the integer value at key, accepting the numeric forms JSON decoding produces.
func (p Payload) Int(key string) (int, bool) {
	switch v := p[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

// QueuedMutation is a persisted, retryable remote write that previously failed.
type QueuedMutation struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Payload    Payload   `json:"payload"`
	EnqueuedAt time.Time `json:"enqueuedAt"`

	Attempts      int        `json:"attempts,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
}

// Validate checks that the mutation can be stored.
func (m QueuedMutation) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("mutation id is required")
	}
	if m.Kind == "" {
		return fmt.Errorf("mutation %s: kind is required", m.ID)
	}
	return nil
}

// Mutation kinds for progress updates, one per media kind.
const (
	MutationVideoProgress = "tracker.progress.video"
	MutationTextProgress  = "tracker.progress.text"
)

// ProgressMutationKind returns the mutation kind used to replay a progress update for kind.
func ProgressMutationKind(kind MediaKind) string {
	if kind == MediaText {
		return MutationTextProgress
	}
	return MutationVideoProgress
}

// Payload keys of progress mutations.
const (
	PayloadEntryID  = "entryId"
	PayloadRemoteID = "remoteId"
	PayloadProgress = "progress"
	PayloadStatus   = "status"
)

// SyncPass is an audit record of one push, pull or drain pass.
type SyncPass struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	Success   int       `json:"success"`
	Failed    int       `json:"failed"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
