// Package checkpoint provides the persistent per-node execution status that
// makes interrupted sessions resumable.
//
// The store is a single structured file. All mutations are read-modify-write
// cycles serialized by an advisory file lock, and every write is atomic and
// durable (file sync + atomic rename + dir sync), so a crash mid-write can
// never leave a record that a later reader could misread as done.
package checkpoint

import (
	"fmt"
	"time"
)

// Status is the persisted execution status of one workflow node.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status is an end state for a session.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// allowedTransition encodes the status lifecycle.
//
// pending -> running -> {done, failed}. A failed node may re-enter running
// (that is what --resume does after a fix). done is monotonic: nothing moves
// a node out of done short of an explicit reset, which deletes the record.
func allowedTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusDone || to == StatusFailed
	case StatusFailed:
		return to == StatusRunning
	default:
		return false
	}
}

// Record is the persisted status for one workflow id.
type Record struct {
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is the full content of the checkpoint file: one session's
// identity plus the map of workflow id to record.
type Snapshot struct {
	SessionID string            `json:"session_id"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Records   map[string]Record `json:"records"`
}

// Get returns the status for a workflow id, defaulting to pending when no
// record exists. The default deliberately fails open to "not yet run" and
// never to done.
func (s Snapshot) Get(id string) Status {
	if r, ok := s.Records[id]; ok {
		return r.Status
	}
	return StatusPending
}

// Statuses returns the per-node status map, with absent ids omitted.
func (s Snapshot) Statuses() map[string]Status {
	out := make(map[string]Status, len(s.Records))
	for id, r := range s.Records {
		out[id] = r.Status
	}
	return out
}

func (s Snapshot) validate() error {
	if s.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	for id, r := range s.Records {
		switch r.Status {
		case StatusPending, StatusRunning, StatusDone, StatusFailed:
		default:
			return fmt.Errorf("record %q: invalid status %q", id, r.Status)
		}
		if r.UpdatedAt.IsZero() {
			return fmt.Errorf("record %q: updated_at is required", id)
		}
	}
	return nil
}
