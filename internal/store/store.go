// Package store persists idle volume lifecycle state and region bootstrap
// markers across invocations.
package store

import (
	"context"
	"errors"
	"time"
)

// State is a volume's position in the idle volume lifecycle.
type State string

// Lifecycle states.
const (
	StateIgnored         State = "ignored"
	StatePendingSnapshot State = "pending_snapshot"
	StatePendingDelete   State = "pending_delete"
	StateDeleted         State = "deleted"
	StateRetained        State = "retained"
	StateSnapshotFailed  State = "snapshot_failed"
)

// Terminal reports whether no further transitions are expected.
func (s State) Terminal() bool {
	switch s {
	case StateDeleted, StateRetained:
		return true
	}
	return false
}

// ErrNotFound is returned when no record exists.
var ErrNotFound = errors.New("record not found")

// VolumeRecord is the durable lifecycle record for one volume.
type VolumeRecord struct {
	VolumeID         string    `json:"volume_id" dynamodbav:"volume_id"`
	Region           string    `json:"region" dynamodbav:"region"`
	State            State     `json:"state" dynamodbav:"state"`
	DeleteAuthorized bool      `json:"delete_authorized" dynamodbav:"delete_authorized"`
	SnapshotID       string    `json:"snapshot_id,omitempty" dynamodbav:"snapshot_id,omitempty"`
	Reason           string    `json:"reason,omitempty" dynamodbav:"reason,omitempty"`
	UpdatedAt        time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// Store persists lifecycle records. Implementations must be safe for
// concurrent use.
type Store interface {
	// GetVolume returns the record for a volume, or ErrNotFound.
	GetVolume(ctx context.Context, region, volumeID string) (*VolumeRecord, error)

	// PutVolume creates or replaces a volume record.
	PutVolume(ctx context.Context, rec *VolumeRecord) error

	// RegionConfigured reports whether region bootstrap has completed.
	RegionConfigured(ctx context.Context, region string) (bool, error)

	// MarkRegionConfigured records completed bootstrap. It is create-if-absent;
	// an existing marker is not an error.
	MarkRegionConfigured(ctx context.Context, region, topicARN string) error

	// Close releases resources.
	Close() error
}

// Lister is implemented by stores that can enumerate volume records.
type Lister interface {
	ListVolumes(ctx context.Context) ([]VolumeRecord, error)
}

// Nop is a Store that keeps nothing. Lookups miss and writes succeed, so
// callers fall back to snapshot tags.
type Nop struct{}

// GetVolume implements Store.
func (Nop) GetVolume(context.Context, string, string) (*VolumeRecord, error) {
	return nil, ErrNotFound
}

// PutVolume implements Store.
func (Nop) PutVolume(context.Context, *VolumeRecord) error { return nil }

// RegionConfigured implements Store.
func (Nop) RegionConfigured(context.Context, string) (bool, error) { return false, nil }

// MarkRegionConfigured implements Store.
func (Nop) MarkRegionConfigured(context.Context, string, string) error { return nil }

// Close implements Store.
func (Nop) Close() error { return nil }

func volumeKey(region, volumeID string) string {
	return region + "/" + volumeID
}
