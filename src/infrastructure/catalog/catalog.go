// Package catalog records ingestion runs and the snapshots they published.
package catalog

import (
	"context"
	"time"
)

// Status defines the lifecycle state of a snapshot
type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// Snapshot is the catalog record of one ingestion run
type Snapshot struct {
	RequestID  string    `gorm:"primaryKey;size:36" json:"requestId"`
	ParentID   string    `gorm:"size:36" json:"parentId,omitempty"`
	Backend    string    `gorm:"index;size:32" json:"backend"`
	Metric     string    `gorm:"size:16" json:"metric"`
	Dimension  int       `json:"dimension"`
	SourceName string    `json:"sourceName"`
	Chunks     int       `json:"chunks"`
	Embedded   int       `json:"embedded"`
	Skipped    int       `json:"skipped"`
	Status     Status    `gorm:"index;size:16" json:"status"`
	Error      *string   `json:"error,omitempty"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Repository defines the interface for snapshot persistence.
//
// Get returns rag.ErrSnapshotNotFound for an unknown id. Latest returns the newest published
// snapshot of backend, or of any backend when backend is empty.
type Repository interface {
	Create(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context, requestID string) (*Snapshot, error)
	UpdateStatus(ctx context.Context, requestID string, status Status, err *string) error
	Latest(ctx context.Context, backend string) (*Snapshot, error)
	List(ctx context.Context, offset, limit int) ([]Snapshot, int64, error)
}
