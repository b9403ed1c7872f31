package storage

import (
	"context"

	"neuralenv/internal/model"
)

// Store persists background checkpoints keyed by checkpoint ID.
type Store interface {
	Init(ctx context.Context) error
	SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (model.Checkpoint, bool, error)
	ListCheckpoints(ctx context.Context) ([]model.CheckpointSummary, error)
	DeleteCheckpoint(ctx context.Context, id string) (bool, error)
}
