package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"neuralenv/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	checkpoints map[string]model.Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.checkpoints = make(map[string]model.Checkpoint)
	return nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, checkpoint model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	if checkpoint.ID == "" {
		return errors.New("checkpoint id is required")
	}
	s.checkpoints[checkpoint.ID] = cloneCheckpoint(checkpoint)
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, id string) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.Checkpoint{}, false, errNotInitialized
	}
	checkpoint, ok := s.checkpoints[id]
	if !ok {
		return model.Checkpoint{}, false, nil
	}
	return cloneCheckpoint(checkpoint), true, nil
}

func (s *MemoryStore) ListCheckpoints(_ context.Context) ([]model.CheckpointSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, errNotInitialized
	}
	out := make([]model.CheckpointSummary, 0, len(s.checkpoints))
	for _, checkpoint := range s.checkpoints {
		out = append(out, checkpoint.Summary())
	}
	sortSummaries(out)
	return out, nil
}

func (s *MemoryStore) DeleteCheckpoint(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return false, errNotInitialized
	}
	_, ok := s.checkpoints[id]
	delete(s.checkpoints, id)
	return ok, nil
}

// sortSummaries orders oldest first; IDs break ties.
func sortSummaries(items []model.CheckpointSummary) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAtUTC != items[j].CreatedAtUTC {
			return items[i].CreatedAtUTC < items[j].CreatedAtUTC
		}
		return items[i].ID < items[j].ID
	})
}

func cloneCheckpoint(c model.Checkpoint) model.Checkpoint {
	out := c
	out.Parameters = make([]model.Parameter, len(c.Parameters))
	for i, p := range c.Parameters {
		out.Parameters[i] = model.Parameter{
			Name:  p.Name,
			Shape: append([]int(nil), p.Shape...),
			Data:  append([]float64(nil), p.Data...),
		}
	}
	out.Config = cloneTree(c.Config)
	return out
}

func cloneTree(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneTree(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneAny(item)
		}
		return out
	case []float64:
		return append([]float64(nil), x...)
	default:
		return v
	}
}
