package storage

import (
	"fmt"
	"strings"
)

// NewStore opens the checkpoint store named by kind. An empty kind means the
// in-process memory store; sqlitePath is only read by the sqlite backend.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported checkpoint store: %q (want memory or sqlite)", kind)
	}
}

// CloseIfSupported releases stores that hold resources, such as an open
// database handle.
func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
