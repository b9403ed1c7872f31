package model

// TimestampLayout is fixed width so stored timestamps sort lexically in time
// order.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Parameter is one learnable array, stored row-major.
type Parameter struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Checkpoint is everything needed to rebuild a background: the registry tag,
// the config sub-tree it was built from and its learned parameters.
type Checkpoint struct {
	VersionedRecord
	ID           string         `json:"id"`
	Background   string         `json:"background"`
	Config       map[string]any `json:"config"`
	Seed         int64          `json:"seed"`
	Parameters   []Parameter    `json:"parameters"`
	CreatedAtUTC string         `json:"created_at_utc"`
}

type CheckpointSummary struct {
	ID             string `json:"id"`
	Background     string `json:"background"`
	ParameterCount int    `json:"parameter_count"`
	CreatedAtUTC   string `json:"created_at_utc"`
}

// Summary counts scalar parameters across every array.
func (c Checkpoint) Summary() CheckpointSummary {
	count := 0
	for _, p := range c.Parameters {
		count += len(p.Data)
	}
	return CheckpointSummary{
		ID:             c.ID,
		Background:     c.Background,
		ParameterCount: count,
		CreatedAtUTC:   c.CreatedAtUTC,
	}
}
