// Package telemetry receives the OTLP telemetry emitted by the generation engine
// and folds it into a per-generation usage snapshot that is broadcast to observers.
package telemetry

import (
	"maps"
	"time"
)

// Progress stages.
const (
	StageInit       = "init"
	StageProcessing = "processing"
	StageComplete   = "complete"
)

// Snapshot is the aggregated usage and cost of the current generation.
type Snapshot struct {
	TokensInput         uint64            `json:"tokens_input"`
	TokensOutput        uint64            `json:"tokens_output"`
	TokensTotal         uint64            `json:"tokens_total"`
	CacheReadTokens     *uint64           `json:"cache_read_tokens"`
	CacheCreationTokens *uint64           `json:"cache_creation_tokens"`
	CostUSD             float64           `json:"cost_usd"`
	ToolUsage           map[string]uint64 `json:"tool_usage"`
	ActiveTimeMS        uint64            `json:"active_time_ms"`
	LastUpdate          *time.Time        `json:"last_update"`
}

// NewSnapshot returns the zero snapshot.
func NewSnapshot() Snapshot {
	return Snapshot{ToolUsage: make(map[string]uint64)}
}

// Clone returns a deep copy that shares no memory with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.ToolUsage = make(map[string]uint64, len(s.ToolUsage))
	maps.Copy(out.ToolUsage, s.ToolUsage)
	if s.CacheReadTokens != nil {
		v := *s.CacheReadTokens
		out.CacheReadTokens = &v
	}
	if s.CacheCreationTokens != nil {
		v := *s.CacheCreationTokens
		out.CacheCreationTokens = &v
	}
	if s.LastUpdate != nil {
		t := *s.LastUpdate
		out.LastUpdate = &t
	}
	return out
}

// apply folds one request's usage into the snapshot. tokens_total is always
// recomputed from input and output.
func (s *Snapshot) apply(u usage) {
	s.TokensInput += u.InputTokens
	s.TokensOutput += u.OutputTokens
	s.TokensTotal = s.TokensInput + s.TokensOutput
	s.CostUSD += u.CostUSD

	if s.CacheReadTokens == nil {
		s.CacheReadTokens = new(uint64)
	}
	if s.CacheCreationTokens == nil {
		s.CacheCreationTokens = new(uint64)
	}
	*s.CacheReadTokens += u.CacheReadTokens
	*s.CacheCreationTokens += u.CacheCreationTokens
}

// ProgressEvent is one step of generation progress delivered to observers.
type ProgressEvent struct {
	Stage      string    `json:"stage"`
	Message    string    `json:"message"`
	Percentage uint8     `json:"percentage"`
	Telemetry  *Snapshot `json:"telemetry"`
}
