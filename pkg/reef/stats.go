package reef

import (
	"sync"
)

// ProcessingStatsGroup counts what happened to one named operation across
// a run: how many items started and finished, and how the finished ones
// broke down.
type ProcessingStatsGroup struct {
	NumStarts uint64
	NumEnds   uint64

	NumAdds    uint64
	NumDeletes uint64
	NumUpdates uint64
	NumErrors  uint64
}

// ProcessingStats aggregates per-operation counters. It is cheap to copy
// (the counters are shared) and safe for concurrent use, so a single value
// can be threaded through sources, builders, and sinks.
//
// Example:
//
//	stats := reef.NewProcessingStats()
//	stats.Update("embed", func(g *reef.ProcessingStatsGroup) { g.NumStarts++ })
type ProcessingStats struct {
	mu     *sync.Mutex
	groups map[string]*ProcessingStatsGroup
}

// NewProcessingStats returns an empty stats aggregate.
func NewProcessingStats() ProcessingStats {
	return ProcessingStats{
		mu:     &sync.Mutex{},
		groups: make(map[string]*ProcessingStatsGroup),
	}
}

// Update mutates the counter group for operationName, creating it on first
// use.
func (s ProcessingStats) Update(operationName string, mutator func(*ProcessingStatsGroup)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[operationName]
	if !ok {
		group = &ProcessingStatsGroup{}
		s.groups[operationName] = group
	}
	mutator(group)
}

// Snapshot returns a copy of all counter groups.
func (s ProcessingStats) Snapshot() map[string]ProcessingStatsGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ProcessingStatsGroup, len(s.groups))
	for name, g := range s.groups {
		out[name] = *g
	}
	return out
}
