package validation

import (
	"sync"
	"time"
)

// DefaultErrorSampleLimit bounds the retained error samples.
const DefaultErrorSampleLimit = 50

// ErrorSample is the detail kept for one rejected record.
type ErrorSample struct {
	Source     string    `json:"source"`
	RecordID   string    `json:"recordId,omitempty"`
	Errors     []string  `json:"errors"`
	RecordedAt time.Time `json:"recordedAt"`
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	TotalProcessed int64            `json:"totalProcessed"`
	Valid          int64            `json:"valid"`
	Invalid        int64            `json:"invalid"`
	Normalized     int64            `json:"normalized"`
	SuccessRate    float64          `json:"successRate"`
	BySource       map[string]int64 `json:"bySource"`
	ErrorSamples   []ErrorSample    `json:"errorSamples"`
	Since          time.Time        `json:"since"`
}

// Stats accumulates validation counters across all callers. Normalized
// counts valid records that needed at least one correction.
type Stats struct {
	mu          sync.Mutex
	sampleLimit int
	processed   int64
	valid       int64
	invalid     int64
	normalized  int64
	bySource    map[string]int64
	samples     []ErrorSample
	since       time.Time
}

// NewStats returns an empty collector keeping at most sampleLimit error
// samples, oldest dropped first.
func NewStats(sampleLimit int) *Stats {
	if sampleLimit <= 0 {
		sampleLimit = DefaultErrorSampleLimit
	}
	return &Stats{
		sampleLimit: sampleLimit,
		bySource:    make(map[string]int64),
		since:       time.Now().UTC(),
	}
}

// Record folds one outcome into the counters.
func (s *Stats) Record(out Outcome, source, recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processed++
	s.bySource[source]++
	if out.IsValid {
		s.valid++
		if len(out.Warnings) > 0 {
			s.normalized++
		}
		return
	}

	s.invalid++
	msgs := make([]string, 0, len(out.Errors))
	for _, e := range out.Errors {
		msgs = append(msgs, e.String())
	}
	if len(s.samples) >= s.sampleLimit {
		s.samples = append(s.samples[:0], s.samples[1:]...)
	}
	s.samples = append(s.samples, ErrorSample{
		Source:     source,
		RecordID:   recordID,
		Errors:     msgs,
		RecordedAt: time.Now().UTC(),
	})
}

// GetStats returns a snapshot of the counters.
func (s *Stats) GetStats() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		TotalProcessed: s.processed,
		Valid:          s.valid,
		Invalid:        s.invalid,
		Normalized:     s.normalized,
		BySource:       make(map[string]int64, len(s.bySource)),
		ErrorSamples:   make([]ErrorSample, len(s.samples)),
		Since:          s.since,
	}
	if s.processed > 0 {
		snap.SuccessRate = float64(s.valid) / float64(s.processed)
	}
	for k, v := range s.bySource {
		snap.BySource[k] = v
	}
	copy(snap.ErrorSamples, s.samples)
	return snap
}

// ResetStats zeroes every counter and drops the samples.
func (s *Stats) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processed = 0
	s.valid = 0
	s.invalid = 0
	s.normalized = 0
	s.bySource = make(map[string]int64)
	s.samples = nil
	s.since = time.Now().UTC()
}
