package job

import (
	"sync"
	"time"
)

// Record captures the outcome of a single job.
type Record struct {
	Timestamp time.Time
	JobID     string
	Platform  string
	Outcome   Status
	// Stage is the build state the job ended in.
	Stage    string
	Duration time.Duration
}

// Summary provides aggregate job stats.
type Summary struct {
	TotalJobs     int
	Succeeded     int
	Failed        int
	TotalDuration time.Duration
	ByPlatform    map[string]*PlatformSummary
	ByStage       map[string]int
}

// PlatformSummary aggregates stats for a single platform.
type PlatformSummary struct {
	Jobs     int
	Failed   int
	Duration time.Duration
}

// Tracker records finished jobs and provides aggregated summaries.
// It is safe for concurrent use.
type Tracker struct {
	records []Record
	mu      sync.RWMutex
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Record stores the outcome of a job and returns the record.
func (t *Tracker) Record(jobID, platform, stage string, outcome Status, d time.Duration) *Record {
	rec := Record{
		Timestamp: time.Now(),
		JobID:     jobID,
		Platform:  platform,
		Outcome:   outcome,
		Stage:     stage,
		Duration:  d,
	}

	t.mu.Lock()
	t.records = append(t.records, rec)
	t.mu.Unlock()

	return &rec
}

// Summary returns an aggregated summary across all recorded jobs.
func (t *Tracker) Summary() *Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return buildSummary(t.records)
}

// SummaryForPlatform returns an aggregated summary filtered to a single
// platform.
func (t *Tracker) SummaryForPlatform(platform string) *Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	filtered := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		if r.Platform == platform {
			filtered = append(filtered, r)
		}
	}
	return buildSummary(filtered)
}

// Records returns a copy of all records.
func (t *Tracker) Records() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// Reset clears all records.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.records = nil
	t.mu.Unlock()
}

func buildSummary(records []Record) *Summary {
	s := &Summary{
		ByPlatform: make(map[string]*PlatformSummary),
		ByStage:    make(map[string]int),
	}

	for _, r := range records {
		s.TotalJobs++
		s.TotalDuration += r.Duration
		failed := r.Outcome == StatusFailed
		if failed {
			s.Failed++
		} else {
			s.Succeeded++
		}

		ps, ok := s.ByPlatform[r.Platform]
		if !ok {
			ps = &PlatformSummary{}
			s.ByPlatform[r.Platform] = ps
		}
		ps.Jobs++
		ps.Duration += r.Duration
		if failed {
			ps.Failed++
		}

		if r.Stage != "" {
			s.ByStage[r.Stage]++
		}
	}

	return s
}
