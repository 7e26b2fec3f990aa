package matching

import (
	"sync"

	"github.com/davidpt/incentive-matcher/internal/funding"
)

// SkippedIncentive records why an incentive produced no matches.
type SkippedIncentive struct {
	IncentiveID int64  `json:"incentive_id"`
	Title       string `json:"title"`
	Reason      string `json:"reason"`
}

// Report collects per-run observability data. It is informational only and
// not part of the engine's correctness contract.
type Report struct {
	mu        sync.Mutex
	skipped   []SkippedIncentive
	persisted int
}

func NewReport() *Report {
	return &Report{}
}

func (r *Report) skip(incentive *funding.Incentive, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = append(r.skipped, SkippedIncentive{
		IncentiveID: incentive.ID,
		Title:       incentive.Title,
		Reason:      reason,
	})
}

func (r *Report) addPersisted(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persisted += n
}

// Skipped returns a copy of the skip records.
func (r *Report) Skipped() []SkippedIncentive {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SkippedIncentive, len(r.skipped))
	copy(out, r.skipped)
	return out
}

// Persisted returns the number of match rows written during the run.
func (r *Report) Persisted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persisted
}
