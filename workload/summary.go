package workload

import "time"

// LoadSummary aggregates one load run.
type LoadSummary struct {
	// TotalOperations counts attempted operations, OperationsPerCycle per cycle.
	TotalOperations int `json:"total_operations"`

	// Errors counts operations that failed after exhausting their retries.
	Errors int `json:"errors"`

	// SuccessRate is (TotalOperations-Errors)/TotalOperations*100, or 0 for an empty run.
	SuccessRate float64 `json:"success_rate"`

	// DurationSeconds is the wall-clock length of the run.
	DurationSeconds float64 `json:"duration_seconds"`
}

// NewLoadSummary builds the summary of a run.
func NewLoadSummary(operations, errs int, elapsed time.Duration) LoadSummary {
	var rate float64
	if operations > 0 {
		rate = float64(operations-errs) / float64(operations) * 100
	}
	return LoadSummary{
		TotalOperations: operations,
		Errors:          errs,
		SuccessRate:     rate,
		DurationSeconds: elapsed.Seconds(),
	}
}
