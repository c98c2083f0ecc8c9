package retry

import (
	"sync/atomic"
	"time"
)

// retryStats provides thread-safe coordinator metrics using atomic operations.
type retryStats struct {
	totalAttempts           atomic.Int64 // Attempts across all executions
	successfulFirstAttempts atomic.Int64 // Executions that succeeded on attempt 1
	successfulRetries       atomic.Int64 // Executions that succeeded after retry
	failedExecutions        atomic.Int64 // Executions that ended in failure
	circuitRejections       atomic.Int64 // Executions rejected by an open circuit
	maxBackoff              atomic.Int64 // Longest backoff in nanoseconds
}

// Stats is a snapshot of coordinator activity.
type Stats struct {
	// TotalAttempts is the number of attempts made, including retries.
	TotalAttempts int64 `json:"total_attempts"`
	// SuccessfulFirstAttempts counts executions that needed no retry.
	SuccessfulFirstAttempts int64 `json:"successful_first_attempts"`
	// SuccessfulRetries counts executions that succeeded only after retrying.
	SuccessfulRetries int64 `json:"successful_retries"`
	// FailedExecutions counts executions that returned a failing outcome
	// after at least one attempt.
	FailedExecutions int64 `json:"failed_executions"`
	// CircuitRejections counts executions that made no attempt because the
	// circuit was open or another instance held the probe.
	CircuitRejections int64 `json:"circuit_rejections"`
	// AverageAttempts is the average number of attempts per attempted execution.
	AverageAttempts float64 `json:"average_attempts"`
	// MaxBackoff is the longest backoff applied.
	MaxBackoff time.Duration `json:"max_backoff"`
}

// recordBackoff tracks the longest backoff with a CAS loop.
func (s *retryStats) recordBackoff(backoff time.Duration) {
	nanos := backoff.Nanoseconds()
	for {
		current := s.maxBackoff.Load()
		if nanos <= current {
			return
		}
		if s.maxBackoff.CompareAndSwap(current, nanos) {
			return
		}
	}
}

// Stats returns a snapshot of the coordinator statistics.
func (c *Coordinator) Stats() Stats {
	totalAttempts := c.stats.totalAttempts.Load()
	first := c.stats.successfulFirstAttempts.Load()
	retried := c.stats.successfulRetries.Load()
	failed := c.stats.failedExecutions.Load()

	averageAttempts := 1.0
	if executions := first + retried + failed; executions > 0 {
		averageAttempts = float64(totalAttempts) / float64(executions)
	}

	return Stats{
		TotalAttempts:           totalAttempts,
		SuccessfulFirstAttempts: first,
		SuccessfulRetries:       retried,
		FailedExecutions:        failed,
		CircuitRejections:       c.stats.circuitRejections.Load(),
		AverageAttempts:         averageAttempts,
		MaxBackoff:              time.Duration(c.stats.maxBackoff.Load()),
	}
}
