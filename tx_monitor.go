package apikit

import (
	"sync"
	"time"
)

// TransactionMetrics provides transaction performance and failure statistics.
type TransactionMetrics struct {
	TotalTransactions      int64         `json:"total_transactions"`
	SuccessfulTransactions int64         `json:"successful_transactions"`
	FailedTransactions     int64         `json:"failed_transactions"`
	AverageDuration        time.Duration `json:"average_duration"`
	MaxDuration            time.Duration `json:"max_duration"`
	MinDuration            time.Duration `json:"min_duration"`
	LastReset              time.Time     `json:"last_reset"`
}

// FailureRate returns the share of failed transactions.
func (m TransactionMetrics) FailureRate() float64 {
	if m.TotalTransactions == 0 {
		return 0
	}
	return float64(m.FailedTransactions) / float64(m.TotalTransactions)
}

// transactionMonitor accumulates transaction outcomes for a Database and its
// data contexts' Save calls.
type transactionMonitor struct {
	mu            sync.Mutex
	total         int64
	success       int64
	failure       int64
	totalDuration time.Duration
	maxDuration   time.Duration
	minDuration   time.Duration
	lastReset     time.Time
}

func newTransactionMonitor() *transactionMonitor {
	return &transactionMonitor{lastReset: time.Now()}
}

func (tm *transactionMonitor) recordTransaction(duration time.Duration, success bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.total++
	tm.totalDuration += duration
	if success {
		tm.success++
	} else {
		tm.failure++
	}
	if duration > tm.maxDuration {
		tm.maxDuration = duration
	}
	if tm.total == 1 || duration < tm.minDuration {
		tm.minDuration = duration
	}
}

func (tm *transactionMonitor) getMetrics() TransactionMetrics {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	var avg time.Duration
	if tm.total > 0 {
		avg = tm.totalDuration / time.Duration(tm.total)
	}
	return TransactionMetrics{
		TotalTransactions:      tm.total,
		SuccessfulTransactions: tm.success,
		FailedTransactions:     tm.failure,
		AverageDuration:        avg,
		MaxDuration:            tm.maxDuration,
		MinDuration:            tm.minDuration,
		LastReset:              tm.lastReset,
	}
}

func (tm *transactionMonitor) reset() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.total, tm.success, tm.failure = 0, 0, 0
	tm.totalDuration, tm.maxDuration, tm.minDuration = 0, 0, 0
	tm.lastReset = time.Now()
}

// healthy applies the thresholds once there is enough data to judge.
func (tm *transactionMonitor) healthy() bool {
	m := tm.getMetrics()
	if m.TotalTransactions < 10 {
		return true
	}
	return m.FailureRate() < 0.05 && m.AverageDuration < time.Second
}
