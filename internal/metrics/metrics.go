package metrics

import (
	"sync/atomic"
	"time"
)

// Recorder receives engine and reconciliation measurements. Implementations
// must be safe for concurrent use.
type Recorder interface {
	Transaction(d time.Duration)
	TransactionError()
	Duplicate()
	Reconciliation()
	ReconciliationFailure()
}

// Snapshot is a point-in-time view of the in-process counters.
type Snapshot struct {
	Transactions           int64         `json:"transactions"`
	TransactionErrors      int64         `json:"transaction_errors"`
	Duplicates             int64         `json:"duplicates"`
	Reconciliations        int64         `json:"reconciliations"`
	ReconciliationFailures int64         `json:"reconciliation_failures"`
	TotalPostingTime       time.Duration `json:"total_posting_time_ns"`
}

// InProcess counts events with atomics and exposes them via Snapshot for the
// health and metrics endpoints.
type InProcess struct {
	transactions           atomic.Int64
	transactionErrors      atomic.Int64
	duplicates             atomic.Int64
	reconciliations        atomic.Int64
	reconciliationFailures atomic.Int64
	postingNanos           atomic.Int64
}

// NewInProcess builds an empty in-process recorder.
func NewInProcess() *InProcess { return &InProcess{} }

func (m *InProcess) Transaction(d time.Duration) {
	m.transactions.Add(1)
	m.postingNanos.Add(int64(d))
}

func (m *InProcess) TransactionError()      { m.transactionErrors.Add(1) }
func (m *InProcess) Duplicate()             { m.duplicates.Add(1) }
func (m *InProcess) Reconciliation()        { m.reconciliations.Add(1) }
func (m *InProcess) ReconciliationFailure() { m.reconciliationFailures.Add(1) }

// Snapshot copies the current counter values.
func (m *InProcess) Snapshot() Snapshot {
	return Snapshot{
		Transactions:           m.transactions.Load(),
		TransactionErrors:      m.transactionErrors.Load(),
		Duplicates:             m.duplicates.Load(),
		Reconciliations:        m.reconciliations.Load(),
		ReconciliationFailures: m.reconciliationFailures.Load(),
		TotalPostingTime:       time.Duration(m.postingNanos.Load()),
	}
}

// Nop drops all measurements. Useful for tests.
type Nop struct{}

func (Nop) Transaction(time.Duration) {}
func (Nop) TransactionError()         {}
func (Nop) Duplicate()                {}
func (Nop) Reconciliation()           {}
func (Nop) ReconciliationFailure()    {}
